package desk

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"portcaisse/internal/domain"
)

// SetSearch changes the listing filter and reloads the first page once
// typing settles.
func (d *Desk) SetSearch(term string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.search = term
	d.page = 1
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)

	d.srchTime.Trigger(func() {
		_ = d.LoadPage(d.ctx, 1)
	})
}

// LoadPage fetches one page of the listing for the current filter. A result
// for a filter that has since changed is dropped.
func (d *Desk) LoadPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	d.mu.Lock()
	term := strings.TrimSpace(d.search)
	d.mu.Unlock()

	reqCtx, cancel := d.requestContext(ctx)
	defer cancel()

	result, err := d.deps.Payments.SearchPayments(reqCtx, domain.PaymentQuery{
		Search: term,
		Page:   page,
		Size:   d.cfg.PageSize,
	})
	if err != nil {
		if d.ctx.Err() != nil {
			return err
		}
		d.logger.Warn("payment search failed", zap.String("search", term), zap.Int("page", page), zap.Error(err))
		d.notify(LevelError, "payment search failed")
		return err
	}

	d.mu.Lock()
	if d.closed || strings.TrimSpace(d.search) != term {
		d.mu.Unlock()
		return nil
	}
	d.page = page
	d.listing = result
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)
	return nil
}

// NextPage and PrevPage move through the current listing.
func (d *Desk) NextPage(ctx context.Context) error {
	d.mu.Lock()
	page, size, total := d.page, d.cfg.PageSize, d.listing.Total
	d.mu.Unlock()
	if page*size >= total {
		return nil
	}
	return d.LoadPage(ctx, page+1)
}

func (d *Desk) PrevPage(ctx context.Context) error {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page <= 1 {
		return nil
	}
	return d.LoadPage(ctx, page-1)
}

package desk

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"portcaisse/internal/domain"
	"portcaisse/internal/form"
)

// SetReference records the settlement reference and schedules a uniqueness
// check once typing settles. A blank reference cancels any pending check.
func (d *Desk) SetReference(reference string) {
	d.update(func(s form.State) form.State { return form.SetReference(s, reference) })

	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		d.refTimer.Stop()
		return
	}
	d.refTimer.Trigger(func() { d.checkReference(trimmed) })
}

// CheckReferenceNow runs the uniqueness check for the current reference
// without waiting for the quiet period.
func (d *Desk) CheckReferenceNow(ctx context.Context) {
	d.refTimer.Stop()
	d.mu.Lock()
	trimmed := strings.TrimSpace(d.state.Entry.Reference)
	d.mu.Unlock()
	if trimmed == "" {
		return
	}
	d.runReferenceCheck(ctx, trimmed)
}

func (d *Desk) checkReference(reference string) {
	d.runReferenceCheck(d.ctx, reference)
}

func (d *Desk) runReferenceCheck(parent context.Context, reference string) {
	ctx, cancel := d.requestContext(parent)
	defer cancel()

	exists, err := d.deps.Payments.ReferenceExists(ctx, reference)
	if err != nil {
		if ctx.Err() != nil && d.ctx.Err() != nil {
			return
		}
		d.logger.Warn("reference check failed",
			zap.String("reference", reference),
			zap.Bool("fail_closed", d.cfg.FailClosed),
			zap.Error(err),
		)
		if d.cfg.FailClosed {
			if d.applyReference(reference, func(s form.State) form.State { return form.FlagDuplicate(s, nil) }) {
				d.notify(LevelWarning, "could not verify reference "+reference+", submission blocked")
			}
			return
		}
		if d.applyReference(reference, form.ClearDuplicate) {
			d.notify(LevelWarning, "could not verify reference "+reference)
		}
		return
	}

	if !exists {
		d.applyReference(reference, form.ClearDuplicate)
		return
	}

	d.mu.Lock()
	ownID := int64(0)
	if d.state.Mode == form.ModeEdit {
		ownID = d.state.Entry.PaiementID
	}
	d.mu.Unlock()

	payments, err := d.deps.Payments.ListPayments(ctx)
	if err != nil {
		d.logger.Warn("conflicting payment fetch failed",
			zap.String("reference", reference),
			zap.Error(err),
		)
		if d.applyReference(reference, func(s form.State) form.State { return form.FlagDuplicate(s, nil) }) {
			d.notify(LevelWarning, "reference "+reference+" is already used")
		}
		return
	}

	conflict, found := findConflict(payments, reference, ownID)
	if !found {
		// only the entry being edited carries this reference
		d.applyReference(reference, form.ClearDuplicate)
		return
	}
	if d.applyReference(reference, func(s form.State) form.State { return form.FlagDuplicate(s, conflict) }) {
		d.notify(LevelWarning, "reference "+reference+" is already used")
	}
}

// findConflict returns the first payment other than ownID whose reference
// matches. A match with ownID is skipped. found is false when only ownID
// matched.
func findConflict(payments []domain.PaymentEntry, reference string, ownID int64) (*domain.PaymentEntry, bool) {
	sawOwn := false
	for i := range payments {
		if strings.TrimSpace(payments[i].Reference) != reference {
			continue
		}
		if ownID != 0 && payments[i].PaiementID == ownID {
			sawOwn = true
			continue
		}
		match := payments[i]
		return &match, true
	}
	if sawOwn {
		return nil, false
	}
	// the list may lag the existence check; still treat it as taken
	return nil, true
}

// applyReference applies fn unless the reference changed while the check
// was in flight.
func (d *Desk) applyReference(reference string, fn func(form.State) form.State) bool {
	d.mu.Lock()
	if d.closed || strings.TrimSpace(d.state.Entry.Reference) != reference {
		d.mu.Unlock()
		return false
	}
	d.state = fn(d.state)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)
	return true
}

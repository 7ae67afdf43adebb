// Package session keeps the authenticated operator for a desk. The actor is
// read once at an explicit refresh point, never looked up ambiently.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"portcaisse/internal/domain"
)

var ErrNoSession = errors.New("no authenticated operator")

type Provider interface {
	CurrentActor(ctx context.Context) (domain.Actor, error)
}

type Holder struct {
	mu          sync.RWMutex
	provider    Provider
	actor       domain.Actor
	loaded      bool
	refreshedAt time.Time
}

func NewHolder(provider Provider) *Holder {
	return &Holder{provider: provider}
}

// Refresh asks the provider for the operator and replaces the held actor.
// On failure the previous actor is dropped.
func (h *Holder) Refresh(ctx context.Context) (domain.Actor, error) {
	if h.provider == nil {
		return domain.Actor{}, ErrNoSession
	}
	actor, err := h.provider.CurrentActor(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.actor = domain.Actor{}
		h.loaded = false
		return domain.Actor{}, err
	}
	h.actor = actor
	h.loaded = true
	h.refreshedAt = time.Now().UTC()
	return actor, nil
}

// Set installs an actor obtained elsewhere, typically from a login response.
func (h *Holder) Set(actor domain.Actor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actor = actor
	h.loaded = actor.Username != ""
	h.refreshedAt = time.Now().UTC()
}

func (h *Holder) Current() (domain.Actor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.actor, h.loaded
}

func (h *Holder) RefreshedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refreshedAt
}

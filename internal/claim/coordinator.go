package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/feed"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

var claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "console_claims_total",
	Help: "Claim attempts by outcome",
}, []string{"kind", "outcome"})

// Coordinator serializes operator access to requests. A claim is a
// single conditional update in the store; conflicts are surfaced to
// the caller and never auto-retried.
type Coordinator struct {
	store store.RequestStore
	feed  feed.Publisher
	log   *slog.Logger
}

func NewCoordinator(s store.RequestStore, pub feed.Publisher, log *slog.Logger) *Coordinator {
	if pub == nil {
		pub = feed.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: s, feed: pub, log: log}
}

// Claim takes the exclusive right to drive a request's workflow.
func (c *Coordinator) Claim(ctx context.Context, kind domain.Kind, id, actor string, intent domain.Intent) (*domain.Request, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	if intent == "" || intent == domain.IntentNone {
		return nil, fmt.Errorf("intent is required")
	}

	req, err := c.store.Claim(ctx, kind, id, actor, intent)
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			outcome = "conflict"
		}
		claimsTotal.WithLabelValues(string(kind), outcome).Inc()
		return nil, err
	}

	claimsTotal.WithLabelValues(string(kind), "claimed").Inc()
	c.log.Info("claim_taken", "kind", string(kind), "request_id", id, "actor", actor, "intent", string(intent))
	c.feed.RequestChanged(ctx, kind, id)
	return req, nil
}

// Release gives the claim back. Only the holder may release unless
// override is set (supervisor action or detected session death).
func (c *Coordinator) Release(ctx context.Context, kind domain.Kind, id, actor string, override bool) error {
	if err := c.store.Release(ctx, kind, id, actor, override); err != nil {
		return err
	}
	c.log.Info("claim_released", "kind", string(kind), "request_id", id, "actor", actor, "override", override)
	c.feed.ClaimReleased(ctx, kind, id, actor)
	c.feed.RequestChanged(ctx, kind, id)
	return nil
}

// Reconcile finds the actor's surviving claims after a session restart
// so the UI can resume each claimed intent instead of orphaning locks.
func (c *Coordinator) Reconcile(ctx context.Context, actor string) ([]*domain.Request, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	claims, err := c.store.ClaimsByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile claims: %w", err)
	}
	if len(claims) > 0 {
		c.log.Info("claims_reconciled", "actor", actor, "count", len(claims))
	}
	return claims, nil
}

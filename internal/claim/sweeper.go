package claim

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therafiali/internal-app-sub002/internal/feed"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

var expiredClaims = promauto.NewCounter(prometheus.CounterOpts{
	Name: "console_expired_claims_total",
	Help: "Claims released by the lease sweeper",
})

// Sweeper releases claims whose lease has lapsed, bounding how long a
// dead session can wedge a request.
type Sweeper struct {
	store    store.RequestStore
	feed     feed.Publisher
	log      *slog.Logger
	lease    time.Duration
	interval time.Duration
}

func NewSweeper(s store.RequestStore, pub feed.Publisher, log *slog.Logger, lease, interval time.Duration) *Sweeper {
	if pub == nil {
		pub = feed.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: s, feed: pub, log: log, lease: lease, interval: interval}
}

// Run sweeps on the configured interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("claim_sweep_failed", "error", err)
			}
		}
	}
}

// SweepOnce releases every claim older than the lease and notifies
// subscribers so blocked operators can retry.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.lease)
	expired, err := s.store.ExpireClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, e := range expired {
		expiredClaims.Inc()
		s.log.Warn("claim_lease_expired",
			"kind", string(e.Kind),
			"request_id", e.RequestID,
			"actor", e.Actor,
			"intent", string(e.Intent),
		)
		s.feed.ClaimReleased(ctx, e.Kind, e.RequestID, e.Actor)
		s.feed.RequestChanged(ctx, e.Kind, e.RequestID)
	}
	return nil
}

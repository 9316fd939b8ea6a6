package settlement

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therafiali/internal-app-sub002/internal/activity"
	"github.com/therafiali/internal-app-sub002/internal/feed"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "console_settlements_total",
	Help: "Settlement operations by kind, operation and outcome",
}, []string{"kind", "op", "outcome"})

// PlayerRegistry is the external player status service. Bans are
// irreversible from this subsystem's point of view.
type PlayerRegistry interface {
	PlayerStatus(ctx context.Context, playerID string) (string, error)
	BanPlayer(ctx context.Context, playerID, actor, reason string) error
}

// PlayerBanned is the registry status that blocks settlement.
const PlayerBanned = "banned"

// PromotionStore consumes single-use promotion assignments. Consuming
// must be atomic (assigned -> used exactly once); re-consumption by
// the same request is a no-op.
type PromotionStore interface {
	ConsumeAssignment(ctx context.Context, code, requestID string) error
}

// Engine drives the per-kind status state machines and, on the
// money-moving transitions, the atomic ledger mutation plus audit
// entry. Every operation takes the acting operator explicitly; there
// is no ambient current user.
type Engine struct {
	store   store.Store
	players PlayerRegistry
	promos  PromotionStore
	feed    feed.Publisher
	audit   *activity.Logger
	log     *slog.Logger
}

func NewEngine(s store.Store, players PlayerRegistry, promos PromotionStore, pub feed.Publisher, log *slog.Logger) *Engine {
	if pub == nil {
		pub = feed.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   s,
		players: players,
		promos:  promos,
		feed:    pub,
		audit:   activity.NewLogger(s, log),
		log:     log,
	}
}

func (e *Engine) observe(kind, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	settlementsTotal.WithLabelValues(kind, op, outcome).Inc()
}

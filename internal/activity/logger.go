package activity

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

var droppedAppends = promauto.NewCounter(prometheus.CounterOpts{
	Name: "console_activity_dropped_appends_total",
	Help: "Audit entries that failed to persist on the best-effort path",
})

// Appender persists activity entries.
type Appender interface {
	AppendActivity(ctx context.Context, entry *domain.ActivityEntry) error
}

// Logger writes audit entries outside a settlement transaction.
// Settlement entries (RECEIVED/SENT) are written by the store inside
// the settlement transaction; this logger covers the best-effort
// paths, where an append failure must be flagged but must never block
// the status update or roll back an applied mutation.
type Logger struct {
	store Appender
	log   *slog.Logger
}

func NewLogger(store Appender, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: store, log: log}
}

// BestEffort appends the entry, swallowing any failure after flagging
// it in the structured log and the dropped-append counter.
func (l *Logger) BestEffort(ctx context.Context, entry *domain.ActivityEntry) {
	if err := l.store.AppendActivity(ctx, entry); err != nil {
		droppedAppends.Inc()
		l.log.Error("activity_append_failed",
			"account_id", entry.AccountID,
			"action", string(entry.Action),
			"actor", entry.Actor,
			"error", err,
		)
	}
}

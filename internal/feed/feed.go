package feed

import (
	"context"
	"time"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// Event is a row-change notification. Delivery is at-least-once and
// eventually consistent: payloads carry identifiers only, and
// consumers re-read authoritative state instead of trusting them.
type Event struct {
	Type      string      `json:"type"`
	Kind      domain.Kind `json:"kind,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	AccountID string      `json:"account_id,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	At        time.Time   `json:"at"`
}

const (
	EventRequestChanged = "request_changed"
	EventAccountChanged = "account_changed"
	EventClaimReleased  = "claim_released"
)

// Publisher pushes change events to observers. Publishing is
// best-effort; a failed publish never affects settled state.
type Publisher interface {
	RequestChanged(ctx context.Context, kind domain.Kind, requestID string)
	AccountChanged(ctx context.Context, accountID string)
	ClaimReleased(ctx context.Context, kind domain.Kind, requestID, actor string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) RequestChanged(context.Context, domain.Kind, string) {}
func (Nop) AccountChanged(context.Context, string)              {}
func (Nop) ClaimReleased(context.Context, domain.Kind, string, string) {
}

// Fanout delivers each event to every wrapped publisher in order.
type Fanout []Publisher

func (f Fanout) RequestChanged(ctx context.Context, kind domain.Kind, requestID string) {
	for _, p := range f {
		p.RequestChanged(ctx, kind, requestID)
	}
}

func (f Fanout) AccountChanged(ctx context.Context, accountID string) {
	for _, p := range f {
		p.AccountChanged(ctx, accountID)
	}
}

func (f Fanout) ClaimReleased(ctx context.Context, kind domain.Kind, requestID, actor string) {
	for _, p := range f {
		p.ClaimReleased(ctx, kind, requestID, actor)
	}
}

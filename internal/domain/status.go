package domain

// Status is a request lifecycle status. The valid values and edges
// depend on the request kind; anything absent from the per-kind table
// is rejected.
type Status string

// RequestPending is the intake status shared by both kinds.
const RequestPending Status = "pending"

// Recharge statuses.
const (
	RechargePending     Status = "pending"
	RechargeProcessed   Status = "sc_processed"
	RechargeCompleted   Status = "completed"
	RechargeDisputed    Status = "disputed"
	RechargeVerified    Status = "verified"
	RechargeRejected    Status = "rejected"
	RechargeFailed      Status = "failed"
)

// Redeem statuses.
const (
	RedeemPending            Status = "pending"
	RedeemQueued             Status = "queued"
	RedeemQueuedPartial      Status = "queued_partially_paid"
	RedeemPaused             Status = "paused"
	RedeemPausedPartial      Status = "paused_partially_paid"
	RedeemUnderProcessing    Status = "under_processing"
	RedeemVerificationFailed Status = "verification_failed"
	RedeemRejected           Status = "rejected"
	RedeemCompleted          Status = "completed"
)

var rechargeTransitions = map[Status][]Status{
	RechargePending:   {RechargeProcessed, RechargeRejected, RechargeFailed},
	RechargeProcessed: {RechargeVerified, RechargeDisputed, RechargeRejected, RechargeFailed},
	RechargeDisputed:  {RechargeCompleted, RechargeRejected},
	RechargeCompleted: {},
	RechargeVerified:  {},
	RechargeRejected:  {},
	RechargeFailed:    {},
}

var redeemTransitions = map[Status][]Status{
	RedeemPending:            {RedeemQueued, RedeemUnderProcessing, RedeemRejected},
	RedeemUnderProcessing:    {RedeemQueued, RedeemVerificationFailed},
	RedeemVerificationFailed: {RedeemQueued, RedeemRejected},
	RedeemQueued:             {RedeemQueuedPartial, RedeemCompleted, RedeemPaused, RedeemRejected},
	RedeemQueuedPartial:      {RedeemQueuedPartial, RedeemCompleted, RedeemPausedPartial},
	RedeemPaused:             {RedeemQueued},
	RedeemPausedPartial:      {RedeemQueuedPartial},
	RedeemCompleted:          {},
	RedeemRejected:           {},
}

// NextRedeemStatus derives the post-payment status of a redeem
// request from its cumulative paid amount.
func NextRedeemStatus(newAmountPaid, totalAmount int64) Status {
	switch {
	case newAmountPaid == totalAmount:
		return RedeemCompleted
	case newAmountPaid > 0:
		return RedeemQueuedPartial
	default:
		return RedeemQueued
	}
}

// Transitions returns the allowed transition table for a kind.
func Transitions(kind Kind) map[Status][]Status {
	if kind == KindRedeem {
		return redeemTransitions
	}
	return rechargeTransitions
}

// CanTransition reports whether from -> to is an allowed edge for kind.
func CanTransition(kind Kind, from, to Status) bool {
	for _, s := range Transitions(kind)[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether status admits no further transitions for
// kind. A terminal request is immutable.
func Terminal(kind Kind, status Status) bool {
	next, ok := Transitions(kind)[status]
	return ok && len(next) == 0
}

// ValidStatus reports whether status is a member of the kind's enum.
func ValidStatus(kind Kind, status Status) bool {
	_, ok := Transitions(kind)[status]
	return ok
}

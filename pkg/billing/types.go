package billing

// Status represents the lifecycle state of a tenant subscription.
type Status string

const (
	StatusTrial    Status = "trial"
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusInactive Status = "inactive"
)

// IsTerminal reports whether no further transitions are possible from s.
// Canceled is the only terminal status; inactive tenants can still subscribe.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled
}

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// InputKind identifies the trigger of a subscription state transition.
type InputKind string

const (
	// InputSubscribe is fired when a tenant submits a payment token.
	InputSubscribe InputKind = "subscribe"
	// InputAuthorized is fired when the processor confirms the first charge.
	InputAuthorized InputKind = "processor_authorized"
	// InputRejected is fired when the processor declines or expires the
	// initial authorization.
	InputRejected InputKind = "processor_rejected"
	// InputPaymentFailed is fired when a renewal charge fails.
	InputPaymentFailed InputKind = "payment_failed"
	// InputPaymentRecovered is fired when a failed charge is later collected.
	InputPaymentRecovered InputKind = "payment_recovered"
	// InputProviderCancel is fired when the processor cancels the
	// subscription after the grace period elapsed.
	InputProviderCancel InputKind = "processor_canceled"
	// InputUserCancel is fired by an explicit user cancellation.
	InputUserCancel InputKind = "user_canceled"
	// InputTrialExpired is fired when a trial window elapsed with no action.
	InputTrialExpired InputKind = "trial_expired"
)

// Outcome classifies the result of reconciling one webhook event.
type Outcome string

const (
	// OutcomeApplied means the event changed the subscription record.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event id was already applied; the record
	// is untouched and the delivery is acknowledged as a success.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event is not modeled or arrived out of order
	// behind a newer one; the current state is preserved.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the event maps to a transition the lifecycle
	// does not allow from the current state. It is logged and dropped.
	OutcomeRejected Outcome = "rejected"
)

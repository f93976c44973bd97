package billing

import "errors"

var (
	ErrPlanNotFound       = errors.New("billing plan not found")
	ErrPlanAlreadyExists  = errors.New("billing plan already exists")
	ErrPlanInactive       = errors.New("billing plan is not active")
	ErrPlanNotProvisioned = errors.New("billing plan is not provisioned yet")
	ErrInvalidPlanSpec    = errors.New("invalid billing plan spec")

	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrAlreadySubscribed         = errors.New("tenant is already subscribed")

	// ErrVersionConflict signals an optimistic-concurrency collision on a
	// subscription record. Retried internally a bounded number of times,
	// then surfaced as retryable to the caller.
	ErrVersionConflict = errors.New("subscription record version conflict")

	// ErrProvisioningFailed means remote plan creation failed. The plan row
	// stays at the pending sentinel; re-invoking EnsurePlan retries.
	ErrProvisioningFailed = errors.New("remote plan provisioning failed")

	// ErrProcessorUnavailable wraps transport-level failures talking to the
	// payment processor.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")

	// ErrMalformedPayload is returned for webhook payloads that cannot be
	// verified or parsed. Rejected at the boundary, never reaches the
	// state machine.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	ErrEventNotFound = errors.New("webhook event not found")

	// ErrStillProcessing is the neutral answer a polling client receives
	// when the attempt budget runs out before the processor resolves the
	// subscription. It is an expected condition, not a failure.
	ErrStillProcessing = errors.New("subscription is still processing, retry later")
)

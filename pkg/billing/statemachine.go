package billing

import (
	"errors"
	"fmt"
	"time"
)

// Input is one trigger fed into the subscription lifecycle, optionally
// carrying side data reported by the processor alongside the event.
type Input struct {
	Kind InputKind

	// RemoteSubscriptionID is set by the first authorization event when the
	// record was created before the processor assigned an id.
	RemoteSubscriptionID string

	// CurrentPeriodEnd is the paid-through timestamp reported by the
	// processor on authorization and recovery events.
	CurrentPeriodEnd *time.Time

	// TrialEndsAt is set when a trial starts.
	TrialEndsAt *time.Time
}

// TransitionRejectedError signals a (state, input) pair outside the
// transition table. The state machine refuses it explicitly so callers can
// decide whether to log and drop (reconciler) or report (gateway).
type TransitionRejectedError struct {
	From  Status
	Input InputKind
}

func (e *TransitionRejectedError) Error() string {
	return fmt.Sprintf("transition from %q rejected for input %q", e.From, e.Input)
}

// IsTransitionRejected reports whether err is a lifecycle rejection.
func IsTransitionRejected(err error) bool {
	var e *TransitionRejectedError
	return errors.As(err, &e)
}

// transitions is the full lifecycle table. Any pair absent here is rejected.
var transitions = map[Status]map[InputKind]Status{
	StatusInactive: {
		InputSubscribe:  StatusPending,
		InputUserCancel: StatusCanceled,
	},
	StatusTrial: {
		InputSubscribe:    StatusPending,
		InputTrialExpired: StatusInactive,
		InputUserCancel:   StatusCanceled,
	},
	StatusPending: {
		InputAuthorized: StatusActive,
		InputRejected:   StatusInactive,
		InputUserCancel: StatusCanceled,
	},
	StatusActive: {
		InputPaymentFailed: StatusPastDue,
		InputUserCancel:    StatusCanceled,
	},
	StatusPastDue: {
		InputPaymentRecovered: StatusActive,
		InputProviderCancel:   StatusCanceled,
		InputUserCancel:       StatusCanceled,
	},
	// StatusCanceled is terminal: no outgoing transitions.
}

// Transition is the pure lifecycle function. It returns a copy of rec moved
// to the target state with the input's side data applied and the version
// bumped, or a *TransitionRejectedError if the pair is not in the table.
// It never touches storage; persisting the result is the caller's job.
func Transition(rec TenantSubscription, in Input, now time.Time) (TenantSubscription, error) {
	allowed, ok := transitions[rec.Status]
	if !ok {
		return rec, &TransitionRejectedError{From: rec.Status, Input: in.Kind}
	}
	target, ok := allowed[in.Kind]
	if !ok {
		return rec, &TransitionRejectedError{From: rec.Status, Input: in.Kind}
	}

	next := rec
	next.Status = target
	next.Version++
	next.UpdatedAt = now.UTC()

	switch in.Kind {
	case InputAuthorized:
		if next.RemoteSubscriptionID == "" && in.RemoteSubscriptionID != "" {
			next.RemoteSubscriptionID = in.RemoteSubscriptionID
		}
		if in.CurrentPeriodEnd != nil {
			next.CurrentPeriodEnd = in.CurrentPeriodEnd
		}
	case InputPaymentRecovered:
		if in.CurrentPeriodEnd != nil {
			next.CurrentPeriodEnd = in.CurrentPeriodEnd
		}
	case InputSubscribe:
		if in.TrialEndsAt != nil {
			next.TrialEndsAt = in.TrialEndsAt
		}
	}

	return next, nil
}

// CanTransition reports whether the lifecycle allows the input from the
// given state, without producing a record.
func CanTransition(from Status, kind InputKind) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[kind]
	return ok
}

// expireTrialIfDue persists-on-write half of lazy trial evaluation: before
// any mutation the record is normalized so an elapsed trial transitions to
// inactive as part of the first write that touches it.
func expireTrialIfDue(rec TenantSubscription, now time.Time) TenantSubscription {
	if rec.Status != StatusTrial || rec.TrialEndsAt == nil || !now.After(*rec.TrialEndsAt) {
		return rec
	}
	next, err := Transition(rec, Input{Kind: InputTrialExpired}, now)
	if err != nil {
		// trial -> trial_expired is always in the table
		return rec
	}
	return next
}

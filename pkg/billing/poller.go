package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultPollInterval is the fixed delay between status reads.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollAttempts bounds the budget at roughly thirty seconds; the
	// server never needs longer to reflect a webhook it already received.
	DefaultPollAttempts = 15
)

// StatusReader is the read contract the poller depends on; *Service
// satisfies it, as does any HTTP client wrapping the status endpoint.
type StatusReader interface {
	GetStatus(ctx context.Context, tenantID uuid.UUID) (*StatusView, error)
}

// Poller repeatedly queries the gateway until the subscription leaves
// pending or the attempt budget runs out. It implements the client-side
// polling contract: fixed interval, bounded attempts, and a neutral
// "still processing" answer on exhaustion instead of an error.
type Poller struct {
	reader   StatusReader
	interval time.Duration
	attempts uint64
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithPollAttempts(attempts uint64) PollerOption {
	return func(p *Poller) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// NewPoller creates a status poller. Panics on a nil reader to fail fast.
func NewPoller(reader StatusReader, opts ...PollerOption) *Poller {
	if reader == nil {
		panic("billing: StatusReader is required")
	}
	p := &Poller{
		reader:   reader,
		interval: DefaultPollInterval,
		attempts: DefaultPollAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls until the status resolves and returns the final view.
// Exhausting the budget returns ErrStillProcessing; read failures inside
// the window are retried, and only the last one is surfaced if nothing
// resolves. Context cancellation stops the poll immediately.
func (p *Poller) Wait(ctx context.Context, tenantID uuid.UUID) (*StatusView, error) {
	var view *StatusView

	// The retry budget counts retries, not attempts, hence the minus one.
	backoff := retry.WithMaxRetries(p.attempts-1, retry.NewConstant(p.interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := p.reader.GetStatus(ctx, tenantID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !v.Resolved() {
			return retry.RetryableError(ErrStillProcessing)
		}
		view = v
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStillProcessing) {
			return nil, ErrStillProcessing
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return view, nil
}

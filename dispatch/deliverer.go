package dispatch

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// RetryPolicy bounds how hard a RetryingDeliverer tries before giving up.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// RetryingDeliverer retries transient delivery failures with capped
// exponential backoff. Errors marked Permanent are returned immediately.
type RetryingDeliverer struct {
	next   Deliverer
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingDeliverer wraps next with policy.
func NewRetryingDeliverer(next Deliverer, policy RetryPolicy, logger *zap.Logger) *RetryingDeliverer {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingDeliverer{next: next, policy: policy, logger: logger}
}

func (d *RetryingDeliverer) Deliver(ctx context.Context, job Job) error {
	backoff := retry.NewExponential(d.policy.BaseDelay)
	backoff = retry.WithCappedDuration(d.policy.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(d.policy.MaxRetries, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := d.next.Deliver(ctx, job)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		d.logger.Warn("delivery attempt failed",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return retry.RetryableError(err)
	})
}

// LogDeliverer records each job in the log instead of sending it. It stands in
// for a mailer in development and in the CLI worker.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(_ context.Context, job Job) error {
	d.logger.Info("delivering instructions",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("account_id", job.AccountID),
		zap.String("email", job.Email),
		zap.Time("token_expires_at", job.TokenExpiresAt),
	)
	return nil
}

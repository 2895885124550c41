package bridge

import (
	"context"
	"errors"
)

// RetryPolicy runs an operation up to Attempts times with no backoff.
type RetryPolicy struct {
	Attempts int
	// OnAttemptError observes every failed attempt that will be retried.
	OnAttemptError func(attempt int, err error)
	// OnFailure observes the final error once every attempt has failed.
	OnFailure func(err error)
}

// Do runs op until it succeeds, attempts are exhausted or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
			break
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) {
			break
		}
		if attempt < attempts && p.OnAttemptError != nil {
			p.OnAttemptError(attempt, err)
		}
	}
	if p.OnFailure != nil {
		p.OnFailure(err)
	}
	return err
}

var errPermanent = errors.New("permanent failure")

// permanent marks err so RetryPolicy.Do stops retrying.
func permanent(err error) error {
	return errors.Join(errPermanent, err)
}

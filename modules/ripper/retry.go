package ripper

import (
	"context"
	"log/slog"

	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
)

// errPermanent marks an error that must not be retried.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return errPermanent{err: err}
}

// attemptFunc runs one connect-and-rip cycle. progressed reports whether the
// attempt got far enough that the backoff should start over.
type attemptFunc func(ctx context.Context) (progressed bool, err error)

// retry runs fn until ctx is done, fn returns a permanent error, or the
// backoff gives up. Consecutive failures wait with exponential backoff.
func retry(ctx context.Context, cfg backoff.Config, logger *slog.Logger, fn attemptFunc) error {
	b := backoff.New(ctx, cfg)

	for b.Ongoing() {
		progressed, err := fn(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var perm errPermanent
		if errors.As(err, &perm) {
			return perm.err
		}

		if progressed {
			b.Reset()
		}

		logger.Warn("stream ended, reconnecting", "err", err, "attempt", b.NumRetries()+1)
		b.Wait()
	}

	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(b.Err(), "giving up on stream")
}

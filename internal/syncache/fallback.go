package syncache

import (
	"context"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/pkg/retry"
	"github.com/sirupsen/logrus"
)

// Outcome is a committed mutation and the tier that committed it.
type Outcome[T any] struct {
	Record T
	Tier   Tier
	// Cause is the remote error that forced a local commit.
	Cause error
}

// FallbackPersister tries the remote tier under a retry budget and commits
// to the local tier when the remote is unreachable or does not confirm.
// A remote rejection (4xx) is returned as is and nothing is committed.
type FallbackPersister[T models.Record[T]] struct {
	remote Persister[T]
	local  *Local[T]
	retry  *retry.Config
	logger logrus.FieldLogger
}

// NewFallbackPersister composes the two tiers. cfg is the full budget used
// when the remote is believed reachable.
func NewFallbackPersister[T models.Record[T]](remote Persister[T], local *Local[T], cfg *retry.Config, logger logrus.FieldLogger) *FallbackPersister[T] {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FallbackPersister[T]{remote: remote, local: local, retry: cfg, logger: logger}
}

// Create adds record. attempts caps the remote tries; 0 uses the full budget.
func (f *FallbackPersister[T]) Create(ctx context.Context, record T, attempts int) (Outcome[T], error) {
	return commit(ctx, f, "create", attempts,
		func(ctx context.Context) (T, error) { return f.remote.Create(ctx, record) },
		func(ctx context.Context) (T, error) { return f.local.Create(ctx, record) },
		func(ctx context.Context, saved T) error { return f.local.Upsert(ctx, saved) },
	)
}

func (f *FallbackPersister[T]) Update(ctx context.Context, record T, attempts int) (Outcome[T], error) {
	return commit(ctx, f, "update", attempts,
		func(ctx context.Context) (T, error) { return f.remote.Update(ctx, record) },
		func(ctx context.Context) (T, error) { return f.local.Update(ctx, record) },
		func(ctx context.Context, saved T) error { return f.local.Upsert(ctx, saved) },
	)
}

func (f *FallbackPersister[T]) Delete(ctx context.Context, id int, attempts int) (Outcome[T], error) {
	var zero T
	return commit(ctx, f, "delete", attempts,
		func(ctx context.Context) (T, error) { return zero, f.remote.Delete(ctx, id) },
		func(ctx context.Context) (T, error) { return zero, f.local.Delete(ctx, id) },
		func(ctx context.Context, _ T) error { return f.local.Remove(ctx, id) },
	)
}

func commit[T models.Record[T]](
	ctx context.Context,
	f *FallbackPersister[T],
	op string,
	attempts int,
	remote func(context.Context) (T, error),
	local func(context.Context) (T, error),
	backup func(context.Context, T) error,
) (Outcome[T], error) {
	cfg := f.retry
	if attempts > 0 {
		cfg = cfg.WithAttempts(attempts)
	}
	log := f.logger.WithFields(logrus.Fields{"op": op, "key": f.local.Key()})

	saved, err := TryRemote(ctx, cfg, remote)

	switch {
	case err == nil:
		if berr := backup(ctx, saved); berr != nil {
			log.WithError(berr).Warn("Failed to mirror confirmed record locally")
		}
		return Outcome[T]{Record: saved, Tier: TierRemote}, nil
	case errdefs.IsRejection(err):
		return Outcome[T]{}, err
	case ctx.Err() != nil:
		return Outcome[T]{}, ctx.Err()
	}

	log.WithError(err).Warn("Remote unavailable, committing locally")
	rec, lerr := local(ctx)
	if lerr != nil {
		return Outcome[T]{}, errdefs.Wrap(op, f.local.Key(), 0, lerr)
	}
	return Outcome[T]{Record: rec, Tier: TierLocal, Cause: err}, nil
}

// TryRemote runs fn under cfg. Only transient failures are retried; a
// rejection or an unconfirmed response ends the attempts at once.
func TryRemote[T any](ctx context.Context, cfg *retry.Config, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := retry.DoWithContext(ctx, func(ctx context.Context) error {
		r, err := fn(ctx)
		if err != nil {
			if errdefs.IsRetryable(err) {
				return err
			}
			return retry.Permanent(err)
		}
		out = r
		return nil
	}, cfg)
	return out, err
}

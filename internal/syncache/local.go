package syncache

import (
	"context"
	"sync"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/sirupsen/logrus"
)

// Local keeps a collection as a single JSON blob in a KV.
type Local[T models.Record[T]] struct {
	kv     KV
	key    string
	mu     sync.Mutex
	logger logrus.FieldLogger
}

// NewLocal creates the local tier for the blob at key.
func NewLocal[T models.Record[T]](kv KV, key string, logger logrus.FieldLogger) *Local[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Local[T]{kv: kv, key: key, logger: logger.WithField("key", key)}
}

// Key returns the blob name.
func (l *Local[T]) Key() string { return l.key }

// Load returns the cached records. A missing or unreadable blob is empty.
func (l *Local[T]) Load(ctx context.Context) ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx), nil
}

func (l *Local[T]) load(ctx context.Context) []T {
	var records []T
	if _, err := GetJSON(ctx, l.kv, l.key, &records); err != nil {
		l.logger.WithError(err).Warn("Local cache unreadable, treating as empty")
		return []T{}
	}
	if records == nil {
		records = []T{}
	}
	return records
}

// Save replaces the blob.
func (l *Local[T]) Save(ctx context.Context, records []T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save(ctx, records)
}

func (l *Local[T]) save(ctx context.Context, records []T) error {
	if records == nil {
		records = []T{}
	}
	return SetJSON(ctx, l.kv, l.key, records)
}

func (l *Local[T]) mutate(ctx context.Context, fn func([]T) ([]T, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := fn(l.load(ctx))
	if err != nil {
		return err
	}
	return l.save(ctx, next)
}

// Create appends record with a locally assigned max+1 id.
func (l *Local[T]) Create(ctx context.Context, record T) (T, error) {
	var created T
	err := l.mutate(ctx, func(records []T) ([]T, error) {
		created = record.WithID(models.NextID(records))
		return append(records, created), nil
	})
	return created, err
}

// Update replaces the record with the same id.
func (l *Local[T]) Update(ctx context.Context, record T) (T, error) {
	err := l.mutate(ctx, func(records []T) ([]T, error) {
		for i, r := range records {
			if r.RecordID() == record.RecordID() {
				records[i] = record
				return records, nil
			}
		}
		return nil, errdefs.ErrNotFound
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

// Delete removes the record with id.
func (l *Local[T]) Delete(ctx context.Context, id int) error {
	return l.mutate(ctx, func(records []T) ([]T, error) {
		out := make([]T, 0, len(records))
		for _, r := range records {
			if r.RecordID() != id {
				out = append(out, r)
			}
		}
		if len(out) == len(records) {
			return nil, errdefs.ErrNotFound
		}
		return out, nil
	})
}

// Upsert stores a server-confirmed record as a backup copy.
func (l *Local[T]) Upsert(ctx context.Context, record T) error {
	return l.mutate(ctx, func(records []T) ([]T, error) {
		for i, r := range records {
			if r.RecordID() == record.RecordID() {
				records[i] = record
				return records, nil
			}
		}
		return append(records, record), nil
	})
}

// Remove drops id if present.
func (l *Local[T]) Remove(ctx context.Context, id int) error {
	err := l.Delete(ctx, id)
	if errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// Package store persists record collections as JSON array files.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/pkg/atomicfile"
	"github.com/sirupsen/logrus"
)

// MutateFunc computes the new collection from the current one. Returning an
// error aborts the mutation before anything is written.
type MutateFunc[T any] func(records []T) ([]T, error)

// Collection is one JSON array file of records.
type Collection[T models.Record[T]] struct {
	name   string
	path   string
	mu     sync.Mutex
	logger logrus.FieldLogger
}

// NewCollection binds a collection name to its file.
func NewCollection[T models.Record[T]](name, path string, logger logrus.FieldLogger) *Collection[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collection[T]{
		name:   name,
		path:   path,
		logger: logger.WithFields(logrus.Fields{"collection": name, "path": path}),
	}
}

// Name returns the collection name used in logs and errors.
func (c *Collection[T]) Name() string { return c.name }

// Path returns the backing JSON file.
func (c *Collection[T]) Path() string { return c.path }

// Read returns the stored records. Read and parse errors are logged and
// yield an empty collection.
func (c *Collection[T]) Read(ctx context.Context) []T {
	records, err := c.load()
	if err != nil {
		c.logger.WithError(err).Error("Failed to read collection, returning empty set")
		return []T{}
	}
	return records
}

// Count returns the number of stored records.
func (c *Collection[T]) Count(ctx context.Context) int {
	return len(c.Read(ctx))
}

// Probe reports whether the file is absent or holds a valid array.
func (c *Collection[T]) Probe() error {
	_, err := c.load()
	return err
}

// Write replaces the file with records using the atomic write protocol.
func (c *Collection[T]) Write(ctx context.Context, records []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(records)
}

// Mutate reads the collection, applies fn and writes the result, holding the
// collection lock throughout. A corrupt file is never overwritten.
func (c *Collection[T]) Mutate(ctx context.Context, fn MutateFunc[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.load()
	if err != nil {
		c.logger.WithError(err).Error("Refusing to mutate unreadable collection")
		return nil, fmt.Errorf("load %s: %v: %w", c.name, err, errdefs.ErrPersistence)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := c.write(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Collection[T]) load() ([]T, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

func (c *Collection[T]) write(records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %v: %w", c.name, err, errdefs.ErrPersistence)
	}

	if err := atomicfile.Write(c.path, data, atomicfile.VerifyJSONArray); err != nil {
		c.logger.WithError(err).Error("Atomic write failed, original file kept")
		return fmt.Errorf("write %s: %v: %w", c.name, err, errdefs.ErrPersistence)
	}

	c.logger.WithField("records", len(records)).Info("Collection written")
	return nil
}

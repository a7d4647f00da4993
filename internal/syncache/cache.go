package syncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/pkg/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// State of a collection's data source.
type State int

const (
	Unloaded State = iota
	LoadingRemote
	RemoteActive
	LocalFallback
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case LoadingRemote:
		return "loading_remote"
	case RemoteActive:
		return "remote_active"
	case LocalFallback:
		return "local_fallback"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SeedFunc supplies records when both the remote and the local cache are
// empty or unavailable.
type SeedFunc[T any] func(ctx context.Context) ([]T, error)

// JSONFileSeed reads a static JSON array file.
func JSONFileSeed[T any](path string) SeedFunc[T] {
	return func(ctx context.Context) ([]T, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var records []T
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode seed %s: %w", path, err)
		}
		return records, nil
	}
}

// Options configures a Collection.
type Options[T any] struct {
	Name   string
	Retry  *retry.Config
	Seed   SeedFunc[T]
	Logger logrus.FieldLogger
}

// Listener receives the new snapshot after every change.
type Listener[T any] func(snapshot []T)

// Collection is the client-side view of one remote collection.
type Collection[T models.Record[T]] struct {
	name      string
	remote    Persister[T]
	local     *Local[T]
	persister *FallbackPersister[T]
	seed      SeedFunc[T]
	retry     *retry.Config
	logger    logrus.FieldLogger
	loads     singleflight.Group

	// writeMu orders local commits against publishing a fetched snapshot.
	writeMu sync.Mutex

	mu       sync.RWMutex
	state    State
	snapshot []T
	// gen counts local commits; a fetch started under an older gen is stale.
	gen uint64

	subMu     sync.Mutex
	listeners map[int]Listener[T]
	nextSub   int
}

// NewCollection builds a collection over the given tiers.
func NewCollection[T models.Record[T]](remote Persister[T], local *Local[T], opts Options[T]) *Collection[T] {
	cfg := opts.Retry
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	name := opts.Name
	if name == "" {
		name = local.Key()
	}
	logger = logger.WithField("collection", name)

	return &Collection[T]{
		name:      name,
		remote:    remote,
		local:     local,
		persister: NewFallbackPersister(remote, local, cfg, logger),
		seed:      opts.Seed,
		retry:     cfg,
		logger:    logger,
		snapshot:  []T{},
		listeners: make(map[int]Listener[T]),
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// State returns the current data source state.
func (c *Collection[T]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns a copy of the current records.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T{}, c.snapshot...)
}

// Get returns the record with id from the snapshot.
func (c *Collection[T]) Get(id int) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.snapshot {
		if r.RecordID() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Subscribe registers fn for change notifications. Listeners run in
// subscription order on the goroutine that made the change. The returned
// func removes the listener.
func (c *Collection[T]) Subscribe(fn Listener[T]) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.listeners, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Collection[T]) notify(snapshot []T) {
	c.subMu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	c.subMu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		c.subMu.Lock()
		fn, ok := c.listeners[id]
		c.subMu.Unlock()
		if ok {
			fn(append([]T{}, snapshot...))
		}
	}
}

func (c *Collection[T]) set(state State, records []T) {
	c.mu.Lock()
	c.state = state
	c.snapshot = records
	c.mu.Unlock()
}

func (c *Collection[T]) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Load fetches the collection the first time it is called.
func (c *Collection[T]) Load(ctx context.Context) error {
	if c.State() != Unloaded {
		return nil
	}
	return c.Reload(ctx)
}

// Reload fetches the collection from the remote with a single attempt. On
// success the result is mirrored to the local cache; otherwise the local
// cache, and then the seed, are used. Concurrent reloads share one fetch.
func (c *Collection[T]) Reload(ctx context.Context) error {
	_, err, _ := c.loads.Do(c.name, func() (any, error) {
		return nil, c.reload(ctx)
	})
	return err
}

func (c *Collection[T]) reload(ctx context.Context) error {
	c.mu.Lock()
	c.state = LoadingRemote
	gen := c.gen
	c.mu.Unlock()

	records, err := TryRemote(ctx, c.retry.WithAttempts(1), c.remote.Load)

	if err == nil {
		c.writeMu.Lock()
		if c.stale(gen) {
			c.writeMu.Unlock()
			c.logger.Debug("Discarding remote snapshot fetched before a mutation")
			c.setState(RemoteActive)
			return nil
		}
		if serr := c.local.Save(ctx, records); serr != nil {
			c.logger.WithError(serr).Warn("Failed to mirror collection to local cache")
		}
		c.set(RemoteActive, records)
		c.writeMu.Unlock()
		c.logger.WithField("records", len(records)).Info("Loaded collection from remote")
		c.notify(records)
		return nil
	}
	if ctx.Err() != nil {
		c.setState(Unloaded)
		return ctx.Err()
	}

	log := c.logger.WithError(err)
	c.writeMu.Lock()
	records, _ = c.local.Load(ctx)
	if len(records) == 0 && c.seed != nil {
		seeded, serr := c.seed(ctx)
		if serr != nil {
			log.WithField("seed_error", serr.Error()).Warn("Seed unavailable")
		} else if len(seeded) > 0 {
			records = seeded
			if serr := c.local.Save(ctx, records); serr != nil {
				log.WithField("save_error", serr.Error()).Warn("Failed to store seed in local cache")
			}
		}
	}
	if records == nil {
		records = []T{}
	}
	c.set(LocalFallback, records)
	c.writeMu.Unlock()
	log.WithField("records", len(records)).Warn("Remote unavailable, using local cache")
	c.notify(records)
	return nil
}

// refresh re-reads the collection after a confirmed mutation. It never
// changes the state. The caller holds writeMu.
func (c *Collection[T]) refresh(ctx context.Context) []T {
	records, err := TryRemote(ctx, c.retry.WithAttempts(1), c.remote.Load)
	if err != nil {
		c.logger.WithError(err).Warn("Refresh after mutation failed, using local cache")
		records, _ = c.local.Load(ctx)
	} else if serr := c.local.Save(ctx, records); serr != nil {
		c.logger.WithError(serr).Warn("Failed to mirror collection to local cache")
	}
	if records == nil {
		records = []T{}
	}
	c.set(c.State(), records)
	return records
}

func (c *Collection[T]) stale(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen != gen
}

// commitLocal bumps the commit generation so in-flight fetches are dropped.
func (c *Collection[T]) commitLocal() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Reseed replaces the local cache and snapshot with the seed data.
func (c *Collection[T]) Reseed(ctx context.Context) error {
	if c.seed == nil {
		return errors.New("collection has no seed")
	}
	records, err := c.seed(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		records = []T{}
	}
	c.writeMu.Lock()
	if err := c.local.Save(ctx, records); err != nil {
		c.writeMu.Unlock()
		return err
	}
	c.commitLocal()
	c.set(c.State(), records)
	c.writeMu.Unlock()
	c.notify(records)
	return nil
}

// attempts is the remote budget for a mutation: the full budget while the
// remote is believed reachable, one try in fallback.
func (c *Collection[T]) attempts() int {
	if c.State() == LocalFallback {
		return 1
	}
	return c.retry.MaxAttempts
}

// Create adds record and returns it with its assigned id.
func (c *Collection[T]) Create(ctx context.Context, record T) (T, error) {
	return c.mutate(ctx, "create", func(ctx context.Context, n int) (Outcome[T], error) {
		return c.persister.Create(ctx, record, n)
	})
}

// Update replaces the record with the same id.
func (c *Collection[T]) Update(ctx context.Context, record T) (T, error) {
	return c.mutate(ctx, "update", func(ctx context.Context, n int) (Outcome[T], error) {
		return c.persister.Update(ctx, record, n)
	})
}

// Delete removes the record with id.
func (c *Collection[T]) Delete(ctx context.Context, id int) error {
	_, err := c.mutate(ctx, "delete", func(ctx context.Context, n int) (Outcome[T], error) {
		return c.persister.Delete(ctx, id, n)
	})
	return err
}

// mutate runs one mutation. A remote commit is followed by a fresh fetch; a
// local commit republishes the local cache. Either way listeners see one
// notification. The state is left alone; only Load and Reload change it.
func (c *Collection[T]) mutate(ctx context.Context, op string, fn func(context.Context, int) (Outcome[T], error)) (T, error) {
	var zero T
	if err := c.Load(ctx); err != nil {
		return zero, err
	}

	c.writeMu.Lock()
	out, err := fn(ctx, c.attempts())
	if err != nil {
		c.writeMu.Unlock()
		return zero, err
	}
	c.commitLocal()

	log := c.logger.WithFields(logrus.Fields{"op": op, "tier": out.Tier, "id": out.Record.RecordID()})
	var records []T
	if out.Tier == TierRemote {
		log.Info("Mutation confirmed by remote")
		records = c.refresh(ctx)
	} else {
		records, _ = c.local.Load(ctx)
		if records == nil {
			records = []T{}
		}
		log.WithField("cause", out.Cause).Warn("Mutation committed locally")
		c.set(c.State(), records)
	}
	c.writeMu.Unlock()

	c.notify(records)
	return out.Record, nil
}

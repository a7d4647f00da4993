package syncache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/pkg/retry"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves /api/products with scripted mutation behaviour.
type fakeAPI struct {
	mu       sync.Mutex
	products []models.Product
	posts    atomic.Int32
	puts     atomic.Int32
	loads    atomic.Int32
	// mutation overrides the default handling of POST/PUT/DELETE.
	mutation http.HandlerFunc
	loadFail atomic.Bool
	// onLoad runs after a GET has copied the records, with the GET count.
	onLoad func(n int32)
}

func failingAPI() *fakeAPI {
	api := &fakeAPI{}
	api.loadFail.Store(true)
	return api
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		n := f.loads.Add(1)
		if f.loadFail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.mu.Lock()
		products := append([]models.Product{}, f.products...)
		f.mu.Unlock()
		if f.onLoad != nil {
			f.onLoad(n)
		}
		_ = json.NewEncoder(w).Encode(products)
		return
	case http.MethodPost:
		f.posts.Add(1)
	case http.MethodPut:
		f.puts.Add(1)
	}
	if f.mutation != nil {
		f.mutation(w, r)
		return
	}
	f.apply(w, r)
}

// apply stores a POST or PUT the way the real API does.
func (f *fakeAPI) apply(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	_ = json.NewDecoder(r.Body).Decode(&p)
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPost:
		p = p.WithID(models.NextID(f.products))
		f.products = append(f.products, p)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "product": p})
	case http.MethodPut:
		for i := range f.products {
			if f.products[i].ID == p.ID {
				f.products[i] = p
				_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "product": p})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Product not found"})
	}
}

func hang(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(150 * time.Millisecond):
	}
}

type fixture struct {
	api    *fakeAPI
	server *httptest.Server
	local  *Local[models.Product]
	coll   *Collection[models.Product]
	dir    string
}

func newFixture(t *testing.T, api *fakeAPI, seed SeedFunc[models.Product]) *fixture {
	t.Helper()
	server := httptest.NewServer(http.StripPrefix("/api/products", api))
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	local := NewLocal[models.Product](NewFileKV(dir), "sipstop_products", logger)
	remote := NewRemote[models.Product](server.Client(), server.URL+"/api", "products", "product")
	coll := NewCollection[models.Product](remote, local, Options[models.Product]{
		Name:   "products",
		Retry:  retry.Fixed(3, 80*time.Millisecond, 5*time.Millisecond),
		Seed:   seed,
		Logger: logger,
	})
	return &fixture{api: api, server: server, local: local, coll: coll, dir: dir}
}

func countNotifications[T any](c interface {
	Subscribe(Listener[T]) func()
}) (*atomic.Int32, func()) {
	var n atomic.Int32
	cancel := c.Subscribe(func([]T) { n.Add(1) })
	return &n, cancel
}

func TestLoadRemoteMirrorsLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeAPI{products: []models.Product{{ID: 1, Name: "Cola", Stock: 4}}}, nil)
	assert.Equal(t, Unloaded, f.coll.State())

	require.NoError(t, f.coll.Load(ctx))
	assert.Equal(t, RemoteActive, f.coll.State())
	assert.Len(t, f.coll.Snapshot(), 1)

	cached, err := f.local.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.coll.Snapshot(), cached)

	// Load is a no-op once loaded.
	require.NoError(t, f.coll.Load(ctx))
	assert.Equal(t, int32(1), f.api.loads.Load())
}

func TestLoadFallsBackToLocalThenSeed(t *testing.T) {
	ctx := context.Background()
	seedPath := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(`[{"id":7,"name":"Seed","stock":1}]`), 0o644))

	f := newFixture(t, failingAPI(), JSONFileSeed[models.Product](seedPath))
	require.NoError(t, f.coll.Load(ctx))
	assert.Equal(t, LocalFallback, f.coll.State())
	assert.Equal(t, []models.Product{{ID: 7, Name: "Seed", Stock: 1}}, f.coll.Snapshot())

	// The local cache now wins over the seed.
	require.NoError(t, f.local.Save(ctx, []models.Product{{ID: 2, Name: "Cached"}}))
	require.NoError(t, f.coll.Reload(ctx))
	assert.Equal(t, []models.Product{{ID: 2, Name: "Cached"}}, f.coll.Snapshot())
}

func TestCreateTimeoutCommitsLocallyOnce(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{products: []models.Product{{ID: 4, Name: "Cola"}}, mutation: hang}
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))

	n, cancel := countNotifications[models.Product](f.coll)
	defer cancel()

	created, err := f.coll.Create(ctx, models.Product{Name: "Tonic", Stock: 2})
	require.NoError(t, err)

	assert.Equal(t, int32(3), api.posts.Load())
	assert.Equal(t, 5, created.ID)
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, RemoteActive, f.coll.State())

	got, ok := f.coll.Get(5)
	require.True(t, ok)
	assert.Equal(t, "Tonic", got.Name)

	cached, _ := f.local.Load(ctx)
	assert.Len(t, cached, 2)
}

func TestMutationInFallbackTriesRemoteOnce(t *testing.T) {
	ctx := context.Background()
	api := failingAPI()
	api.mutation = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))
	require.Equal(t, LocalFallback, f.coll.State())

	created, err := f.coll.Create(ctx, models.Product{Name: "Water"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, int32(1), api.posts.Load())
	assert.Equal(t, LocalFallback, f.coll.State())
}

func TestSuccessfulMutationInFallbackKeepsState(t *testing.T) {
	ctx := context.Background()
	api := failingAPI()
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))

	created, err := f.coll.Create(ctx, models.Product{Name: "Water"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, int32(1), api.posts.Load())
	// The follow-up reload still fails, so the source stays local.
	assert.Equal(t, LocalFallback, f.coll.State())
	_, ok := f.coll.Get(1)
	assert.True(t, ok)
}

func TestConfirmedMutationInFallbackKeepsState(t *testing.T) {
	ctx := context.Background()
	var gatewayDown atomic.Bool
	api := failingAPI()
	api.mutation = func(w http.ResponseWriter, r *http.Request) {
		if gatewayDown.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		api.apply(w, r)
	}
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))
	require.Equal(t, LocalFallback, f.coll.State())

	api.loadFail.Store(false)
	n, cancel := countNotifications[models.Product](f.coll)
	defer cancel()

	created, err := f.coll.Create(ctx, models.Product{Name: "Water"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, int32(2), api.loads.Load())
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, LocalFallback, f.coll.State())
	_, ok := f.coll.Get(1)
	assert.True(t, ok)

	// Still one remote try per mutation until an explicit reload.
	gatewayDown.Store(true)
	_, err = f.coll.Create(ctx, models.Product{Name: "Tonic"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.posts.Load())

	require.NoError(t, f.coll.Reload(ctx))
	assert.Equal(t, RemoteActive, f.coll.State())
}

func TestReloadStartedBeforeMutationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		products: []models.Product{{ID: 1, Name: "Cola"}},
		onLoad: func(n int32) {
			if n == 2 {
				close(started)
				<-release
			}
		},
	}
	f := newFixture(t, api, nil)
	f.coll.retry = retry.Fixed(3, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.coll.Load(ctx))

	done := make(chan error, 1)
	go func() { done <- f.coll.Reload(ctx) }()
	<-started

	created, err := f.coll.Create(ctx, models.Product{Name: "Tonic"})
	require.NoError(t, err)
	assert.Equal(t, 2, created.ID)

	close(release)
	require.NoError(t, <-done)

	_, ok := f.coll.Get(2)
	assert.True(t, ok)
	cached, _ := f.local.Load(ctx)
	assert.Len(t, cached, 2)
	assert.Equal(t, RemoteActive, f.coll.State())
}

func TestConfirmedMutationReloads(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{products: []models.Product{{ID: 1, Name: "Cola", Stock: 5}}}
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))

	n, cancel := countNotifications[models.Product](f.coll)
	defer cancel()

	updated, err := f.coll.Update(ctx, models.Product{ID: 1, Name: "Cola", Stock: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Stock)
	assert.Equal(t, int32(2), api.loads.Load())
	assert.Equal(t, int32(1), n.Load())

	got, _ := f.coll.Get(1)
	assert.Equal(t, 2, got.Stock)
	cached, _ := f.local.Load(ctx)
	assert.Equal(t, 2, cached[0].Stock)
}

func TestRejectionCommitsNothing(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{products: []models.Product{{ID: 1}}}
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))

	n, cancel := countNotifications[models.Product](f.coll)
	defer cancel()

	_, err := f.coll.Update(ctx, models.Product{ID: 9, Name: "Ghost"})
	assert.True(t, errdefs.IsNotFound(err))
	assert.Equal(t, int32(1), api.puts.Load())
	assert.Equal(t, int32(0), n.Load())
	assert.Len(t, f.coll.Snapshot(), 1)
}

func TestUnconfirmedResponseCommitsLocally(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{mutation: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}}
	f := newFixture(t, api, nil)
	require.NoError(t, f.coll.Load(ctx))

	created, err := f.coll.Create(ctx, models.Product{Name: "Soda"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, int32(1), api.posts.Load())
	assert.Equal(t, int32(1), api.loads.Load())
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingAPI(), nil)

	var order []int
	cancelA := f.coll.Subscribe(func([]models.Product) { order = append(order, 1) })
	f.coll.Subscribe(func([]models.Product) { order = append(order, 2) })

	require.NoError(t, f.coll.Load(ctx))
	cancelA()
	cancelA()
	require.NoError(t, f.coll.Reload(ctx))

	assert.Equal(t, []int{1, 2, 2}, order)
}

func TestReseed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeAPI{products: []models.Product{{ID: 1}}}, func(context.Context) ([]models.Product, error) {
		return []models.Product{{ID: 1}, {ID: 2}}, nil
	})
	require.NoError(t, f.coll.Load(ctx))
	require.NoError(t, f.coll.Reseed(ctx))
	assert.Len(t, f.coll.Snapshot(), 2)

	bare := newFixture(t, &fakeAPI{}, nil)
	assert.Error(t, bare.coll.Reseed(ctx))
}

func TestRemoteClassification(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, errdefs.IsRetryable},
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Email already exists"}`))
		}, errdefs.IsValidation},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}, errdefs.IsNotFound},
		{"no success marker", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"product":{"id":1}}`))
		}, func(err error) bool { return errors.Is(err, errdefs.ErrUnconfirmed) }},
		{"no envelope", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true}`))
		}, func(err error) bool { return errors.Is(err, errdefs.ErrUnconfirmed) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			remote := NewRemote[models.Product](server.Client(), server.URL, "products", "product")

			_, err := remote.Create(ctx, models.Product{Name: "x"})
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	remote := NewRemote[models.Product](nil, server.URL, "products", "product")
	_, err := remote.Load(ctx)
	assert.True(t, errdefs.IsRetryable(err))
	assert.Equal(t, server.URL+"/products", remote.URL())
}

func TestRemoteReturnsValidationReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Email already exists"}`))
	}))
	defer server.Close()

	remote := NewRemote[models.User](server.Client(), server.URL, "users", "user")
	_, err := remote.Create(context.Background(), models.User{Email: "a@b.c"})
	assert.Equal(t, "Email already exists", errdefs.Reason(err))
}

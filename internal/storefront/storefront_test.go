package storefront

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saixiaoxi/sipstop/internal/api"
	"github.com/saixiaoxi/sipstop/internal/config"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/service"
	"github.com/saixiaoxi/sipstop/internal/store"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var testProducts = []models.Product{
	{ID: 1, Name: "Cola", Category: "Soda", Price: 2.5, Description: "Classic cola", Stock: 3},
	{ID: 2, Name: "Lemonade", Category: "Juice", Price: 3, Description: "Fresh lemons", Stock: 10},
	{ID: 3, Name: "Sparkling Water", Category: "Water", Price: 1.5, Description: "Lightly carbonated", Stock: 0},
}

// startAPI runs the real HTTP API over a temp-dir store.
func startAPI(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	st := store.New(store.Paths{
		Users:    filepath.Join(dir, "users.json"),
		Products: filepath.Join(dir, "products.json"),
		Orders:   filepath.Join(dir, "orders.json"),
	}, logger)
	svc := service.NewService(st, nil, logger)
	require.NoError(t, st.Products.Write(context.Background(), testProducts))
	require.NoError(t, st.Users.Write(context.Background(), DemoUsers))

	router := gin.New()
	api.NewHandler(svc, nil).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, svc
}

// deadURL returns the address of a server that is no longer listening.
func deadURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(nil)
	url := server.URL
	server.Close()
	return url
}

func writeSeed(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newApp(t *testing.T, serverURL string, cfg config.ClientConfig) (*App, syncache.KV) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg.BaseURL = serverURL + "/api"
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 10 * time.Millisecond
	}
	kv := syncache.NewFileKV(t.TempDir())
	app := New(cfg, kv, nil, logger)
	require.NoError(t, app.Start(context.Background()))
	return app, kv
}

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saixiaoxi/sipstop/internal/config"
	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/storefront"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineCLI(t *testing.T) (*cli, *bytes.Buffer) {
	t.Helper()
	dead := httptest.NewServer(nil)
	dead.Close()

	seed := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(seed, []byte(`[
		{"id":1,"name":"Cola","category":"Soda","price":2.5,"stock":3},
		{"id":2,"name":"Lemonade","category":"Juice","price":3,"stock":0}
	]`), 0o644))

	cfg := &config.Config{Client: config.ClientConfig{
		BaseURL:       dead.URL + "/api",
		Timeout:       time.Second,
		Retries:       0,
		RetryInterval: time.Millisecond,
		SeedProducts:  seed,
	}}
	logger, _ := test.NewNullLogger()
	app := storefront.New(cfg.Client, syncache.NewFileKV(t.TempDir()), nil, logger)
	require.NoError(t, app.Start(context.Background()))

	out := &bytes.Buffer{}
	return &cli{app: app, cfg: cfg, out: out}, out
}

func TestCLIShoppingFlow(t *testing.T) {
	ctx := context.Background()
	c, out := offlineCLI(t)

	require.NoError(t, c.run(ctx, "products", []string{"--category", "Soda"}))
	assert.Contains(t, out.String(), "Cola")
	assert.NotContains(t, out.String(), "Lemonade")
	assert.Contains(t, out.String(), "categories: Juice, Soda")

	err := c.run(ctx, "orders", nil)
	assert.Equal(t, "login required", describe(err))

	require.NoError(t, c.run(ctx, "login", []string{"--email", "customer@sipstop.com", "--password", "customer123"}))
	require.NoError(t, c.run(ctx, "cart-add", []string{"-p", "1", "-q", "2"}))
	assert.True(t, errdefs.IsNotFound(c.run(ctx, "cart-add", []string{"-p", "9"})))

	out.Reset()
	require.NoError(t, c.run(ctx, "checkout", []string{"--name", "John", "--address", "1 Main St"}))
	assert.Contains(t, out.String(), "ORD-")

	out.Reset()
	require.NoError(t, c.run(ctx, "orders", nil))
	assert.Contains(t, out.String(), "pending")

	out.Reset()
	err = c.run(ctx, "status", nil)
	assert.Error(t, err)
	assert.Contains(t, out.String(), `"products": "local_fallback"`)
}

func TestCLIUnknownCommand(t *testing.T) {
	c, _ := offlineCLI(t)
	assert.Error(t, c.run(context.Background(), "dance", nil))
}

package storefront

import (
	"context"
	"errors"
	"testing"

	"github.com/saixiaoxi/sipstop/internal/config"
	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupRemote(t *testing.T) {
	ctx := context.Background()
	server, svc := startAPI(t)
	app, _ := newApp(t, server.URL, config.ClientConfig{Retries: 2})

	u, err := app.Accounts.Signup(ctx, models.User{Name: "Mia", Email: "mia@sipstop.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 3, u.ID)
	assert.Equal(t, models.RoleCustomer, u.Role)
	assert.Len(t, svc.ListUsers(ctx), 3)

	_, err = app.Accounts.Signup(ctx, models.User{Email: "mia@sipstop.com"})
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, "Email already exists", errdefs.Reason(err))

	logged, err := app.Accounts.Login(ctx, "mia@sipstop.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, u, logged)
	assert.True(t, app.Accounts.IsCustomer())
}

func TestSignupOfflineRegistersLocally(t *testing.T) {
	ctx := context.Background()
	app, kv := newApp(t, deadURL(t), config.ClientConfig{Retries: 0})

	_, err := app.Accounts.Signup(ctx, models.User{Email: "OWNER@sipstop.com"})
	assert.True(t, errdefs.IsValidation(err))

	u, err := app.Accounts.Signup(ctx, models.User{Name: "Leo", Email: "leo@sipstop.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 3, u.ID)

	var stored []models.User
	found, err := syncache.GetJSON(ctx, kv, RegisteredUsersKey, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []models.User{u}, stored)

	_, err = app.Accounts.Signup(ctx, models.User{Email: "Leo@SipStop.com"})
	assert.True(t, errdefs.IsValidation(err))

	logged, err := app.Accounts.Login(ctx, "leo@sipstop.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 3, logged.ID)
}

func TestLoginFallbackChain(t *testing.T) {
	ctx := context.Background()

	// Static users file wins over the demo users.
	static := writeSeed(t, "users.json", []models.User{
		{ID: 5, Email: "staff@sipstop.com", Password: "staff", Role: models.RoleOwner},
	})
	app, _ := newApp(t, deadURL(t), config.ClientConfig{SeedUsers: static})
	u, err := app.Accounts.Login(ctx, "staff@sipstop.com", "staff")
	require.NoError(t, err)
	assert.Equal(t, 5, u.ID)
	_, err = app.Accounts.Login(ctx, "owner@sipstop.com", "owner123")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	// Without a readable static file the demo users apply.
	app, _ = newApp(t, deadURL(t), config.ClientConfig{SeedUsers: "/nonexistent/users.json"})
	u, err = app.Accounts.Login(ctx, "owner@sipstop.com", "owner123")
	require.NoError(t, err)
	assert.True(t, app.Accounts.IsOwner())
	assert.False(t, app.Accounts.IsCustomer())
	assert.Equal(t, 1, u.ID)

	_, err = app.Accounts.Login(ctx, "owner@sipstop.com", "wrong")
	assert.True(t, errdefs.IsValidation(err))
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	url := deadURL(t)
	app, kv := newApp(t, url, config.ClientConfig{})

	_, err := app.Accounts.Login(ctx, "customer@sipstop.com", "customer123")
	require.NoError(t, err)

	again := NewAccounts(syncache.NewRemote[models.User](nil, url+"/api", "users", "user"), kv, nil, nil, nil)
	require.NoError(t, again.Restore(ctx))
	u, ok := again.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, 2, u.ID)

	require.NoError(t, again.Logout(ctx))
	assert.False(t, again.IsAuthenticated())
	require.NoError(t, again.Restore(ctx))
	assert.False(t, again.IsAuthenticated())
}

package storefront

import (
	"context"
	"strings"
	"sync"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/saixiaoxi/sipstop/pkg/retry"
	"github.com/sirupsen/logrus"
)

// Blob keys for account state in the local cache.
const (
	RegisteredUsersKey = "registeredUsers"
	CurrentUserKey     = "currentUser"
)

// ErrInvalidCredentials is returned by Login when no account matches.
var ErrInvalidCredentials error = &errdefs.ValidationError{Reason: "invalid email or password"}

// DemoUsers are always accepted when neither the API nor the static users
// file is reachable.
var DemoUsers = []models.User{
	{ID: 1, Email: "owner@sipstop.com", Name: "Store Owner", Password: "owner123", Role: models.RoleOwner},
	{ID: 2, Email: "customer@sipstop.com", Name: "John Customer", Password: "customer123", Role: models.RoleCustomer},
}

// Accounts handles signup, login and the session user.
type Accounts struct {
	remote      syncache.Persister[models.User]
	kv          syncache.KV
	staticUsers syncache.SeedFunc[models.User]
	retry       *retry.Config
	logger      logrus.FieldLogger

	mu      sync.RWMutex
	current *models.User
}

// NewAccounts wires the account service. staticUsers may be nil.
func NewAccounts(remote syncache.Persister[models.User], kv syncache.KV, staticUsers syncache.SeedFunc[models.User], cfg *retry.Config, logger logrus.FieldLogger) *Accounts {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Accounts{
		remote:      remote,
		kv:          kv,
		staticUsers: staticUsers,
		retry:       cfg,
		logger:      logger.WithField("component", "accounts"),
	}
}

// Restore loads the session user saved by a previous Login.
func (a *Accounts) Restore(ctx context.Context) error {
	var u models.User
	found, err := syncache.GetJSON(ctx, a.kv, CurrentUserKey, &u)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if found {
		a.current = &u
	} else {
		a.current = nil
	}
	return nil
}

func (a *Accounts) localUsers(ctx context.Context) []models.User {
	var users []models.User
	if _, err := syncache.GetJSON(ctx, a.kv, RegisteredUsersKey, &users); err != nil {
		a.logger.WithError(err).Warn("Registered users unreadable")
		return nil
	}
	return users
}

// Signup registers user with the API. When the API is unreachable the user
// is stored locally, provided no demo or locally registered account already
// uses the email (compared case-insensitively).
func (a *Accounts) Signup(ctx context.Context, user models.User) (models.User, error) {
	user.Email = strings.TrimSpace(user.Email)
	if user.Email == "" {
		return models.User{}, errdefs.Validationf("email is required")
	}
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}

	created, err := syncache.TryRemote(ctx, a.retry, func(ctx context.Context) (models.User, error) {
		return a.remote.Create(ctx, user)
	})
	switch {
	case err == nil:
		a.logger.WithField("id", created.ID).Info("User registered")
		return created, nil
	case errdefs.IsRejection(err):
		return models.User{}, err
	case ctx.Err() != nil:
		return models.User{}, ctx.Err()
	}

	a.logger.WithError(err).Warn("Backend not available, registering locally")
	local := a.localUsers(ctx)
	all := append(append([]models.User{}, DemoUsers...), local...)
	for _, u := range all {
		if strings.EqualFold(u.Email, user.Email) {
			return models.User{}, errdefs.Validationf("email already exists")
		}
	}
	created = user.WithID(models.NextID(all))
	if err := syncache.SetJSON(ctx, a.kv, RegisteredUsersKey, append(local, created)); err != nil {
		return models.User{}, errdefs.Wrap("signup", RegisteredUsersKey, 0, err)
	}
	a.logger.WithField("id", created.ID).Info("User registered locally")
	return created, nil
}

// Login checks the credentials against, in order: the API's users, the
// static users file, and the demo users. Locally registered users are
// accepted at every step.
func (a *Accounts) Login(ctx context.Context, email, password string) (models.User, error) {
	candidates, source := a.loginCandidates(ctx)
	candidates = append(candidates, a.localUsers(ctx)...)

	for _, u := range candidates {
		if u.Email == email && u.Password == password {
			if err := syncache.SetJSON(ctx, a.kv, CurrentUserKey, u); err != nil {
				return models.User{}, errdefs.Wrap("login", CurrentUserKey, u.ID, err)
			}
			a.mu.Lock()
			a.current = &u
			a.mu.Unlock()
			a.logger.WithFields(logrus.Fields{"id": u.ID, "source": source}).Info("Login successful")
			return u, nil
		}
	}
	return models.User{}, ErrInvalidCredentials
}

func (a *Accounts) loginCandidates(ctx context.Context) ([]models.User, string) {
	users, err := syncache.TryRemote(ctx, a.retry.WithAttempts(1), a.remote.Load)
	if err == nil {
		return users, "remote"
	}
	a.logger.WithError(err).Warn("Backend not available, using fallback authentication")

	if a.staticUsers != nil {
		users, serr := a.staticUsers(ctx)
		if serr == nil {
			return users, "static"
		}
		a.logger.WithError(serr).Warn("Static users unavailable, using demo users")
	}
	return append([]models.User{}, DemoUsers...), "demo"
}

// Logout clears the session user.
func (a *Accounts) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
	return a.kv.Delete(ctx, CurrentUserKey)
}

func (a *Accounts) CurrentUser() (models.User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return models.User{}, false
	}
	return *a.current, true
}

func (a *Accounts) IsAuthenticated() bool {
	_, ok := a.CurrentUser()
	return ok
}

func (a *Accounts) IsOwner() bool {
	u, ok := a.CurrentUser()
	return ok && u.Role == models.RoleOwner
}

func (a *Accounts) IsCustomer() bool {
	u, ok := a.CurrentUser()
	return ok && u.Role == models.RoleCustomer
}

// Package accounts manages gateway accounts and the API key index used to
// resolve a bearer key to its owner in one lookup.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/storage"
	"github.com/wanz-bot/Api/internal/utils"
)

// Store prefixes.
const (
	AccountPrefix = "account:"
	IndexPrefix   = "apikey:"
)

// APIKeyPrefix starts every generated key.
const APIKeyPrefix = "wz-"

const maxResetAttempts = 5

// UsageInitializer creates the empty usage record for a new key.
type UsageInitializer interface {
	Init(ctx context.Context, apiKey string) error
}

// Registry implements registration, login, key reset and key resolution.
type Registry struct {
	store        storage.Store
	cond         storage.ConditionalStore
	usage        UsageInitializer
	defaultLimit int
	newKey       func() string
	now          func() time.Time
	logger       *utils.Logger
}

// NewRegistry creates a registry. defaultLimit is the daily limit of new accounts.
func NewRegistry(store storage.Store, usage UsageInitializer, defaultLimit int) *Registry {
	r := &Registry{
		store:        store,
		usage:        usage,
		defaultLimit: defaultLimit,
		newKey:       GenerateAPIKey,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       utils.NewLogger("accounts"),
	}
	if cs, ok := storage.AsConditional(store); ok {
		r.cond = cs
	}
	return r
}

// GenerateAPIKey returns a new random key of the form "wz-<32 hex>".
func GenerateAPIKey() string {
	return APIKeyPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func accountKey(email string) string { return AccountPrefix + email }

func indexKey(apiKey string) string { return IndexPrefix + apiKey }

// Register creates an account and returns its first API key.
func (r *Registry) Register(ctx context.Context, email, password string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return "", models.Errorf(models.ErrBadRequest, "email and password are required")
	}
	if !models.ValidEmail(email) {
		return "", models.Errorf(models.ErrBadRequest, "invalid email")
	}

	acc := &models.Account{
		Email:      email,
		Password:   password,
		APIKey:     r.newKey(),
		DailyLimit: r.defaultLimit,
		CreatedAt:  r.now(),
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return "", err
	}

	if r.cond != nil {
		created, err := r.cond.PutIfAbsent(ctx, accountKey(email), data)
		if err != nil {
			return "", fmt.Errorf("register %s: %w", email, err)
		}
		if !created {
			return "", models.Errorf(models.ErrConflict, "email already registered")
		}
	} else {
		if _, err := r.store.Get(ctx, accountKey(email)); err == nil {
			return "", models.Errorf(models.ErrConflict, "email already registered")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("register %s: %w", email, err)
		}
		if err := r.store.Put(ctx, accountKey(email), data); err != nil {
			return "", fmt.Errorf("register %s: %w", email, err)
		}
	}

	// The account exists from here on. A failure below leaves it without an
	// index entry or usage record; the key can be recovered with ResetKey
	// and the usage record is recreated on first access.
	if err := r.store.Put(ctx, indexKey(acc.APIKey), []byte(email)); err != nil {
		return "", fmt.Errorf("index key for %s: %w", email, err)
	}
	if err := r.usage.Init(ctx, acc.APIKey); err != nil {
		r.logger.Warn("failed to create usage record", "email", email, "error", err)
	}

	r.logger.Info("account registered", "email", email)
	return acc.APIKey, nil
}

// Get returns the account for email.
func (r *Registry) Get(ctx context.Context, email string) (*models.Account, error) {
	acc, _, err := r.load(ctx, models.NormalizeEmail(email))
	return acc, err
}

// Authenticate checks a password and returns the account.
func (r *Registry) Authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, models.Errorf(models.ErrBadRequest, "email and password are required")
	}
	acc, err := r.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	if acc.Password != password {
		return nil, models.Errorf(models.ErrUnauthorized, "wrong password")
	}
	return acc, nil
}

// ResetKey issues a new API key for email. The old key stops resolving and
// its usage record is abandoned; the new key starts with an empty record.
func (r *Registry) ResetKey(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", models.Errorf(models.ErrBadRequest, "email is required")
	}

	for attempt := 0; attempt < maxResetAttempts; attempt++ {
		acc, raw, err := r.load(ctx, email)
		if err != nil {
			return "", err
		}
		oldKey := acc.APIKey
		newKey := r.newKey()

		// Index and usage go first so the key is usable the moment the
		// account points at it.
		if err := r.store.Put(ctx, indexKey(newKey), []byte(email)); err != nil {
			return "", fmt.Errorf("index key for %s: %w", email, err)
		}
		if err := r.usage.Init(ctx, newKey); err != nil {
			return "", fmt.Errorf("init usage for %s: %w", email, err)
		}

		acc.APIKey = newKey
		data, err := json.Marshal(acc)
		if err != nil {
			return "", err
		}

		swapped := true
		if r.cond != nil {
			swapped, err = r.cond.CompareAndSwap(ctx, accountKey(email), raw, data)
		} else {
			err = r.store.Put(ctx, accountKey(email), data)
		}
		if err != nil {
			return "", fmt.Errorf("reset key for %s: %w", email, err)
		}
		if !swapped {
			// Lost a race with another reset; drop our index entry and retry.
			_ = r.store.Delete(ctx, indexKey(newKey))
			continue
		}

		if err := r.store.Delete(ctx, indexKey(oldKey)); err != nil {
			// Resolve also checks the account's current key, so a stale
			// entry cannot authenticate.
			r.logger.Warn("failed to delete old key index", "email", email, "error", err)
		}
		r.logger.Info("api key reset", "email", email)
		return newKey, nil
	}
	return "", fmt.Errorf("reset key for %s: too many concurrent resets", email)
}

// ResolveByAPIKey returns the account that currently owns apiKey.
func (r *Registry) ResolveByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	if apiKey == "" {
		return nil, models.Errorf(models.ErrNotFound, "unknown api key")
	}
	email, err := r.store.Get(ctx, indexKey(apiKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, models.Errorf(models.ErrNotFound, "unknown api key")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve api key: %w", err)
	}

	acc, _, err := r.load(ctx, string(email))
	if err != nil {
		return nil, err
	}
	if acc.APIKey != apiKey {
		return nil, models.Errorf(models.ErrNotFound, "unknown api key")
	}
	return acc, nil
}

func (r *Registry) load(ctx context.Context, email string) (*models.Account, []byte, error) {
	raw, err := r.store.Get(ctx, accountKey(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, models.Errorf(models.ErrNotFound, "account not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load account %s: %w", email, err)
	}
	var acc models.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, nil, fmt.Errorf("decode account %s: %w", email, err)
	}
	return &acc, raw, nil
}

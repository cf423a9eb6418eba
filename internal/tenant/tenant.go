// Package tenant resolves an inbound webhook token to a tenant's platform
// credentials, decrypting stored secrets through Secrets and reading the
// "users" and "gitlab_configs" collections spec.md §6 names.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Store lookups when no record matches.
var ErrNotFound = errors.New("tenant: not found")

const configTokenPrefix = "glconfig_"

// User is the "users" collection: an account that owns one or more
// platform configurations.
type User struct {
	ID        string
	Email     string
	Username  string
	CreatedAt time.Time
}

// Config is a "gitlab_configs" row: one set of platform credentials bound
// to a user, addressable by an opaque `glconfig_…` token.
type Config struct {
	ID                  string
	Token               string // opaque, carries the configTokenPrefix
	UserID              string
	IsDefault           bool
	DisplayName         string
	PlatformBaseURL     string
	PlatformAccessToken string // vault envelope at rest
	WebhookSecret       string // vault envelope at rest
	AIExecutor          string
	ProjectPath         string
	CreatedAt           time.Time
}

// Resolved is the tenant context assembled after a successful resolution:
// decrypted credentials, ready to attach to a request.
type Resolved struct {
	TenantID            string
	OpaqueToken         string
	ConfigID            string
	DisplayName         string
	PlatformBaseURL     string
	PlatformAccessToken string
	WebhookSecret       string
	AIExecutor          string
}

// Store is the persistence contract spec.md §6 names for the tenant store:
// findByToken, findDefaultConfig, findConfigByToken, findConfigsForUser,
// plus the encrypt/decrypt pair (provided separately by the vault package,
// composed in here via Secrets).
type Store interface {
	FindConfigByToken(ctx context.Context, token string) (*Config, error)
	FindUserByToken(ctx context.Context, token string) (*User, error)
	FindDefaultConfig(ctx context.Context, userID string) (*Config, error)
	FindConfigsForUser(ctx context.Context, userID string) ([]Config, error)
}

// Secrets decrypts the two vault-encrypted fields on a Config.
type Secrets interface {
	Decrypt(stored string) (string, error)
}

// LegacyCredentials is the process-wide fallback used when no tenant token
// is supplied and no platform store match is found.
type LegacyCredentials struct {
	BaseURL       string
	Token         string
	WebhookSecret string
}

// Resolver resolves an inbound webhook's tenant token to credentials,
// following the resolution order in spec.md §4.1.
type Resolver struct {
	store   Store
	secrets Secrets
	legacy  LegacyCredentials
}

func NewResolver(store Store, secrets Secrets, legacy LegacyCredentials) *Resolver {
	return &Resolver{store: store, secrets: secrets, legacy: legacy}
}

// Resolve implements the §4.1 resolution order:
//  1. glconfig_ prefixed token -> that configuration.
//  2. otherwise -> user record by token; its default config, else its first
//     config.
//  3. otherwise, if no token was supplied at all -> legacy fallback, if
//     configured.
//
// A token that does not resolve to anything is ErrNotFound (caller maps to
// 404); an empty token with no legacy fallback is also ErrNotFound (caller
// maps to 400, distinguishing on whether token was empty).
func (r *Resolver) Resolve(ctx context.Context, token string) (*Resolved, error) {
	if token == "" {
		if r.legacy.BaseURL == "" || r.legacy.Token == "" || r.legacy.WebhookSecret == "" {
			return nil, ErrNotFound
		}
		return &Resolved{
			TenantID:            "legacy",
			OpaqueToken:         "",
			PlatformBaseURL:     r.legacy.BaseURL,
			PlatformAccessToken: r.legacy.Token,
			WebhookSecret:       r.legacy.WebhookSecret,
			AIExecutor:          "",
		}, nil
	}

	if strings.HasPrefix(token, configTokenPrefix) {
		cfg, err := r.store.FindConfigByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, ErrNotFound
		}
		return r.resolveFromConfig(cfg)
	}

	user, err := r.store.FindUserByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	cfg, err := r.store.FindDefaultConfig(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		configs, err := r.store.FindConfigsForUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if len(configs) == 0 {
			if r.legacy.BaseURL != "" && r.legacy.Token != "" && r.legacy.WebhookSecret != "" {
				return &Resolved{
					TenantID:            user.ID,
					OpaqueToken:         token,
					PlatformBaseURL:     r.legacy.BaseURL,
					PlatformAccessToken: r.legacy.Token,
					WebhookSecret:       r.legacy.WebhookSecret,
				}, nil
			}
			return nil, ErrNotFound
		}
		cfg = &configs[0]
	}

	return r.resolveFromConfig(cfg)
}

func (r *Resolver) resolveFromConfig(cfg *Config) (*Resolved, error) {
	token, err := r.secrets.Decrypt(cfg.PlatformAccessToken)
	if err != nil {
		return nil, fmt.Errorf("tenant: decrypting access token: %w", err)
	}
	secret, err := r.secrets.Decrypt(cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("tenant: decrypting webhook secret: %w", err)
	}
	return &Resolved{
		TenantID:            cfg.UserID,
		OpaqueToken:         cfg.Token,
		ConfigID:            cfg.ID,
		DisplayName:         cfg.DisplayName,
		PlatformBaseURL:     cfg.PlatformBaseURL,
		PlatformAccessToken: token,
		WebhookSecret:       secret,
		AIExecutor:          cfg.AIExecutor,
	}, nil
}

// Package secrets resolves credentials from HashiCorp Vault with an
// environment variable fallback, so local development runs without a
// Vault deployment.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Config selects the Vault deployment and mount.
type Config struct {
	Enabled   bool
	Address   string
	Token     string
	MountPath string // KV v2 mount, e.g. "secret"
	BasePath  string // path under the mount, e.g. "trading-engine"
}

// Resolver fetches named secrets. Values are cached after first read;
// the engine's credentials do not rotate mid-process.
type Resolver struct {
	client *api.Client
	cfg    Config

	mu    sync.RWMutex
	cache map[string]string

	logger zerolog.Logger
}

// NewResolver builds a resolver. With Enabled false every lookup goes
// straight to the environment.
func NewResolver(cfg Config, logger zerolog.Logger) (*Resolver, error) {
	r := &Resolver{
		cfg:    cfg,
		cache:  make(map[string]string),
		logger: logger.With().Str("component", "secrets").Logger(),
	}
	if !cfg.Enabled {
		r.logger.Info().Msg("vault disabled, secrets resolved from environment")
		return r, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	r.client = client
	r.logger.Info().Str("address", cfg.Address).Msg("vault client configured")
	return r, nil
}

// Get resolves a secret by name. Vault wins when enabled and the key
// exists there; otherwise the env var of the same name applies. An
// empty result is not an error; callers decide whether the value is
// required.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	if v, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()

	if r.client != nil {
		v, err := r.fromVault(ctx, name)
		if err != nil {
			return "", err
		}
		if v != "" {
			r.store(name, v)
			return v, nil
		}
	}

	v := os.Getenv(name)
	if v != "" {
		r.store(name, v)
	}
	return v, nil
}

func (r *Resolver) fromVault(ctx context.Context, name string) (string, error) {
	secret, err := r.client.KVv2(r.cfg.MountPath).Get(ctx, r.cfg.BasePath)
	if err != nil {
		if err == api.ErrSecretNotFound {
			return "", nil
		}
		return "", fmt.Errorf("vault read failed for %s: %w", name, err)
	}
	if raw, ok := secret.Data[name]; ok {
		if s, ok := raw.(string); ok {
			return s, nil
		}
	}
	return "", nil
}

func (r *Resolver) store(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = value
}

// Package secrets resolves runtime credentials (JWT signing keys, database
// passwords, OCR API keys) from a secret backend, with a TTL cache in front
// so lookups on the hot path never hit the network.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/clock"
)

// ErrNotFound reports a secret that does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// DefaultCacheTTL is how long fetched secrets are reused before the backend
// is asked again.
const DefaultCacheTTL = 5 * time.Minute

// Provider fetches a named secret from a backend.
type Provider interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, name string) (string, error)

func (f ProviderFunc) Fetch(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// Static is a Provider backed by a fixed map, for development and tests.
type Static map[string]string

func (s Static) Fetch(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// Cache wraps a Provider with TTL-based reuse. A fetch failure never
// evicts a still-valid entry.
type Cache struct {
	provider Provider
	clock    clock.Clock
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]cachedSecret
}

// NewCache creates a caching layer over provider. A non-positive ttl uses
// DefaultCacheTTL.
func NewCache(provider Provider, clk clock.Clock, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{
		provider: provider,
		clock:    clk,
		ttl:      ttl,
		entries:  make(map[string]cachedSecret),
	}
}

// Fetch returns the named secret, from cache when fresh.
func (c *Cache) Fetch(ctx context.Context, name string) (string, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if entry, ok := c.entries[name]; ok && now.Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	value, err := c.provider.Fetch(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[name] = cachedSecret{value: value, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	logger.DebugCtx(ctx, "secret fetched", "secret_name", name)
	return value, nil
}

// Invalidate drops a cached secret, forcing the next Fetch to hit the
// backend. Used after credential rotation.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// FetchJSON fetches a secret and unmarshals it into out. Backends commonly
// store structured credentials as JSON objects.
func FetchJSON(ctx context.Context, p Provider, name string, out any) error {
	raw, err := p.Fetch(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("secret %s is not valid JSON: %w", name, err)
	}
	return nil
}

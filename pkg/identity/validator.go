package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/insurecove/document-service/pkg/clock"
)

// Common errors for token validation.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// DefaultCacheTTL is how long a validated token stays in the cache.
// Entries never outlive the token's own expiry.
const DefaultCacheTTL = 300 * time.Second

// maxCacheEntries bounds cache memory; when full, expired entries are
// evicted first, then the cache is cleared.
const maxCacheEntries = 4096

// Config holds token validation configuration.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// Issuer, when set, is required to match the token's iss claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// Audience, when set, is required to match the token's aud claim.
	Audience string `mapstructure:"audience" yaml:"audience"`

	// CacheTTL is how long validation results are cached.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type cacheEntry struct {
	principal *Principal
	expiresAt time.Time
}

// Validator verifies bearer tokens and produces Principals.
type Validator struct {
	config Config
	clock  clock.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewValidator creates a token validator.
func NewValidator(config Config, clk clock.Clock) (*Validator, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Validator{
		config: config,
		clock:  clk,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Validate verifies a bearer token and returns the authenticated principal.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	key := cacheKey(tokenString)
	now := v.clock.Now()

	v.mu.Lock()
	if entry, ok := v.cache[key]; ok && now.Before(entry.expiresAt) {
		p := entry.principal
		v.mu.Unlock()
		return p, nil
	}
	v.mu.Unlock()

	claims, err := v.parse(tokenString)
	if err != nil {
		return nil, err
	}

	principal := &Principal{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   Role(claims.Role),
		Scopes: claims.Scopes,
	}
	if principal.UserID == "" {
		principal.UserID = claims.Subject
	}
	if principal.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if principal.Role == "" {
		principal.Role = RoleUser
	}

	cacheUntil := now.Add(v.config.CacheTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(cacheUntil) {
		cacheUntil = claims.ExpiresAt.Time
	}

	v.mu.Lock()
	if len(v.cache) >= maxCacheEntries {
		v.evictLocked(now)
	}
	v.cache[key] = cacheEntry{principal: principal, expiresAt: cacheUntil}
	v.mu.Unlock()

	return principal, nil
}

// parse verifies the signature and registered claims.
func (v *Validator) parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// evictLocked removes expired entries; if nothing expired, the whole cache
// is reset. Callers hold v.mu.
func (v *Validator) evictLocked(now time.Time) {
	removed := 0
	for k, e := range v.cache {
		if !now.Before(e.expiresAt) {
			delete(v.cache, k)
			removed++
		}
	}
	if removed == 0 {
		v.cache = make(map[string]cacheEntry)
	}
}

// CacheSize returns the number of cached validation results.
func (v *Validator) CacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}

// cacheKey hashes the token so raw credentials never sit in memory as map
// keys.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

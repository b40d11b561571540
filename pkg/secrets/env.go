package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env is a Provider backed by environment variables, for development and
// single-node deployments without a secret manager.
//
// A secret name is mapped to a variable by prefixing it and uppercasing:
// with prefix "DOCSVC_SECRET_", the name "auth/jwt_signing_key" resolves
// from DOCSVC_SECRET_AUTH_JWT_SIGNING_KEY.
type Env struct {
	prefix string
}

// DefaultEnvPrefix is the variable prefix used when none is configured.
const DefaultEnvPrefix = "DOCSVC_SECRET_"

// NewEnv creates an environment-variable provider. An empty prefix uses
// DefaultEnvPrefix.
func NewEnv(prefix string) *Env {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &Env{prefix: prefix}
}

// Fetch resolves the named secret from the environment.
func (e *Env) Fetch(ctx context.Context, name string) (string, error) {
	key := e.prefix + envKey(name)
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s (variable %s not set)", ErrNotFound, name, key)
	}
	return value, nil
}

// envKey normalizes a secret name into an environment variable suffix.
func envKey(name string) string {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return strings.ToUpper(replacer.Replace(name))
}

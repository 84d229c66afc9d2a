package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNotConfigured means the secret does not exist in the provider.
	ErrNotConfigured = errors.New("secret not configured")

	// ErrUnavailable means the provider could not be reached or answered
	// with an error. Callers treat it as transient.
	ErrUnavailable = errors.New("secret provider unavailable")
)

// Provider resolves named secrets such as API keys and broker tokens.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables named
// <Prefix>_<NAME>, e.g. SIGNAL_SECRET_BROKER_TOKEN.
type EnvProvider struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvProvider creates an EnvProvider for prefix.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix, lookup: os.LookupEnv}
}

var _ Provider = (*EnvProvider)(nil)

// Get returns the secret or ErrNotConfigured when the variable is unset or empty.
func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	key := EnvKey(p.Prefix, name)
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, key)
	}
	return v, nil
}

// EnvKey builds the environment variable name for a secret.
func EnvKey(prefix, name string) string {
	name = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}

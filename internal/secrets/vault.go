package secrets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// VaultProvider reads secrets from an HTTP key/value secret store:
// GET {base}/v1/secrets/{name} -> {"value": "..."}.
// Values are cached for CacheTTL.
type VaultProvider struct {
	http     *resty.Client
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]cachedSecret
	now   func() time.Time
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// VaultOptions configures a VaultProvider.
type VaultOptions struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	CacheTTL time.Duration
	Retries  int
}

const (
	defaultVaultTimeout  = 5 * time.Second
	defaultVaultCacheTTL = 5 * time.Minute
)

// NewVaultProvider creates a VaultProvider.
func NewVaultProvider(opts VaultOptions) *VaultProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultVaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultVaultCacheTTL
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		})
	if opts.Token != "" {
		client.SetHeader("X-Vault-Token", opts.Token)
	}

	return &VaultProvider{
		http:     client,
		cacheTTL: opts.CacheTTL,
		cache:    make(map[string]cachedSecret),
		now:      time.Now,
	}
}

var _ Provider = (*VaultProvider)(nil)

type vaultSecret struct {
	Value string `json:"value"`
}

// Get returns the named secret, served from cache when fresh.
func (p *VaultProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	if c, ok := p.cache[name]; ok && p.now().Sub(c.fetchedAt) < p.cacheTTL {
		p.mu.Unlock()
		return c.value, nil
	}
	p.mu.Unlock()

	var out vaultSecret
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/secrets/" + url.PathEscape(name))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, name)
	case resp.IsError():
		return "", fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode())
	case out.Value == "":
		return "", fmt.Errorf("%w: %s is empty", ErrNotConfigured, name)
	}

	p.mu.Lock()
	p.cache[name] = cachedSecret{value: out.Value, fetchedAt: p.now()}
	p.mu.Unlock()

	return out.Value, nil
}

package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/secrets"
)

// Remote adapter ids.
const (
	SentimentID = "sentiment"
	AnalysisID  = "analysis"
)

// RemoteOptions configures a Remote adapter.
type RemoteOptions struct {
	ID            string
	BaseURL       string
	SecretName    string // empty means no auth header
	Secrets       secrets.Provider
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client // optional, for tests
}

// Remote queries an HTTP scoring service: GET {base}/{symbol} returning
// {"score": -1..1, "confidence": 0..100}.
type Remote struct {
	id         string
	http       *resty.Client
	limiter    *rate.Limiter
	secrets    secrets.Provider
	secretName string
	now        func() time.Time
}

var _ Adapter = (*Remote)(nil)

type remoteScore struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
}

// NewRemote creates a Remote adapter.
func NewRemote(opts RemoteOptions) *Remote {
	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	client.SetBaseURL(opts.BaseURL).SetHeader("Accept", "application/json")

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Remote{
		id:         opts.ID,
		http:       client,
		limiter:    rate.NewLimiter(limit, burst),
		secrets:    opts.Secrets,
		secretName: opts.SecretName,
		now:        time.Now,
	}
}

// ID returns the adapter id.
func (r *Remote) ID() string { return r.id }

// Fetch calls the remote service within timeout.
func (r *Remote) Fetch(ctx context.Context, symbol string, timeout time.Duration) (*domain.SourceSignal, error) {
	start := r.now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, Unavailable(r.id, symbol, fmt.Errorf("rate limit: %w", err))
	}

	req := r.http.R().SetContext(ctx)
	if r.secretName != "" {
		if r.secrets == nil {
			return nil, Unavailable(r.id, symbol, secrets.ErrNotConfigured)
		}
		key, err := r.secrets.Get(ctx, r.secretName)
		if err != nil {
			return nil, Unavailable(r.id, symbol, err)
		}
		req.SetAuthToken(key)
	}

	var out remoteScore
	resp, err := req.SetResult(&out).Get("/" + url.PathEscape(symbol))
	if err != nil {
		return nil, Unavailable(r.id, symbol, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound || code == http.StatusUnprocessableEntity:
		return nil, Unsupported(r.id, symbol, fmt.Errorf("HTTP %d", code))
	case resp.IsError():
		return nil, Unavailable(r.id, symbol, fmt.Errorf("HTTP %d", code))
	}

	if out.Score == nil || out.Confidence == nil || math.IsNaN(*out.Score) || math.IsNaN(*out.Confidence) {
		return nil, Unavailable(r.id, symbol, errors.New("malformed response"))
	}

	return &domain.SourceSignal{
		SourceID:         r.id,
		Symbol:           symbol,
		DirectionalScore: clamp(*out.Score, -1, 1),
		Confidence:       clamp(*out.Confidence, 0, 100),
		TimestampMs:      r.now().UnixMilli(),
		LatencyMs:        r.now().Sub(start).Milliseconds(),
	}, nil
}

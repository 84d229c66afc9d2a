package execution

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/secrets"
)

// HTTPBrokerOptions configures an HTTPBroker.
type HTTPBrokerOptions struct {
	BaseURL       string
	SecretName    string
	Secrets       secrets.Provider
	RatePerSecond float64
	Timeout       time.Duration
	HTTPClient    *http.Client // optional, for tests
}

// HTTPBroker talks to a REST brokerage:
//
//	POST   /v1/orders       submit, returns {"order_id"}
//	GET    /v1/orders/{id}  status
//	DELETE /v1/orders/{id}  cancel
//	GET    /v1/account      equity, buying power, status
//
// Retries are left to the caller's RetryPolicy so every attempt is counted.
type HTTPBroker struct {
	http       *resty.Client
	limiter    *rate.Limiter
	secrets    secrets.Provider
	secretName string
}

var (
	_ Broker        = (*HTTPBroker)(nil)
	_ AccountReader = (*HTTPBroker)(nil)
)

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
}

type orderResponse struct {
	OrderID   string  `json:"order_id"`
	State     string  `json:"state"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
	Reason    string  `json:"reason"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Account is the broker's view of the trading account.
type Account struct {
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
	Status      string  `json:"status"`
}

// AccountReader is implemented by brokers that expose account state.
type AccountReader interface {
	Account(ctx context.Context) (*Account, error)
}

// NewHTTPBroker creates an HTTP broker client.
func NewHTTPBroker(opts HTTPBrokerOptions) *HTTPBroker {
	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetError(&errorResponse{})

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &HTTPBroker{
		http:       client,
		limiter:    rate.NewLimiter(limit, 1),
		secrets:    opts.Secrets,
		secretName: opts.SecretName,
	}
}

func (b *HTTPBroker) request(ctx context.Context) (*resty.Request, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := b.http.R().SetContext(ctx)
	if b.secretName != "" && b.secrets != nil {
		token, err := b.secrets.Get(ctx, b.secretName)
		if err != nil {
			return nil, &BrokerError{Code: "auth_unavailable", Message: err.Error(), Transient: true}
		}
		req.SetAuthToken(token)
	}
	return req, nil
}

// Submit places order. The client order id is sent so the brokerage can
// deduplicate retried submissions.
func (b *HTTPBroker) Submit(ctx context.Context, o domain.Order) (string, error) {
	req, err := b.request(ctx)
	if err != nil {
		return "", err
	}
	var out orderResponse
	resp, err := req.
		SetBody(orderRequest{
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			Type:          string(o.Type),
			Quantity:      o.Quantity,
			LimitPrice:    o.LimitPrice,
			StopPrice:     o.StopPrice,
		}).
		SetResult(&out).
		Post("/v1/orders")
	if err := classify(resp, err); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", &BrokerError{Code: "malformed_response", Message: "missing order_id", Transient: true}
	}
	return out.OrderID, nil
}

func (b *HTTPBroker) Status(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	req, err := b.request(ctx)
	if err != nil {
		return nil, err
	}
	var out orderResponse
	resp, err := req.SetResult(&out).Get("/v1/orders/" + url.PathEscape(orderID))
	if err := classify(resp, err); err != nil {
		return nil, err
	}
	return &domain.OrderStatus{
		OrderID:   orderID,
		State:     domain.OrderState(out.State),
		FilledQty: out.FilledQty,
		AvgPrice:  out.AvgPrice,
		Reason:    out.Reason,
	}, nil
}

func (b *HTTPBroker) Cancel(ctx context.Context, orderID string) error {
	req, err := b.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.Delete("/v1/orders/" + url.PathEscape(orderID))
	return classify(resp, err)
}

func (b *HTTPBroker) Account(ctx context.Context) (*Account, error) {
	req, err := b.request(ctx)
	if err != nil {
		return nil, err
	}
	var out Account
	resp, err := req.SetResult(&out).Get("/v1/account")
	if err := classify(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// classify maps transport errors and HTTP statuses onto BrokerError.
// 408, 429 and 5xx are transient; any other 4xx is permanent.
func classify(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("broker request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	code := resp.StatusCode()
	be := &BrokerError{Code: fmt.Sprintf("http_%d", code), Message: http.StatusText(code)}
	if e, ok := resp.Error().(*errorResponse); ok && e != nil {
		if e.Code != "" {
			be.Code = e.Code
		}
		if e.Message != "" {
			be.Message = e.Message
		}
	}
	be.Transient = code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
	return be
}

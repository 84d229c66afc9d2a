package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSFeedConfig configures the websocket price feed.
type WSFeedConfig struct {
	URL string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the doubling reconnect delay.
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	// MaxStaleness is how old a cached price may be before it is refused.
	MaxStaleness time.Duration
	// Now stamps received trades. Defaults to time.Now.
	Now func() time.Time
}

// DefaultWSFeedConfig returns default websocket settings.
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxStaleness:      time.Minute,
	}
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type tradeMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type quote struct {
	price float64
	at    time.Time
}

// WSPriceFeed keeps the last trade price per symbol from a websocket
// stream. It reconnects with exponential delay and resubscribes.
type WSPriceFeed struct {
	cfg WSFeedConfig
	log zerolog.Logger
	now func() time.Time

	conn   *websocket.Conn
	connMu sync.Mutex

	quotes   map[string]quote
	quotesMu sync.RWMutex

	symbols   map[string]struct{}
	symbolsMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ PriceFeed = (*WSPriceFeed)(nil)

// NewWSPriceFeed connects to cfg.URL and starts the read and ping loops.
func NewWSPriceFeed(ctx context.Context, cfg WSFeedConfig, log zerolog.Logger) (*WSPriceFeed, error) {
	def := DefaultWSFeedConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = def.MaxStaleness
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	f := &WSPriceFeed{
		cfg:     cfg,
		log:     log,
		now:     cfg.Now,
		quotes:  make(map[string]quote),
		symbols: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()
	return f, nil
}

func (f *WSPriceFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

// Subscribe adds symbols to the stream. Subscriptions survive reconnects.
func (f *WSPriceFeed) Subscribe(symbols ...string) error {
	f.symbolsMu.Lock()
	for _, s := range symbols {
		f.symbols[s] = struct{}{}
	}
	f.symbolsMu.Unlock()
	return f.send(subscribeRequest{Action: "subscribe", Symbols: symbols})
}

func (f *WSPriceFeed) send(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	if err := f.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// CurrentPrice returns the cached last trade, or ErrStalePrice if it is
// older than MaxStaleness.
func (f *WSPriceFeed) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	f.quotesMu.RLock()
	q, ok := f.quotes[symbol]
	f.quotesMu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	if age := f.now().Sub(q.at); age > f.cfg.MaxStaleness {
		return 0, fmt.Errorf("%w: %s last trade %s ago", ErrStalePrice, symbol, age.Round(time.Millisecond))
	}
	return q.price, nil
}

// Close stops the loops and closes the connection.
func (f *WSPriceFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

func (f *WSPriceFeed) readLoop() {
	defer f.wg.Done()

	delay := f.cfg.ReconnectDelay
	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			f.log.Warn().Err(err).Dur("delay", delay).Msg("price feed disconnected, reconnecting")
			if !f.reconnect(delay) {
				delay = min(delay*2, f.cfg.MaxReconnectDelay)
				continue
			}
			delay = f.cfg.ReconnectDelay
			continue
		}
		f.handleMessage(msg)
	}
}

// reconnect waits delay, dials again and replays subscriptions.
func (f *WSPriceFeed) reconnect(delay time.Duration) bool {
	select {
	case <-f.done:
		return false
	case <-time.After(delay):
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.connect(ctx); err != nil {
		f.log.Warn().Err(err).Msg("price feed reconnect failed")
		return false
	}

	f.symbolsMu.Lock()
	symbols := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		symbols = append(symbols, s)
	}
	f.symbolsMu.Unlock()
	if len(symbols) > 0 {
		if err := f.send(subscribeRequest{Action: "subscribe", Symbols: symbols}); err != nil {
			f.log.Warn().Err(err).Msg("price feed resubscribe failed")
			return false
		}
	}
	return true
}

func (f *WSPriceFeed) handleMessage(msg []byte) {
	var m tradeMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return
	}
	if m.Type != "trade" || m.Symbol == "" || m.Price <= 0 {
		return
	}
	f.quotesMu.Lock()
	f.quotes[m.Symbol] = quote{price: m.Price, at: f.now()}
	f.quotesMu.Unlock()
}

func (f *WSPriceFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				_ = f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.WriteTimeout))
			}
			f.connMu.Unlock()
		}
	}
}

package source

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/secrets"
)

type fakeBars struct {
	bars []*domain.Bar
	err  error
}

func (f fakeBars) RecentBars(_ context.Context, _ string, n int) ([]*domain.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.bars) <= n {
		return f.bars, nil
	}
	return f.bars[len(f.bars)-n:], nil
}

func barsFromCloses(closes ...float64) []*domain.Bar {
	out := make([]*domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = &domain.Bar{Symbol: "AAPL", TimestampMs: int64(i) * 60_000, Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return out
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRSI(t *testing.T) {
	if got := RSI(rising(20, 100, 1), 14); got != 100 {
		t.Errorf("RSI of strictly rising series = %v, want 100", got)
	}
	if got := RSI(rising(20, 100, -1), 14); got != 0 {
		t.Errorf("RSI of strictly falling series = %v, want 0", got)
	}
	if got := RSI([]float64{1, 2}, 14); got != 50 {
		t.Errorf("RSI with short history = %v, want 50", got)
	}
	// alternating equal moves -> balanced
	alt := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10}
	if got := RSI(alt, 14); math.Abs(got-50) > 1e-9 {
		t.Errorf("RSI of balanced series = %v, want 50", got)
	}
}

func TestSMAAndROC(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	if SMA(xs, 2) != 4.5 {
		t.Errorf("SMA = %v, want 4.5", SMA(xs, 2))
	}
	if SMA(xs, 10) != 0 {
		t.Error("SMA with short input should be 0")
	}
	if got := ROC([]float64{100, 105, 110}, 2); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("ROC = %v, want 0.1", got)
	}
}

func TestTechnicalAdapters_Direction(t *testing.T) {
	up := fakeBars{bars: barsFromCloses(rising(40, 100, 0.5)...)}
	down := fakeBars{bars: barsFromCloses(rising(40, 120, -0.5)...)}
	ctx := context.Background()

	adapters := func(p BarProvider) []*Technical {
		return []*Technical{
			NewMomentum(p, 10, 5, 50),
			NewRSI(p, 14, 50),
			NewTrend(p, 5, 20, 50),
		}
	}

	for _, a := range adapters(up) {
		sig, err := a.Fetch(ctx, "AAPL", time.Second)
		if err != nil {
			t.Fatalf("%s: %v", a.ID(), err)
		}
		if a.ID() == RSIID {
			if sig.DirectionalScore >= 0 {
				t.Errorf("rsi on overbought series should be bearish, got %v", sig.DirectionalScore)
			}
			continue
		}
		if sig.DirectionalScore <= 0 {
			t.Errorf("%s on rising series: score %v, want > 0", a.ID(), sig.DirectionalScore)
		}
		if sig.TimestampMs != 39*60_000 {
			t.Errorf("%s: timestamp %d, want last bar", a.ID(), sig.TimestampMs)
		}
	}
	for _, a := range adapters(down) {
		sig, err := a.Fetch(ctx, "AAPL", time.Second)
		if err != nil {
			t.Fatalf("%s: %v", a.ID(), err)
		}
		if a.ID() != RSIID && sig.DirectionalScore >= 0 {
			t.Errorf("%s on falling series: score %v, want < 0", a.ID(), sig.DirectionalScore)
		}
	}
}

func TestVolumeAdapter(t *testing.T) {
	bars := barsFromCloses(rising(21, 100, 0)...)
	last := bars[len(bars)-1]
	last.Open, last.Close, last.Volume = 100, 101, 300 // 3x average, green bar

	sig, err := NewVolume(fakeBars{bars: bars}, 20, 2, 30).Fetch(context.Background(), "AAPL", time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if sig.DirectionalScore != 1 || sig.Confidence != 100 {
		t.Errorf("got score %v conf %v, want full bullish surge", sig.DirectionalScore, sig.Confidence)
	}
}

func TestTechnicalAdapters_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewMomentum(fakeBars{}, 10, 5, 50).Fetch(ctx, "XYZ", time.Second)
	if !errors.Is(err, ErrSymbolUnsupported) {
		t.Errorf("no bars: expected ErrSymbolUnsupported, got %v", err)
	}

	boom := errors.New("store down")
	_, err = NewMomentum(fakeBars{err: boom}, 10, 5, 50).Fetch(ctx, "AAPL", time.Second)
	if !errors.Is(err, ErrSourceUnavailable) || !errors.Is(err, boom) {
		t.Errorf("provider error: expected unavailable wrapping cause, got %v", err)
	}

	_, err = NewTrend(fakeBars{bars: barsFromCloses(1, 2, 3)}, 5, 20, 50).Fetch(ctx, "AAPL", time.Second)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("short history: expected ErrSourceUnavailable, got %v", err)
	}
}

type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", secrets.ErrNotConfigured
}

func TestRemoteAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/AAPL":
			_, _ = w.Write([]byte(`{"score": 0.6, "confidence": 80}`))
		case "/BAD":
			_, _ = w.Write([]byte(`{"score": 0.6}`))
		case "/SLOW":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"score": 0.1, "confidence": 10}`))
		case "/DOWN":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := NewRemote(RemoteOptions{
		ID:         SentimentID,
		BaseURL:    srv.URL,
		SecretName: "sentiment_key",
		Secrets:    staticSecrets{"sentiment_key": "key-1"},
	})
	ctx := context.Background()

	sig, err := r.Fetch(ctx, "AAPL", time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if sig.DirectionalScore != 0.6 || sig.Confidence != 80 || sig.SourceID != SentimentID {
		t.Errorf("unexpected signal: %+v", sig)
	}

	tests := []struct {
		symbol  string
		timeout time.Duration
		want    error
	}{
		{"NOPE", time.Second, ErrSymbolUnsupported},
		{"DOWN", time.Second, ErrSourceUnavailable},
		{"BAD", time.Second, ErrSourceUnavailable},
		{"SLOW", 50 * time.Millisecond, ErrSourceUnavailable},
	}
	for _, tt := range tests {
		if _, err := r.Fetch(ctx, tt.symbol, tt.timeout); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.symbol, tt.want, err)
		}
	}

	noKey := NewRemote(RemoteOptions{ID: AnalysisID, BaseURL: srv.URL, SecretName: "missing", Secrets: staticSecrets{}})
	if _, err := noKey.Fetch(ctx, "AAPL", time.Second); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("missing key: expected ErrSourceUnavailable, got %v", err)
	}
}

type stubAdapter struct {
	id    string
	delay time.Duration
	score float64
	err   error
}

func (s stubAdapter) ID() string { return s.id }

func (s stubAdapter) Fetch(ctx context.Context, symbol string, _ time.Duration) (*domain.SourceSignal, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, Unavailable(s.id, symbol, ctx.Err())
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &domain.SourceSignal{SourceID: s.id, Symbol: symbol, DirectionalScore: s.score, Confidence: 70}, nil
}

func TestCollector_JoinsWithinDeadline(t *testing.T) {
	c := NewCollector([]Adapter{
		stubAdapter{id: "zeta", score: 0.5},
		stubAdapter{id: "alpha", score: -0.2},
		stubAdapter{id: "slow", delay: time.Second},
		stubAdapter{id: "broken", err: Unsupported("broken", "AAPL", nil)},
	}, CollectorOptions{Timeout: 50 * time.Millisecond})

	start := time.Now()
	got := c.Collect(context.Background(), "AAPL")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("collect took %v, adapters were not bounded by their deadline", elapsed)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(got))
	}
	if got[0].SourceID != "alpha" || got[1].SourceID != "zeta" {
		t.Errorf("responses not sorted by source id: %s, %s", got[0].SourceID, got[1].SourceID)
	}

	health := c.Health()
	byID := make(map[string]AdapterHealth)
	for _, h := range health {
		byID[h.SourceID] = h
	}
	if byID["alpha"].LastSuccessMs == 0 {
		t.Error("alpha success not recorded")
	}
	if byID["slow"].Failures != 1 || byID["slow"].LastError == "" {
		t.Errorf("slow failure not recorded: %+v", byID["slow"])
	}
	if byID["broken"].Failures != 1 {
		t.Errorf("broken failure not recorded: %+v", byID["broken"])
	}
}

func TestCollector_NoAdapters(t *testing.T) {
	c := NewCollector(nil, CollectorOptions{Timeout: 10 * time.Millisecond})
	if got := c.Collect(context.Background(), "AAPL"); len(got) != 0 {
		t.Errorf("expected no responses, got %d", len(got))
	}
}

func TestFromConfig(t *testing.T) {
	c := config.SourcesConfig{
		BarLookback: 60,
		Momentum:    config.MomentumConfig{Period: 10, FullScalePct: 5},
		RSI:         config.RSIConfig{Disabled: true, Period: 14},
		Trend:       config.TrendConfig{FastPeriod: 5, SlowPeriod: 20},
		Volume:      config.VolumeConfig{Period: 20, SurgeRatio: 2},
		Sentiment:   config.RemoteConfig{Enabled: true, BaseURL: "http://sentiment.local", RatePerSecond: 1, Burst: 1},
	}

	var ids []string
	for _, a := range TechnicalFromConfig(c, fakeBars{}) {
		ids = append(ids, a.ID())
	}
	if len(ids) != 3 || ids[0] != MomentumID || ids[1] != TrendID || ids[2] != VolumeID {
		t.Errorf("technical ids = %v", ids)
	}

	remote := RemoteFromConfig(c, nil)
	if len(remote) != 1 || remote[0].ID() != SentimentID {
		t.Errorf("remote adapters = %v", remote)
	}
}

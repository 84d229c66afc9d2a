package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/idhash"
	"trade-signal-pipeline/internal/monitor"
	"trade-signal-pipeline/internal/orchestrator"
	"trade-signal-pipeline/internal/pipeline"
	"trade-signal-pipeline/internal/source"
	"trade-signal-pipeline/internal/storage"
	"trade-signal-pipeline/internal/storage/memory"
)

type fakeTrigger struct {
	got []string
}

func (t *fakeTrigger) Run(_ context.Context, symbols []string) (*orchestrator.RunResult, error) {
	t.got = symbols
	for _, s := range symbols {
		if s == "GME" {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnknownSymbol, s)
		}
	}
	return &orchestrator.RunResult{Results: []*pipeline.Result{{Symbol: "AAPL", Outcome: pipeline.OutcomeNoSignal}}}, nil
}

type fakeCloser struct {
	positions storage.PositionStore
}

func (c fakeCloser) CloseManual(ctx context.Context, id string, price float64) (*domain.Position, error) {
	p, err := c.positions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PositionOpen {
		return nil, monitor.ErrNotOpen
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %s", monitor.ErrNoPrice, p.Symbol)
	}
	err = c.positions.Close(ctx, storage.PositionClose{
		PositionID:  id,
		Status:      domain.PositionClosedManual,
		ExitPrice:   price,
		RealizedPnL: p.PnLAt(price),
		ClosedAt:    2000,
	})
	if err != nil {
		return nil, err
	}
	return c.positions.GetByID(ctx, id)
}

type fakeStatus struct{}

func (fakeStatus) Status(context.Context) (*pipeline.Status, error) {
	return &pipeline.Status{LastCycleMs: 1234, Cycles: 3, ConfigVersion: 2}, nil
}

type fakeReloader struct {
	err error
}

func (r fakeReloader) Reload() (*config.Snapshot, error) {
	if r.err != nil {
		return &config.Snapshot{Version: 1}, r.err
	}
	return &config.Snapshot{Version: 2, LoadedAt: time.UnixMilli(5000)}, nil
}

type testEnv struct {
	e         *echo.Echo
	signals   *memory.SignalStore
	decisions *memory.RiskDecisionStore
	events    *memory.ExecutionEventStore
	positions *memory.PositionStore
	trigger   *fakeTrigger
}

func newTestEnv(t *testing.T, reloadErr error) *testEnv {
	t.Helper()
	env := &testEnv{
		signals:   memory.NewSignalStore(),
		decisions: memory.NewRiskDecisionStore(),
		events:    memory.NewExecutionEventStore(),
		positions: memory.NewPositionStore(),
		trigger:   &fakeTrigger{},
	}
	h := NewHandler(Deps{
		Trigger:   env.trigger,
		Signals:   env.signals,
		Decisions: env.decisions,
		Events:    env.events,
		Positions: env.positions,
		Closer:    fakeCloser{positions: env.positions},
		Status:    fakeStatus{},
		Adapters: func() []source.AdapterHealth {
			return []source.AdapterHealth{{SourceID: "rsi", LastSuccessMs: 1200}}
		},
		Config:  fakeReloader{err: reloadErr},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "up 1\n") }),
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return time.UnixMilli(10_000) },
	})
	env.e = NewServer(h, config.ServerConfig{Addr: ":0"}, zerolog.Nop()).Echo()
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string) (int, json.RawMessage) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return rec.Code, json.RawMessage(rec.Body.Bytes())
	}
	var resp struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rec.Code, resp.Status)
	return rec.Code, resp.Data
}

func seedSignal(t *testing.T, env *testEnv, id, symbol string, createdAt int64) *domain.Signal {
	t.Helper()
	s := &domain.Signal{
		ID:                  id,
		Symbol:              symbol,
		Action:              domain.ActionBuy,
		Regime:              domain.RegimeBull,
		EntryPrice:          100,
		StopPrice:           98,
		TargetPrice:         104,
		Confidence:          70,
		ContributingSources: []domain.SourceWeight{{SourceID: "rsi", Weight: 1}},
		CreatedAt:           createdAt,
	}
	s.IntegrityHash = idhash.ComputeSignalHash(s)
	require.NoError(t, env.signals.Insert(context.Background(), s))
	return s
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "up 1")
}

func TestTriggerCycle(t *testing.T) {
	env := newTestEnv(t, nil)

	code, data := env.do(t, http.MethodPost, "/api/v1/cycles", `{"symbols":["AAPL"]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"AAPL"}, env.trigger.got)

	var res orchestrator.RunResult
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, pipeline.OutcomeNoSignal, res.Results[0].Outcome)

	code, _ = env.do(t, http.MethodPost, "/api/v1/cycles", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, env.trigger.got)

	code, _ = env.do(t, http.MethodPost, "/api/v1/cycles", `{"symbols":["GME"]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/cycles", `{"symbols":[""]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListSignals(t *testing.T) {
	env := newTestEnv(t, nil)
	seedSignal(t, env, "a1", "AAPL", 1000)
	seedSignal(t, env, "a2", "AAPL", 3000)
	seedSignal(t, env, "m1", "MSFT", 2000)

	list := func(query string) []domain.Signal {
		code, data := env.do(t, http.MethodGet, "/api/v1/signals"+query, "")
		require.Equal(t, http.StatusOK, code, string(data))
		var out struct {
			Rows  []domain.Signal `json:"rows"`
			Total int64           `json:"total"`
		}
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, int64(len(out.Rows)), out.Total)
		return out.Rows
	}

	all := list("")
	require.Len(t, all, 3)
	assert.Equal(t, "a2", all[0].ID, "newest first")

	aapl := list("?symbol=AAPL")
	require.Len(t, aapl, 2)

	ranged := list("?from=1500&to=3000")
	require.Len(t, ranged, 2)
	assert.Equal(t, "a2", ranged[0].ID)
	assert.Equal(t, "m1", ranged[1].ID)

	limited := list("?symbol=AAPL&limit=1")
	require.Len(t, limited, 1)
	assert.Equal(t, "a2", limited[0].ID)

	for _, q := range []string{"?limit=0x", "?limit=5000", "?from=-1", "?from=3000&to=1000"} {
		code, _ := env.do(t, http.MethodGet, "/api/v1/signals"+q, "")
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestGetSignal_Verified(t *testing.T) {
	env := newTestEnv(t, nil)
	s := seedSignal(t, env, "good", "AAPL", 1000)

	tampered := *s
	tampered.ID = "bad"
	tampered.IntegrityHash = strings.Repeat("0", 64)
	require.NoError(t, env.signals.Insert(context.Background(), &tampered))

	var view signalView

	code, data := env.do(t, http.MethodGet, "/api/v1/signals/good", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(data, &view))
	assert.True(t, view.Verified)
	assert.Equal(t, s.IntegrityHash, view.ComputedHash)

	code, data = env.do(t, http.MethodGet, "/api/v1/signals/bad", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(data, &view))
	assert.False(t, view.Verified)

	code, _ = env.do(t, http.MethodGet, "/api/v1/signals/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDecisionAndExecutions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedSignal(t, env, "sig1", "AAPL", 1000)

	layer := domain.LayerBuyingPower
	require.NoError(t, env.decisions.Insert(ctx, &domain.RiskDecision{
		SignalID:       "sig1",
		Outcome:        domain.RiskRejected,
		RejectionLayer: &layer,
		Reason:         "needs 5500.00 <= 5000.00 buying power",
		EvaluatedAt:    1001,
	}))
	require.NoError(t, env.events.Insert(ctx, &domain.ExecutionEvent{SignalID: "sig1", State: domain.ExecPending, At: 1002}))

	code, data := env.do(t, http.MethodGet, "/api/v1/signals/sig1/decision", "")
	require.Equal(t, http.StatusOK, code)
	var d domain.RiskDecision
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, domain.RiskRejected, d.Outcome)
	assert.NotEmpty(t, d.Reason)

	code, _ = env.do(t, http.MethodGet, "/api/v1/signals/nope/decision", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, data = env.do(t, http.MethodGet, "/api/v1/signals/sig1/executions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `"total":1`)
}

func TestPositionsAndManualClose(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.positions.Insert(ctx, &domain.Position{
		PositionID: "p1", SignalID: "sig1", Symbol: "AAPL", Side: domain.SideLong,
		Quantity: 10, EntryPrice: 100, StopPrice: 98, TargetPrice: 104,
		Status: domain.PositionOpen, OpenedAt: 1000,
	}))

	code, data := env.do(t, http.MethodGet, "/api/v1/positions?status=open", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `"total":1`)

	code, _ = env.do(t, http.MethodGet, "/api/v1/positions", "")
	assert.Equal(t, http.StatusBadRequest, code, "neither status nor symbol")

	code, _ = env.do(t, http.MethodPost, "/api/v1/positions/p1/close", "")
	assert.Equal(t, http.StatusServiceUnavailable, code, "no feed price")

	code, data = env.do(t, http.MethodPost, "/api/v1/positions/p1/close", `{"price":103}`)
	require.Equal(t, http.StatusOK, code, string(data))
	var p domain.Position
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, domain.PositionClosedManual, p.Status)
	require.NotNil(t, p.RealizedPnL)
	assert.InDelta(t, 30, *p.RealizedPnL, 1e-9)

	code, _ = env.do(t, http.MethodPost, "/api/v1/positions/p1/close", `{"price":103}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/positions/nope/close", `{"price":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/positions/p1/close", `{"price":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, data = env.do(t, http.MethodGet, "/api/v1/positions?symbol=AAPL&status=open", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `"total":0`)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	code, data := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, code)

	var st struct {
		LastCycleMs   int64                  `json:"last_cycle_ms"`
		ConfigVersion int64                  `json:"config_version"`
		Adapters      []source.AdapterHealth `json:"adapters"`
	}
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, int64(1234), st.LastCycleMs)
	assert.Equal(t, int64(2), st.ConfigVersion)
	require.Len(t, st.Adapters, 1)
	assert.Equal(t, "rsi", st.Adapters[0].SourceID)
}

func TestReloadConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	code, data := env.do(t, http.MethodPost, "/api/v1/config/reload", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `"version":2`)

	env = newTestEnv(t, errors.New("validate config: weights"))
	code, _ = env.do(t, http.MethodPost, "/api/v1/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

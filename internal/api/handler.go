// Package api exposes the pipeline over HTTP: cycle triggers, signal and
// position queries, manual closes, status and config reload.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/monitor"
	"trade-signal-pipeline/internal/orchestrator"
	"trade-signal-pipeline/internal/pipeline"
	"trade-signal-pipeline/internal/source"
	"trade-signal-pipeline/internal/storage"
	"trade-signal-pipeline/internal/verification"
)

// Trigger runs cycles on demand.
type Trigger interface {
	Run(ctx context.Context, symbols []string) (*orchestrator.RunResult, error)
}

// PositionCloser closes a position outside the monitor loop.
type PositionCloser interface {
	CloseManual(ctx context.Context, positionID string, price float64) (*domain.Position, error)
}

// StatusSource reports pipeline state.
type StatusSource interface {
	Status(ctx context.Context) (*pipeline.Status, error)
}

// Reloader swaps in a freshly loaded config.
type Reloader interface {
	Reload() (*config.Snapshot, error)
}

// Deps are the components the handlers read from and act on.
type Deps struct {
	Trigger   Trigger
	Signals   storage.SignalStore
	Decisions storage.RiskDecisionStore
	Events    storage.ExecutionEventStore
	Positions storage.PositionStore
	Closer    PositionCloser
	Status    StatusSource
	Adapters  func() []source.AdapterHealth
	Config    Reloader
	Metrics   http.Handler
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Handler implements the HTTP endpoints.
type Handler struct {
	d Deps
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Adapters == nil {
		d.Adapters = func() []source.AdapterHealth { return nil }
	}
	return &Handler{d: d}
}

// RegisterRoutes mounts every endpoint on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	if h.d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.d.Metrics))
	}

	g := e.Group("/api/v1")
	g.POST("/cycles", h.TriggerCycle)
	g.GET("/signals", h.ListSignals)
	g.GET("/signals/:id", h.GetSignal)
	g.GET("/signals/:id/decision", h.GetDecision)
	g.GET("/signals/:id/executions", h.GetExecutions)
	g.GET("/positions", h.ListPositions)
	g.POST("/positions/:id/close", h.ClosePosition)
	g.GET("/status", h.GetStatus)
	g.POST("/config/reload", h.ReloadConfig)
}

func (h *Handler) Health(c echo.Context) error {
	return successResponse(c, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	Symbols []string `json:"symbols" validate:"omitempty,max=100,dive,required"`
}

// TriggerCycle runs a cycle now for the requested symbols or all of them.
func (h *Handler) TriggerCycle(c echo.Context) error {
	req := &triggerRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	res, err := h.d.Trigger.Run(c.Request().Context(), req.Symbols)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownSymbol) {
			return appErrorResponse(c, newAppError(http.StatusBadRequest, "ERR_UNKNOWN_SYMBOL", err.Error(), err))
		}
		return h.internal(c, "trigger cycle", err)
	}
	return successResponse(c, res)
}

type listSignalsRequest struct {
	Symbol string `query:"symbol"`
	From   int64  `query:"from" validate:"gte=0"`
	To     int64  `query:"to" validate:"omitempty,gtefield=From"`
	Limit  int    `query:"limit" default:"100" validate:"min=1,max=1000"`
}

// ListSignals returns signals newest first, filtered by symbol and
// created_at range.
func (h *Handler) ListSignals(c echo.Context) error {
	req := &listSignalsRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	to := req.To
	if to == 0 {
		to = h.d.Now().UnixMilli()
	}

	ctx := c.Request().Context()
	var (
		signals []*domain.Signal
		err     error
	)
	if req.Symbol != "" {
		signals, err = h.d.Signals.GetBySymbol(ctx, req.Symbol, 0)
	} else {
		signals, err = h.d.Signals.GetByTimeRange(ctx, req.From, to)
	}
	if err != nil {
		return h.internal(c, "list signals", err)
	}

	out := make([]*domain.Signal, 0, min(len(signals), req.Limit))
	for _, s := range signals {
		if s.CreatedAt >= req.From && s.CreatedAt <= to {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return listResponse(c, out, len(out))
}

type idRequest struct {
	ID string `param:"id" validate:"required"`
}

// signalView is a signal with the result of recomputing its hash.
type signalView struct {
	Signal       *domain.Signal `json:"signal"`
	ComputedHash string         `json:"computed_hash"`
	Verified     bool           `json:"verified"`
}

// GetSignal returns one signal with its recomputed integrity hash.
func (h *Handler) GetSignal(c echo.Context) error {
	req := &idRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	s, err := h.d.Signals.GetByID(c.Request().Context(), req.ID)
	if err != nil {
		return h.lookupError(c, "signal", err)
	}
	v := verification.Check(s)
	return successResponse(c, signalView{Signal: s, ComputedHash: v.ComputedHash, Verified: v.Match})
}

// GetDecision returns the risk decision recorded for a signal.
func (h *Handler) GetDecision(c echo.Context) error {
	req := &idRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	d, err := h.d.Decisions.GetBySignalID(c.Request().Context(), req.ID)
	if err != nil {
		return h.lookupError(c, "risk decision", err)
	}
	return successResponse(c, d)
}

// GetExecutions returns the execution audit trail for a signal.
func (h *Handler) GetExecutions(c echo.Context) error {
	req := &idRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	events, err := h.d.Events.GetBySignalID(c.Request().Context(), req.ID)
	if err != nil {
		return h.internal(c, "list executions", err)
	}
	return listResponse(c, events, len(events))
}

type listPositionsRequest struct {
	Status string `query:"status" validate:"omitempty,oneof=open"`
	Symbol string `query:"symbol" validate:"required_without=Status"`
}

// ListPositions returns open positions, or every position for a symbol.
func (h *Handler) ListPositions(c echo.Context) error {
	req := &listPositionsRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	var (
		positions []*domain.Position
		err       error
	)
	if req.Symbol != "" {
		positions, err = h.d.Positions.GetBySymbol(ctx, req.Symbol)
	} else {
		positions, err = h.d.Positions.GetOpen(ctx)
	}
	if err != nil {
		return h.internal(c, "list positions", err)
	}
	if req.Symbol != "" && req.Status == "open" {
		open := make([]*domain.Position, 0, len(positions))
		for _, p := range positions {
			if p.Status == domain.PositionOpen {
				open = append(open, p)
			}
		}
		positions = open
	}
	return listResponse(c, positions, len(positions))
}

type closeRequest struct {
	ID    string  `param:"id" validate:"required"`
	Price float64 `json:"price" validate:"gte=0"`
}

// ClosePosition closes a position at the given price, or at the feed
// price when none is given.
func (h *Handler) ClosePosition(c echo.Context) error {
	req := &closeRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	p, err := h.d.Closer.CloseManual(c.Request().Context(), req.ID, req.Price)
	switch {
	case err == nil:
		return successResponse(c, p)
	case errors.Is(err, storage.ErrNotFound):
		return h.lookupError(c, "position", err)
	case errors.Is(err, monitor.ErrNotOpen):
		return appErrorResponse(c, newAppError(http.StatusConflict, "ERR_NOT_OPEN", "position is already closed", err))
	case errors.Is(err, monitor.ErrNoPrice), errors.Is(err, monitor.ErrStalePrice):
		return appErrorResponse(c, newAppError(http.StatusServiceUnavailable, "ERR_NO_PRICE", "no current price; pass one explicitly", err))
	}
	return h.internal(c, "close position", err)
}

type statusView struct {
	*pipeline.Status
	Adapters []source.AdapterHealth `json:"adapters"`
}

// GetStatus reports the last cycle, adapter health, risk counters and
// config version.
func (h *Handler) GetStatus(c echo.Context) error {
	st, err := h.d.Status.Status(c.Request().Context())
	if err != nil {
		return h.internal(c, "status", err)
	}
	return successResponse(c, statusView{Status: st, Adapters: h.d.Adapters()})
}

// ReloadConfig re-reads the config file. A file that fails validation
// leaves the running config in place.
func (h *Handler) ReloadConfig(c echo.Context) error {
	snap, err := h.d.Config.Reload()
	if err != nil {
		h.d.Logger.Warn().Err(err).Msg("config reload rejected; keeping current config")
		return appErrorResponse(c, newAppError(http.StatusUnprocessableEntity, "ERR_CONFIG", err.Error(), err))
	}
	h.d.Logger.Info().Int64("config_version", snap.Version).Msg("config reloaded")
	return successResponse(c, map[string]interface{}{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
	})
}

func (h *Handler) lookupError(c echo.Context, what string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return appErrorResponse(c, newAppError(http.StatusNotFound, "ERR_NOT_FOUND", what+" not found", err))
	}
	return h.internal(c, "get "+what, err)
}

func (h *Handler) internal(c echo.Context, op string, err error) error {
	h.d.Logger.Error().Err(err).Str("op", op).Msg("api error")
	return appErrorResponse(c, err)
}

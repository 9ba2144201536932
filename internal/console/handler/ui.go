package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/engine"
	"github.com/xela07ax/sovereign-gateway/internal/infra"
	"github.com/xela07ax/sovereign-gateway/internal/infra/auth"
)

// StateReader — что UI нужно от хранилища состояния.
type StateReader interface {
	Load(ctx context.Context) (*domain.ProjectState, error)
}

// HistoryReader — что UI нужно от журнала событий.
type HistoryReader interface {
	ReadRecent(ctx context.Context, limit int) ([]domain.Event, error)
}

const (
	auditNameState   = "GET /ui/state"
	auditNameHistory = "GET /ui/history"
)

// UIHandler — read-only витрина состояния для панели оператора.
type UIHandler struct {
	state   StateReader
	history HistoryReader
	auditor audit.Auditor
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewUIHandler(state StateReader, history HistoryReader, auditor audit.Auditor, metrics *infra.Metrics, logger *zap.Logger) *UIHandler {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &UIHandler{
		state:   state,
		history: history,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("ui"),
	}
}

// GetState отдаёт канонический документ.
// GET /ui/state
func (h *UIHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, auditNameState, func(ctx context.Context) (any, error) {
		return h.state.Load(ctx)
	})
}

type historyResponse struct {
	Events []domain.Event `json:"events"`
}

// GetHistory отдаёт последние события, самые свежие первыми.
// GET /ui/history?limit=N
func (h *UIHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := engine.ParseHistoryLimit(r.URL.Query().Get("limit"))
	h.serve(w, r, auditNameHistory, func(ctx context.Context) (any, error) {
		events, err := h.history.ReadRecent(ctx, limit)
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []domain.Event{}
		}
		return historyResponse{Events: events}, nil
	})
}

// serve: один вызов хранилища, один ответ, одна запись аудита.
func (h *UIHandler) serve(w http.ResponseWriter, r *http.Request, name string, load func(ctx context.Context) (any, error)) {
	start := time.Now()
	ctx := r.Context()

	payload, err := load(ctx)

	entry := audit.Entry{
		TokenScope: auth.ScopeFromContext(ctx),
		Kind:       audit.KindHTTPUI,
		Name:       name,
		OK:         err == nil,
	}
	status := http.StatusOK
	if err != nil {
		h.logger.Error("ui read failed", zap.String("route", name), zap.Error(err))
		entry.Error = err.Error()
		status = http.StatusInternalServerError
		payload = map[string]string{"error": err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(payload); encErr != nil {
		h.logger.Warn("write ui response", zap.Error(encErr))
	}

	elapsed := time.Since(start)
	entry.DurationMs = elapsed.Milliseconds()
	h.metrics.Observe(string(audit.KindHTTPUI), name, entry.OK, elapsed.Seconds())
	h.auditor.Record(ctx, entry)
}

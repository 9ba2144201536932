package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/sovereign-gateway/internal/infra"
)

// ReliabilitySettings — пейсинг и предохранитель одного downstream.
type ReliabilitySettings struct {
	RPS           float64
	Burst         int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32 // подряд идущие сбои канала до размыкания
}

func SettingsFromConfig(d infra.DownstreamDefaults) ReliabilitySettings {
	return ReliabilitySettings{
		RPS:           d.RPS,
		Burst:         d.Burst,
		CBMaxRequests: d.CBMaxRequests,
		CBInterval:    d.CBInterval,
		CBTimeout:     d.CBTimeout,
		CBFailures:    d.CBFailures,
	}
}

// ProtectedClient оборачивает Client лимитером и Circuit Breaker'ом.
// Повторов нет: вызов инструмента может быть неидемпотентным.
type ProtectedClient struct {
	next    Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewProtectedClient(next Client, s ReliabilitySettings, metrics *infra.Metrics, logger *zap.Logger) *ProtectedClient {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	name := next.Name()
	logger = logger.With(zap.String("mod", "downstream"), zap.String("downstream", name))

	failures := s.CBFailures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "downstream-" + name,
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Отказ провайдера (ошибка в JSON-RPC, 4xx) — не повод размыкать цепь
		IsSuccessful: func(err error) bool {
			var de *DownstreamError
			if errors.As(err, &de) {
				return !de.IsTransport()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	limit := rate.Inf
	if s.RPS > 0 {
		limit = rate.Limit(s.RPS)
	}
	burst := s.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ProtectedClient{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
		logger:  logger,
	}
}

func (p *ProtectedClient) Name() string { return p.next.Name() }

func (p *ProtectedClient) ListTools(ctx context.Context) ([]json.RawMessage, error) {
	res, err := p.execute(ctx, "list_tools", func() (interface{}, error) {
		return p.next.ListTools(ctx)
	})
	if err != nil {
		return nil, err
	}
	tools, _ := res.([]json.RawMessage)
	return tools, nil
}

func (p *ProtectedClient) CallTool(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
	res, err := p.execute(ctx, "call_tool", func() (interface{}, error) {
		return p.next.CallTool(ctx, tool, input)
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(json.RawMessage)
	return out, nil
}

func (p *ProtectedClient) execute(ctx context.Context, method string, fn func() (interface{}, error)) (interface{}, error) {
	// 1. Rate Limiter
	if err := p.limiter.Wait(ctx); err != nil {
		p.metrics.DownstreamCalls.WithLabelValues(p.Name(), method, "rate_limited").Inc()
		return nil, &DownstreamError{
			Downstream: p.Name(),
			Message:    fmt.Sprintf("Downstream %s rate limit wait aborted", p.Name()),
			Err:        err,
		}
	}

	// 2. Circuit Breaker
	res, err := p.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.metrics.DownstreamCalls.WithLabelValues(p.Name(), method, "circuit_open").Inc()
		return nil, &DownstreamError{
			Downstream: p.Name(),
			Message:    fmt.Sprintf("Downstream %s unavailable (circuit open)", p.Name()),
			Err:        err,
		}
	case err != nil:
		p.metrics.DownstreamCalls.WithLabelValues(p.Name(), method, "error").Inc()
		p.logger.Warn("downstream call failed", zap.String("method", method), zap.Error(err))
		return nil, err
	}
	p.metrics.DownstreamCalls.WithLabelValues(p.Name(), method, "ok").Inc()
	return res, nil
}

// State — текущее состояние предохранителя.
func (p *ProtectedClient) State() gobreaker.State { return p.cb.State() }

package auth

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/infra"
	"go.uber.org/zap"
)

const MsgRateLimited = "Rate limit exceeded"

// RateLimiter — лимитер на токен; при отказе возвращает время до сброса окна.
type RateLimiter interface {
	Allow(token string) (bool, time.Duration)
}

// Guard собирает периметр: аутентификация -> лимит -> аудит отказов.
type Guard struct {
	tokens  Tokens
	limiter RateLimiter
	auditor audit.Auditor
	metrics *infra.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewGuard(tokens Tokens, limiter RateLimiter, auditor audit.Auditor, metrics *infra.Metrics, logger *zap.Logger) *Guard {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Guard{
		tokens:  tokens,
		limiter: limiter,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("auth"),
		now:     time.Now,
	}
}

// Middleware возвращает chi-совместимый middleware. kind — вид аудита
// защищаемого маршрута (mcp_tool для /mcp, http_ui для /ui).
func (g *Guard) Middleware(kind audit.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := g.now()

			res := Authenticate(r.Header.Get("Authorization"), g.tokens)
			if !res.OK {
				g.metrics.AuthFailures.Inc()
				g.logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.String("reason", res.Error))
				g.reject(r, kind, "auth", domain.ScopeRead, start, res.Error)
				writeError(w, http.StatusUnauthorized, res.Error)
				return
			}

			if ok, retryIn := g.limiter.Allow(res.Token); !ok {
				g.metrics.RateLimitRejected.Inc()
				g.logger.Warn("rate limited", zap.String("scope", string(res.Scope)), zap.Duration("retry_in", retryIn))
				g.reject(r, kind, "rate_limit", res.Scope, start, MsgRateLimited)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryIn.Seconds()))))
				writeError(w, http.StatusTooManyRequests, MsgRateLimited)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{Scope: res.Scope, Token: res.Token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Guard) reject(r *http.Request, kind audit.Kind, name string, scope domain.Scope, start time.Time, msg string) {
	elapsed := g.now().Sub(start)
	g.metrics.Observe(string(kind), name, false, elapsed.Seconds())
	g.auditor.Record(r.Context(), audit.Entry{
		TokenScope: scope,
		Kind:       kind,
		Name:       name,
		OK:         false,
		DurationMs: elapsed.Milliseconds(),
		Error:      msg,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

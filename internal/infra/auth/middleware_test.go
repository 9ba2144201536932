package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

type stubLimiter struct {
	allow   bool
	retryIn time.Duration
	seen    []string
}

func (l *stubLimiter) Allow(token string) (bool, time.Duration) {
	l.seen = append(l.seen, token)
	return l.allow, l.retryIn
}

func newTestGuard(limiter RateLimiter, auditor audit.Auditor) *Guard {
	return NewGuard(Tokens{Read: "r", Write: "w"}, limiter, auditor, nil, zap.NewNop())
}

func serve(t *testing.T, h http.Handler, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestMiddleware_PassesIdentity(t *testing.T) {
	limiter := &stubLimiter{allow: true}
	auditor := &recordingAuditor{}

	var got Identity
	h := newTestGuard(limiter, auditor).Middleware(audit.KindMCPTool)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = FromContext(r.Context())
		assert.True(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(t, h, "Bearer w")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Identity{Scope: domain.ScopeWrite, Token: "w"}, got)
	assert.Equal(t, []string{"w"}, limiter.seen)
	assert.Empty(t, auditor.entries, "successful auth is audited by the handler, not the guard")
}

func TestMiddleware_Unauthorized(t *testing.T) {
	limiter := &stubLimiter{allow: true}
	auditor := &recordingAuditor{}
	called := false
	h := newTestGuard(limiter, auditor).Middleware(audit.KindHTTPUI)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := serve(t, h, "Bearer nope")
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgInvalidToken, decodeError(t, rec))
	assert.Empty(t, limiter.seen, "rejected requests do not consume the rate budget")

	require.Len(t, auditor.entries, 1)
	e := auditor.entries[0]
	assert.Equal(t, audit.KindHTTPUI, e.Kind)
	assert.Equal(t, "auth", e.Name)
	assert.Equal(t, domain.ScopeRead, e.TokenScope)
	assert.False(t, e.OK)
	assert.Equal(t, MsgInvalidToken, e.Error)

	rec = serve(t, h, "")
	assert.Equal(t, MsgMissingHeader, decodeError(t, rec))
}

func TestMiddleware_RateLimited(t *testing.T) {
	limiter := &stubLimiter{allow: false, retryIn: 1500 * time.Millisecond}
	auditor := &recordingAuditor{}
	h := newTestGuard(limiter, auditor).Middleware(audit.KindMCPTool)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := serve(t, h, "Bearer r")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, MsgRateLimited, decodeError(t, rec))

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "rate_limit", auditor.entries[0].Name)
	assert.Equal(t, domain.ScopeRead, auditor.entries[0].TokenScope)
	assert.Equal(t, audit.KindMCPTool, auditor.entries[0].Kind)
}

func TestScopeFromContext_DefaultsToRead(t *testing.T) {
	assert.Equal(t, domain.ScopeRead, ScopeFromContext(context.Background()))
	ctx := WithIdentity(context.Background(), Identity{Scope: domain.ScopeWrite, Token: "w"})
	assert.Equal(t, domain.ScopeWrite, ScopeFromContext(ctx))
}

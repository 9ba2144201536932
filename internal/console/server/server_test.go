package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/connectors"
	"github.com/xela07ax/sovereign-gateway/internal/console/handler"
	"github.com/xela07ax/sovereign-gateway/internal/engine"
	"github.com/xela07ax/sovereign-gateway/internal/infra/auth"
	"github.com/xela07ax/sovereign-gateway/internal/policy"
	"github.com/xela07ax/sovereign-gateway/internal/storage"
)

const (
	readToken  = "read-token"
	writeToken = "write-token"
)

type stack struct {
	dir   string
	srv   *httptest.Server
	audit *audit.FileLog
}

func newStack(t *testing.T, maxRequests int) *stack {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()
	ctx := context.Background()

	store := storage.NewStore(dir, logger)
	require.NoError(t, store.EnsureInitialized(ctx, "demo"))
	events := storage.NewEventLog(dir, logger)
	auditLog := audit.NewFileLog(dir, logger)

	reg := connectors.NewRegistry(&connectors.MockClient{Downstream: "stitch"})
	dispatcher := engine.NewDispatcher(store, events, reg, logger)
	gw := engine.NewGateway(policy.Default(), dispatcher, auditLog, nil, logger)
	guard := auth.NewGuard(auth.Tokens{Read: readToken, Write: writeToken},
		engine.NewRateLimiter(time.Minute, maxRequests), auditLog, nil, logger)
	ui := handler.NewUIHandler(store, events, auditLog, nil, logger)

	srv := httptest.NewServer(New(logger, guard, gw, ui))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
		events.Close()
		auditLog.Close()
	})
	return &stack{dir: dir, srv: srv, audit: auditLog}
}

func (s *stack) do(t *testing.T, method, path, token, body string) (*http.Response, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, gjson.ParseBytes(raw)
}

func (s *stack) auditLines(t *testing.T) []gjson.Result {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(s.dir, audit.FileName))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []gjson.Result
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line != "" {
			out = append(out, gjson.Parse(line))
		}
	}
	return out
}

func TestServer_Healthz(t *testing.T) {
	s := newStack(t, 60)
	resp, _ := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(engine.TraceHeader))
	assert.Empty(t, s.auditLines(t))
}

func TestServer_AuthFailuresAreAudited(t *testing.T) {
	s := newStack(t, 60)

	resp, body := s.do(t, http.MethodPost, "/mcp", "", `{"id":1,"method":"list_tools"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Missing Authorization header", body.Get("error").String())

	resp, body = s.do(t, http.MethodGet, "/ui/state", "guess", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid token", body.Get("error").String())

	lines := s.auditLines(t)
	require.Len(t, lines, 2)
	assert.Equal(t, "mcp_tool", lines[0].Get("kind").String())
	assert.Equal(t, "auth", lines[0].Get("name").String())
	assert.Equal(t, "read", lines[0].Get("token_scope").String())
	assert.False(t, lines[0].Get("ok").Bool())
	assert.Equal(t, "http_ui", lines[1].Get("kind").String())
}

func TestServer_RateLimitWindow(t *testing.T) {
	s := newStack(t, 2)
	body := `{"id":1,"method":"list_tools"}`

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodPost, "/mcp", readToken, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, reply := s.do(t, http.MethodPost, "/mcp", readToken, body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Rate limit exceeded", reply.Get("error").String())
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// у write-токена своё окно
	resp, _ = s.do(t, http.MethodPost, "/mcp", writeToken, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	lines := s.auditLines(t)
	require.Len(t, lines, 4, "exactly one audit entry per request")
	assert.Equal(t, "rate_limit", lines[2].Get("name").String())
}

func TestServer_WriteFlowVisibleInUI(t *testing.T) {
	s := newStack(t, 60)

	call := func(token, tool, input string) gjson.Result {
		_, reply := s.do(t, http.MethodPost, "/mcp", token,
			`{"jsonrpc":"2.0","id":"x","method":"call_tool","params":{"name":"`+tool+`","input":`+input+`}}`)
		return reply
	}

	reply := call(readToken, "event.append", `{"event_name":"deploy","payload":{}}`)
	assert.Equal(t, "Tool requires write scope", reply.Get("error.message").String())

	reply = call(writeToken, "event.append", `{"event_name":"deploy","payload":{"v":2}}`)
	assert.True(t, reply.Get("result.output.ok").Bool(), reply.Raw)
	reply = call(writeToken, "verdict.set", `{"verdict":"BLOCK","reason":"review pending"}`)
	assert.True(t, reply.Get("result.output.ok").Bool(), reply.Raw)

	resp, state := s.do(t, http.MethodGet, "/ui/state", readToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deploy", state.Get("current_event").String())
	assert.Equal(t, "review pending", state.Get("blocked_reason").String())

	resp, hist := s.do(t, http.MethodGet, "/ui/history?limit=abc", readToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, hist.Get("events").Array(), 1)
	assert.Equal(t, int64(2), hist.Get("events.0.payload.v").Int())

	names := []string{}
	for _, l := range s.auditLines(t) {
		names = append(names, l.Get("name").String())
	}
	assert.Equal(t, []string{"event.append", "event.append", "verdict.set", "GET /ui/state", "GET /ui/history"}, names)
}

func TestServer_ConcurrentRequestsKeepAuditWhole(t *testing.T) {
	s := newStack(t, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.do(t, http.MethodPost, "/mcp", writeToken,
				`{"id":1,"method":"call_tool","params":{"name":"task.set_status","input":{"task_id":"T","status":"doing"}}}`)
		}()
	}
	wg.Wait()

	lines := s.auditLines(t)
	require.Len(t, lines, 30)
	for _, l := range lines {
		assert.True(t, l.Get("ok").Bool())
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, storage.StateFileName))
	require.NoError(t, err)
	assert.True(t, gjson.ValidBytes(raw))
	assert.Len(t, gjson.GetBytes(raw, "tasks").Array(), 1)
}

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/infra/auth"
	"github.com/xela07ax/sovereign-gateway/internal/policy"
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

func (a *recordingAuditor) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

type panickingDispatcher struct{}

func (panickingDispatcher) Call(context.Context, string, gjson.Result) (any, error) {
	panic("state exploded")
}

type gatewayHarness struct {
	f       *fixture
	auditor *recordingAuditor
	gw      *Gateway
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	f := newFixture(t)
	auditor := &recordingAuditor{}
	return &gatewayHarness{
		f:       f,
		auditor: auditor,
		gw:      NewGateway(policy.Default(), f.d, auditor, nil, zap.NewNop()),
	}
}

type reply struct {
	status int
	header http.Header
	body   gjson.Result
	raw    string
}

func (h *gatewayHarness) post(t *testing.T, scope domain.Scope, body string, accept string) reply {
	t.Helper()
	return postTo(t, h.gw, scope, body, accept)
}

func postTo(t *testing.T, gw *Gateway, scope domain.Scope, body string, accept string) reply {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Scope: scope, Token: "tok"}))
	rec := httptest.NewRecorder()
	gw.HandleMCP(rec, req)

	raw := rec.Body.String()
	payload := raw
	if strings.HasPrefix(raw, "data: ") {
		payload = strings.TrimSuffix(strings.TrimPrefix(raw, "data: "), "\n\n")
	}
	return reply{status: rec.Code, header: rec.Header(), body: gjson.Parse(payload), raw: raw}
}

func callBody(id, tool, input string) string {
	if input == "" {
		return `{"jsonrpc":"2.0","id":` + id + `,"method":"call_tool","params":{"name":"` + tool + `"}}`
	}
	return `{"jsonrpc":"2.0","id":` + id + `,"method":"call_tool","params":{"name":"` + tool + `","input":` + input + `}}`
}

func TestGateway_InvalidEnvelope(t *testing.T) {
	h := newGatewayHarness(t)

	bodies := []string{
		`not json`,
		`[]`,
		`{"id":1}`,
		`{"method":"list_tools"}`,
		`{"jsonrpc":"1.0","id":1,"method":"list_tools"}`,
		`{"id":{"a":1},"method":"list_tools"}`,
		`{"id":1,"method":5}`,
	}
	for _, body := range bodies {
		r := h.post(t, domain.ScopeWrite, body, "")
		assert.Equal(t, http.StatusBadRequest, r.status, body)
		assert.Equal(t, "Invalid MCP request", r.body.Get("error.message").String(), body)
		assert.Equal(t, gjson.Null, r.body.Get("id").Type, body)
		assert.Equal(t, "2.0", r.body.Get("jsonrpc").String())
	}
	assert.Len(t, h.auditor.all(), len(bodies))
}

func TestGateway_ListTools(t *testing.T) {
	h := newGatewayHarness(t)

	r := h.post(t, domain.ScopeRead, `{"id":"abc","method":"list_tools"}`, "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "application/json", r.header.Get("Content-Type"))
	assert.Equal(t, "abc", r.body.Get("id").String())
	tools := r.body.Get("result.tools").Array()
	assert.Len(t, tools, 10)
	assert.Equal(t, "sovereign.health", tools[0].Get("name").String())
	assert.False(t, tools[0].Get("inputSchema.additionalProperties").Bool())

	entries := h.auditor.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "list_tools", entries[0].Name)
	assert.True(t, entries[0].OK)
	assert.Equal(t, domain.ScopeRead, entries[0].TokenScope)
}

func TestGateway_UnsupportedMethodEchoesID(t *testing.T) {
	h := newGatewayHarness(t)
	r := h.post(t, domain.ScopeRead, `{"id":7,"method":"resources/list"}`, "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, int64(7), r.body.Get("id").Int())
	assert.Equal(t, "Unsupported MCP method", r.body.Get("error.message").String())
	assert.Equal(t, "mcp.request", h.auditor.all()[0].Name)
}

func TestGateway_InvalidCallParams(t *testing.T) {
	h := newGatewayHarness(t)
	for _, body := range []string{
		`{"id":1,"method":"call_tool"}`,
		`{"id":1,"method":"call_tool","params":[]}`,
		`{"id":1,"method":"call_tool","params":{"name":3}}`,
	} {
		r := h.post(t, domain.ScopeWrite, body, "")
		assert.Equal(t, "Invalid call_tool params", r.body.Get("error.message").String(), body)
	}
}

func TestGateway_PolicyErrors(t *testing.T) {
	h := newGatewayHarness(t)

	tests := []struct {
		name  string
		scope domain.Scope
		body  string
		want  string
	}{
		{"not allowlisted", domain.ScopeWrite, callBody("1", "shell.exec", "{}"), "Tool not allowlisted"},
		{"write-only with read", domain.ScopeRead, callBody("1", "verdict.set", `{"verdict":"PASS","reason":"x"}`), "Tool requires write scope"},
		{"downstream input not object", domain.ScopeWrite, callBody("1", "sovereign.call_downstream", `"stitch"`), "Invalid downstream input"},
		{"downstream input missing", domain.ScopeWrite, callBody("1", "sovereign.call_downstream", ""), "Invalid downstream input"},
		{"missing tool name", domain.ScopeWrite, callBody("1", "sovereign.call_downstream", `{"downstream":"stitch"}`), "Missing downstream tool name"},
		{"empty downstream", domain.ScopeWrite, callBody("1", "sovereign.call_downstream", `{"downstream":"","tool":"x"}`), "Missing downstream tool name"},
		{"downstream tool not allowlisted", domain.ScopeWrite, callBody("1", "sovereign.call_downstream", `{"downstream":"stitch","tool":"drop"}`), "Downstream tool not allowlisted"},
		{"downstream write tool with read", domain.ScopeRead, callBody("1", "sovereign.call_downstream", `{"downstream":"stitch","tool":"generate_screen_fr"}`), "Downstream tool requires write scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.post(t, tt.scope, tt.body, "")
			assert.Equal(t, http.StatusBadRequest, r.status)
			assert.Equal(t, tt.want, r.body.Get("error.message").String())
			assert.Equal(t, int64(1), r.body.Get("id").Int())
		})
	}
	assert.Empty(t, h.f.stitch.Calls(), "denied calls never reach the downstream")

	entries := h.auditor.all()
	require.Len(t, entries, len(tests))
	for _, e := range entries {
		assert.False(t, e.OK)
		assert.NotEmpty(t, e.Error)
		assert.Equal(t, audit.KindMCPTool, e.Kind)
	}
}

func TestGateway_CallToolSuccess(t *testing.T) {
	h := newGatewayHarness(t)

	r := h.post(t, domain.ScopeWrite, callBody(`"req-1"`, "task.set_status", `{"task_id":"T1","status":"doing"}`), "")
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, "req-1", r.body.Get("id").String())
	assert.JSONEq(t, `{"ok":true}`, r.body.Get("result.output").Raw)
	assert.Equal(t, "text", r.body.Get("result.content.0.type").String())
	assert.JSONEq(t, `{"ok":true}`, r.body.Get("result.content.0.text").String())

	entries := h.auditor.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "task.set_status", entries[0].Name)
	assert.True(t, entries[0].OK)
	assert.Empty(t, entries[0].Error)
	assert.Equal(t, domain.ScopeWrite, entries[0].TokenScope)
}

func TestGateway_ReadScopeDownstreamRead(t *testing.T) {
	h := newGatewayHarness(t)
	r := h.post(t, domain.ScopeRead, callBody("1", "sovereign.call_downstream", `{"downstream":"stitch","tool":"list_projects","input":{"q":1}}`), "")
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, int64(1), r.body.Get("result.output.output.q").Int())
}

func TestGateway_DispatcherErrorSurfaces(t *testing.T) {
	h := newGatewayHarness(t)
	r := h.post(t, domain.ScopeWrite, callBody("5", "proof.append", `{"task_id":"x"}`), "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "Invalid input for proof.append", r.body.Get("error.message").String())
	assert.Equal(t, int64(5), r.body.Get("id").Int())

	e := h.auditor.all()[0]
	assert.Equal(t, "proof.append", e.Name)
	assert.Equal(t, "Invalid input for proof.append", e.Error)
}

func TestGateway_PanicIsRecovered(t *testing.T) {
	auditor := &recordingAuditor{}
	gw := NewGateway(policy.Default(), panickingDispatcher{}, auditor, nil, zap.NewNop())

	r := postTo(t, gw, domain.ScopeRead, callBody("1", "project.get_state", "{}"), "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "state exploded", r.body.Get("error.message").String())
	require.Len(t, auditor.all(), 1)
	assert.False(t, auditor.all()[0].OK)
}

func TestGateway_SSEEncoding(t *testing.T) {
	h := newGatewayHarness(t)

	r := h.post(t, domain.ScopeRead, callBody("1", "sovereign.health", ""), "application/json, text/event-stream")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "text/event-stream", r.header.Get("Content-Type"))
	assert.Equal(t, "no-cache", r.header.Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(r.raw, "data: {"))
	assert.True(t, strings.HasSuffix(r.raw, "}\n\n"))
	assert.Equal(t, 1, strings.Count(r.raw, "data: "))
	assert.True(t, r.body.Get("result.output.ok").Bool())

	r = h.post(t, domain.ScopeRead, `garbage`, "text/event-stream")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "text/event-stream", r.header.Get("Content-Type"))
	assert.Equal(t, "Invalid MCP request", r.body.Get("error.message").String())
}

func TestGateway_BodyTooLarge(t *testing.T) {
	h := newGatewayHarness(t)
	big := `{"id":1,"method":"call_tool","params":{"name":"event.append","input":{"event_name":"x","payload":{"blob":"` +
		strings.Repeat("a", MaxBodyBytes) + `"}}}}`
	r := h.post(t, domain.ScopeWrite, big, "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "Invalid MCP request", r.body.Get("error.message").String())
}

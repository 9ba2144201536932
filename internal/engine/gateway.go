package engine

/*
Файл gateway.go — обработчик POST /mcp.

Конвейер одного запроса (без состояния между запросами):
  разбор конверта -> list_tools | call_tool -> политика -> диспетчер -> ответ.
Ответ: application/json или один SSE-кадр, если клиент просит text/event-stream.
На каждый запрос — ровно одна запись аудита (через defer).
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/infra"
	"github.com/xela07ax/sovereign-gateway/internal/infra/auth"
	"github.com/xela07ax/sovereign-gateway/internal/policy"
)

const (
	MaxBodyBytes = 1 << 20

	MsgInvalidRequest        = "Invalid MCP request"
	MsgInvalidCallParams     = "Invalid call_tool params"
	MsgUnsupportedMethod     = "Unsupported MCP method"
	MsgInvalidDownstreamIn   = "Invalid downstream input"
	MsgMissingDownstreamTool = "Missing downstream tool name"

	auditNameRequest   = "mcp.request"
	auditNameListTools = "list_tools"
)

// Policy — проверки allowlist'ов, которые нужны шлюзу.
type Policy interface {
	AuthorizeTool(scope domain.Scope, tool string) error
	AuthorizeDownstream(scope domain.Scope, downstream, tool string) error
}

// ToolDispatcher исполняет разрешённый инструмент.
type ToolDispatcher interface {
	Call(ctx context.Context, tool string, input gjson.Result) (any, error)
}

type Gateway struct {
	policy     Policy
	dispatcher ToolDispatcher
	auditor    audit.Auditor
	metrics    *infra.Metrics
	logger     *zap.Logger
}

func NewGateway(p Policy, d ToolDispatcher, auditor audit.Auditor, metrics *infra.Metrics, logger *zap.Logger) *Gateway {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Gateway{
		policy:     p,
		dispatcher: d,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger.Named("gateway"),
	}
}

type rpcError struct {
	Message string `json:"message"`
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Output  json.RawMessage `json:"output"`
	Content []contentBlock  `json:"content"`
}

type listToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

var nullID = json.RawMessage("null")

// HandleMCP — HTTP-обработчик POST /mcp. Ожидает Identity в контексте (auth.Guard).
func (g *Gateway) HandleMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	scope := auth.ScopeFromContext(ctx)

	name := auditNameRequest
	ok := false
	var errMsg string

	defer func() {
		elapsed := time.Since(start)
		g.metrics.Observe(string(audit.KindMCPTool), name, ok, elapsed.Seconds())
		g.auditor.Record(ctx, audit.Entry{
			TokenScope: scope,
			Kind:       audit.KindMCPTool,
			Name:       name,
			OK:         ok,
			DurationMs: elapsed.Milliseconds(),
			Error:      errMsg,
		})
	}()

	fail := func(id json.RawMessage, msg string) {
		errMsg = msg
		g.writeReply(w, r, http.StatusBadRequest, rpcReply{JSONRPC: "2.0", ID: id, Error: &rpcError{Message: msg}})
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		fail(nullID, MsgInvalidRequest)
		return
	}

	// 1. Конверт JSON-RPC
	env, valid := parseEnvelope(body)
	if !valid {
		fail(nullID, MsgInvalidRequest)
		return
	}
	id := json.RawMessage(env.Get("id").Raw)

	switch env.Get("method").Str {
	case "list_tools":
		name = auditNameListTools
		ok = true
		g.writeReply(w, r, http.StatusOK, rpcReply{JSONRPC: "2.0", ID: id, Result: listToolsResult{Tools: Catalog()}})
		return
	case "call_tool":
	default:
		fail(id, MsgUnsupportedMethod)
		return
	}

	// 2. Параметры call_tool
	params := env.Get("params")
	toolName := params.Get("name")
	if !params.IsObject() || toolName.Type != gjson.String {
		fail(id, MsgInvalidCallParams)
		return
	}
	name = toolName.Str
	input := params.Get("input")

	// 3. Политика
	if err := g.authorize(scope, name, input); err != nil {
		fail(id, err.Error())
		return
	}

	// 4. Исполнение
	output, err := g.dispatch(ctx, name, input)
	if err != nil {
		g.logger.Info("tool call failed",
			zap.String("trace_id", TraceID(ctx)),
			zap.String("tool", name),
			zap.Error(err))
		fail(id, err.Error())
		return
	}

	raw, err := json.Marshal(output)
	if err != nil {
		fail(id, fmt.Sprintf("encode output: %v", err))
		return
	}
	ok = true
	g.writeReply(w, r, http.StatusOK, rpcReply{
		JSONRPC: "2.0",
		ID:      id,
		Result: callResult{
			Output:  raw,
			Content: []contentBlock{{Type: "text", Text: string(raw)}},
		},
	})
}

// parseEnvelope: объект со строковым method, присутствующим id
// (строка, число или null) и jsonrpc == "2.0", если поле есть.
func parseEnvelope(body []byte) (gjson.Result, bool) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}
	env := gjson.ParseBytes(body)
	if !env.IsObject() {
		return gjson.Result{}, false
	}
	if v := env.Get("jsonrpc"); v.Exists() && (v.Type != gjson.String || v.Str != "2.0") {
		return gjson.Result{}, false
	}
	if env.Get("method").Type != gjson.String {
		return gjson.Result{}, false
	}
	id := env.Get("id")
	switch {
	case !id.Exists():
		return gjson.Result{}, false
	case id.Type == gjson.String, id.Type == gjson.Number, id.Type == gjson.Null:
		return env, true
	default:
		return gjson.Result{}, false
	}
}

func (g *Gateway) authorize(scope domain.Scope, tool string, input gjson.Result) error {
	if err := g.policy.AuthorizeTool(scope, tool); err != nil {
		return err
	}
	if tool != policy.ToolCallDownstream {
		return nil
	}
	if !input.IsObject() {
		return errors.New(MsgInvalidDownstreamIn)
	}
	ds, target := input.Get("downstream"), input.Get("tool")
	if ds.Type != gjson.String || ds.Str == "" || target.Type != gjson.String || target.Str == "" {
		return errors.New(MsgMissingDownstreamTool)
	}
	return g.policy.AuthorizeDownstream(scope, ds.Str, target.Str)
}

// dispatch превращает панику обработчика в ошибку запроса.
func (g *Gateway) dispatch(ctx context.Context, tool string, input gjson.Result) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("tool handler panicked",
				zap.String("tool", tool),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			err = fmt.Errorf("%v", rec)
		}
	}()
	return g.dispatcher.Call(ctx, tool, input)
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (g *Gateway) writeReply(w http.ResponseWriter, r *http.Request, status int, reply rpcReply) {
	if reply.ID == nil {
		reply.ID = nullID
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		g.logger.Error("encode reply", zap.Error(err))
		status = http.StatusInternalServerError
		payload = []byte(`{"jsonrpc":"2.0","id":null,"error":{"message":"Unexpected error"}}`)
	}

	if wantsSSE(r) {
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

package connectors

/*
Файл client.go — исходящий MCP-клиент к downstream-провайдерам.

Один POST на вызов в <base>/mcp, JSON-RPC конверт. Два транспорта:
  - http: буферизованный application/json;
  - sse: text/event-stream, читаем поток до первого завершённого кадра.
Каждый вызов ограничен таймаутом через контекст.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type Transport string

const (
	TransportHTTP Transport = "http"
	TransportSSE  Transport = "sse"
)

const (
	DefaultTimeout  = 30 * time.Second
	maxResponseBody = 16 << 20
)

// Client — контракт downstream-провайдера для шлюза.
type Client interface {
	Name() string
	ListTools(ctx context.Context) ([]json.RawMessage, error)
	CallTool(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error)
}

type ClientConfig struct {
	Name      string
	BaseURL   string
	Token     string
	Transport Transport
	Timeout   time.Duration
}

type MCPClient struct {
	cfg      ClientConfig
	endpoint string
	http     *http.Client
}

// NewMCPClient создаёт клиента. hc == nil — используется http.DefaultClient.
func NewMCPClient(cfg ClientConfig, hc *http.Client) *MCPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTP
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &MCPClient{cfg: cfg, endpoint: ResolveEndpoint(cfg.BaseURL), http: hc}
}

// ResolveEndpoint приводит базовый URL к виду .../mcp.
func ResolveEndpoint(baseURL string) string {
	if strings.HasSuffix(baseURL, "/mcp") {
		return baseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/mcp"
}

func (c *MCPClient) Name() string { return c.cfg.Name }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  *callParams `json:"params,omitempty"`
}

type callParams struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (c *MCPClient) ListTools(ctx context.Context) ([]json.RawMessage, error) {
	result, err := c.do(ctx, rpcRequest{JSONRPC: "2.0", ID: "list_tools", Method: "list_tools"})
	if err != nil {
		return nil, err
	}
	tools := make([]json.RawMessage, 0)
	for _, t := range result.Get("tools").Array() {
		tools = append(tools, json.RawMessage(t.Raw))
	}
	return tools, nil
}

func (c *MCPClient) CallTool(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
	result, err := c.do(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      "call_" + tool,
		Method:  "call_tool",
		Params:  &callParams{Name: tool, Input: input},
	})
	if err != nil {
		return nil, err
	}
	return extractOutput(result), nil
}

// extractOutput терпим к форме ответа: result.output, иначе первый
// текстовый content-блок (JSON, если разбирается, иначе строка), иначе null.
func extractOutput(result gjson.Result) json.RawMessage {
	if out := result.Get("output"); out.Exists() {
		return json.RawMessage(out.Raw)
	}
	first := result.Get("content.0")
	if first.Get("type").String() == "text" {
		text := first.Get("text").String()
		if trimmed := strings.TrimSpace(text); trimmed != "" && gjson.Valid(trimmed) {
			return json.RawMessage(trimmed)
		}
		b, _ := json.Marshal(text)
		return b
	}
	return json.RawMessage("null")
}

// do отправляет конверт и возвращает поле result ответа.
func (c *MCPClient) do(ctx context.Context, req rpcRequest) (gjson.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal %s request: %w", req.Method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build %s request: %w", req.Method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if c.cfg.Transport == TransportSSE {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gjson.Result{}, c.wrapTransport(ctx, 0, err)
	}
	defer resp.Body.Close()

	var payload []byte
	if c.cfg.Transport == TransportSSE {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return gjson.Result{}, c.statusFailure(resp)
		}
		payload, err = readSSEFrame(resp.Body)
		if err != nil {
			return gjson.Result{}, c.wrapSSE(ctx, resp.StatusCode, err)
		}
	} else {
		payload, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return gjson.Result{}, c.wrapTransport(ctx, resp.StatusCode, err)
		}
	}

	if !gjson.ValidBytes(payload) {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return gjson.Result{}, c.statusFailure(resp)
		}
		return gjson.Result{}, transportError(c.cfg.Name, resp.StatusCode, "Downstream returned invalid JSON", nil)
	}
	parsed := gjson.ParseBytes(payload)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return gjson.Result{}, providerError(c.cfg.Name, resp.StatusCode, msg.String())
	}
	if parsed.Get("error").Exists() {
		return gjson.Result{}, providerError(c.cfg.Name, resp.StatusCode, fmt.Sprintf("Downstream error (%d)", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, c.statusFailure(resp)
	}
	return parsed.Get("result"), nil
}

func (c *MCPClient) statusFailure(resp *http.Response) error {
	de := statusError(c.cfg.Name, resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		de.Err = &ThrottleError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), Cause: errors.New(de.Message)}
	}
	return de
}

func (c *MCPClient) wrapTransport(ctx context.Context, status int, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transportError(c.cfg.Name, status, "Downstream request timed out", fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return transportError(c.cfg.Name, status, fmt.Sprintf("Downstream request failed: %v", err), err)
}

func (c *MCPClient) wrapSSE(ctx context.Context, status int, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return transportError(c.cfg.Name, status, "Downstream SSE timed out", fmt.Errorf("%w: %w", ErrTimeout, err))
	case errors.Is(err, errSSEMissingData), errors.Is(err, errSSENoFrame):
		return transportError(c.cfg.Name, status, err.Error(), err)
	default:
		return c.wrapTransport(ctx, status, err)
	}
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

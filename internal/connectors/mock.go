package connectors

import (
	"context"
	"encoding/json"
	"sync"
)

// MockClient — downstream в памяти для тестов шлюза.
type MockClient struct {
	Downstream string
	Tools      []json.RawMessage
	// Handle отвечает на call_tool; nil — эхо входа в поле output.
	Handle func(tool string, input json.RawMessage) (json.RawMessage, error)

	mu    sync.Mutex
	calls []MockCall
}

type MockCall struct {
	Tool  string
	Input json.RawMessage
}

func (m *MockClient) Name() string { return m.Downstream }

func (m *MockClient) ListTools(ctx context.Context) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Tools, nil
}

func (m *MockClient) CallTool(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Tool: tool, Input: input})
	m.mu.Unlock()

	if m.Handle != nil {
		return m.Handle(tool, input)
	}
	if len(input) == 0 {
		return json.RawMessage("null"), nil
	}
	return input, nil
}

// Calls — копия журнала вызовов.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

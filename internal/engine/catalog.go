package engine

import (
	"encoding/json"

	"github.com/xela07ax/sovereign-gateway/internal/policy"
)

// ToolDefinition — запись каталога, которую видит клиент в list_tools.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

const emptySchema = `{"type":"object","properties":{},"additionalProperties":false}`

var catalog = []ToolDefinition{
	{
		Name:        policy.ToolHealth,
		Description: "Health check for sovereign MCP",
		InputSchema: json.RawMessage(emptySchema),
	},
	{
		Name:        policy.ToolListDownstreams,
		Description: "List downstream MCP connections",
		InputSchema: json.RawMessage(emptySchema),
	},
	{
		Name:        policy.ToolCallDownstream,
		Description: "Call a downstream MCP tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"downstream":{"type":"string"},"tool":{"type":"string"},"input":{"type":"object"}},"required":["downstream","tool"],"additionalProperties":false}`),
	},
	{
		Name:        policy.ToolGetState,
		Description: "Get canonical project state",
		InputSchema: json.RawMessage(emptySchema),
	},
	{
		Name:        policy.ToolGetHistory,
		Description: "Get recent event history",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"number"}},"additionalProperties":false}`),
	},
	{
		Name:        policy.ToolEventAppend,
		Description: "Append an event to the log",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"event_name":{"type":"string"},"payload":{"type":"object"}},"required":["event_name","payload"],"additionalProperties":false}`),
	},
	{
		Name:        policy.ToolVerdictSet,
		Description: "Set verdict state",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"verdict":{"type":"string","enum":["PASS","BLOCK"]},"reason":{"type":"string"},"proofs_ref":{"type":"string"}},"required":["verdict","reason"],"additionalProperties":false}`),
	},
	{
		Name:        policy.ToolTaskSetActive,
		Description: "Set active task",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string"}},"required":["task_id"],"additionalProperties":false}`),
	},
	{
		Name:        policy.ToolTaskSetStatus,
		Description: "Set task status",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string"},"status":{"type":"string","enum":["todo","doing","blocked","done"]}},"required":["task_id","status"],"additionalProperties":false}`),
	},
	{
		Name:        policy.ToolProofAppend,
		Description: "Append a proof reference to a task",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string"},"proof_type":{"type":"string"},"payload_ref":{"type":"string"}},"required":["task_id","proof_type","payload_ref"],"additionalProperties":false}`),
	},
}

// Catalog возвращает копию статического каталога инструментов.
func Catalog() []ToolDefinition {
	out := make([]ToolDefinition, len(catalog))
	copy(out, catalog)
	return out
}

package audit

import (
	"time"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

// Kind — какой поверхностью пришёл запрос.
type Kind string

const (
	KindHTTPUI  Kind = "http_ui"
	KindMCPTool Kind = "mcp_tool"
)

// Entry — одна запись аудита на каждый запрос, независимо от исхода.
type Entry struct {
	TS         time.Time    `json:"ts"`
	TokenScope domain.Scope `json:"token_scope"` // Каким токеном
	Kind       Kind         `json:"kind"`
	Name       string       `json:"name"` // Маршрут или имя инструмента
	OK         bool         `json:"ok"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

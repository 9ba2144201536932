// Package policy хранит статические allowlist'ы шлюза и проверяет по ним вызовы.
// Это чистые данные: никакого I/O, только принадлежность множествам.
package policy

import (
	"fmt"
	"sort"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

// Error — отказ политики. У каждого правила своё сообщение, чтобы клиент
// мог различить причину.
type Error struct {
	Rule    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrToolNotAllowlisted           = &Error{Rule: "tool_not_allowlisted", Message: "Tool not allowlisted"}
	ErrToolRequiresWrite            = &Error{Rule: "tool_requires_write", Message: "Tool requires write scope"}
	ErrDownstreamToolNotAllowlisted = &Error{Rule: "downstream_tool_not_allowlisted", Message: "Downstream tool not allowlisted"}
	ErrDownstreamToolRequiresWrite  = &Error{Rule: "downstream_tool_requires_write", Message: "Downstream tool requires write scope"}
)

// Tables — исходные данные политики.
type Tables struct {
	Inbound   []string
	WriteOnly []string
	// Downstream: имя downstream -> разрешённые инструменты.
	Downstream map[string][]string
	// DownstreamRead — строгое подмножество Downstream для read-токена.
	DownstreamRead map[string][]string
}

type set map[string]struct{}

func newSet(items []string) set {
	s := make(set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s set) has(item string) bool {
	_, ok := s[item]
	return ok
}

type Enforcer struct {
	inbound        set
	writeOnly      set
	downstream     map[string]set
	downstreamRead map[string]set
}

// New проверяет инварианты таблиц и строит Enforcer:
//   - каждый write-only инструмент входит во входящий allowlist;
//   - read-allowlist каждого downstream — подмножество его полного allowlist.
func New(t Tables) (*Enforcer, error) {
	e := &Enforcer{
		inbound:        newSet(t.Inbound),
		writeOnly:      newSet(t.WriteOnly),
		downstream:     make(map[string]set, len(t.Downstream)),
		downstreamRead: make(map[string]set, len(t.DownstreamRead)),
	}

	for _, name := range t.WriteOnly {
		if !e.inbound.has(name) {
			return nil, fmt.Errorf("policy: write-only tool %q is not in the inbound allowlist", name)
		}
	}
	for name, tools := range t.Downstream {
		e.downstream[name] = newSet(tools)
	}
	for name, tools := range t.DownstreamRead {
		full, ok := e.downstream[name]
		if !ok {
			return nil, fmt.Errorf("policy: read allowlist for unknown downstream %q", name)
		}
		for _, tool := range tools {
			if !full.has(tool) {
				return nil, fmt.Errorf("policy: downstream %q read tool %q is not in its full allowlist", name, tool)
			}
		}
		e.downstreamRead[name] = newSet(tools)
	}
	return e, nil
}

// MustNew — для таблиц, зашитых в бинарь: нарушение инварианта — ошибка сборки,
// процесс не должен стартовать.
func MustNew(t Tables) *Enforcer {
	e, err := New(t)
	if err != nil {
		panic(err)
	}
	return e
}

// AuthorizeTool проверяет входящий вызов инструмента.
func (e *Enforcer) AuthorizeTool(scope domain.Scope, tool string) error {
	if !e.inbound.has(tool) {
		return ErrToolNotAllowlisted
	}
	if !scope.CanWrite() && e.writeOnly.has(tool) {
		return ErrToolRequiresWrite
	}
	return nil
}

// AuthorizeDownstream проверяет пару (downstream, tool) для прокси-инструмента.
func (e *Enforcer) AuthorizeDownstream(scope domain.Scope, downstream, tool string) error {
	full, ok := e.downstream[downstream]
	if !ok || !full.has(tool) {
		return ErrDownstreamToolNotAllowlisted
	}
	if !scope.CanWrite() {
		read, ok := e.downstreamRead[downstream]
		if !ok || !read.has(tool) {
			return ErrDownstreamToolRequiresWrite
		}
	}
	return nil
}

func (e *Enforcer) IsInbound(tool string) bool { return e.inbound.has(tool) }

func (e *Enforcer) IsWriteOnly(tool string) bool { return e.writeOnly.has(tool) }

// Downstreams возвращает имена downstream, для которых есть allowlist.
func (e *Enforcer) Downstreams() []string {
	names := make([]string, 0, len(e.downstream))
	for name := range e.downstream {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

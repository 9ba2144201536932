package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ValidationError — вход инструмента не прошёл разбор. Проверка идёт до
// любых побочных эффектов.
type ValidationError struct {
	Tool string
}

func (e *ValidationError) Error() string { return "Invalid input for " + e.Tool }

// Типизированные входы инструментов.

type HistoryInput struct {
	Limit int
}

type EventAppendInput struct {
	EventName string
	Payload   json.RawMessage
}

type VerdictInput struct {
	Verdict   domain.VerdictKind
	Reason    string
	ProofsRef *string
}

type TaskSetActiveInput struct {
	TaskID string
}

type TaskSetStatusInput struct {
	TaskID string
	Status domain.TaskStatus
}

type ProofAppendInput struct {
	TaskID     string
	ProofType  string
	PayloadRef string
}

type CallDownstreamInput struct {
	Downstream string
	Tool       string
	Input      json.RawMessage
}

// objectOrEmpty: отсутствующий вход читается как {}.
func objectOrEmpty(in gjson.Result) (gjson.Result, bool) {
	if !in.Exists() {
		return gjson.Parse("{}"), true
	}
	return in, in.IsObject()
}

func stringField(obj gjson.Result, key string) (string, bool) {
	v := obj.Get(key)
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}

// ClampHistoryLimit приводит лимит к [1, MaxHistoryLimit].
func ClampHistoryLimit(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultHistoryLimit
	}
	v = math.Min(math.Max(v, 1), MaxHistoryLimit)
	return int(v)
}

// ParseHistoryLimit разбирает лимит из query-строки: пусто или не число — дефолт.
func ParseHistoryLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultHistoryLimit
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultHistoryLimit
	}
	return ClampHistoryLimit(v)
}

func parseHistoryInput(tool string, in gjson.Result) (HistoryInput, error) {
	obj, ok := objectOrEmpty(in)
	if !ok {
		return HistoryInput{}, &ValidationError{Tool: tool}
	}
	limit := obj.Get("limit")
	switch {
	case !limit.Exists():
		return HistoryInput{Limit: DefaultHistoryLimit}, nil
	case limit.Type != gjson.Number:
		return HistoryInput{}, &ValidationError{Tool: tool}
	}
	return HistoryInput{Limit: ClampHistoryLimit(limit.Num)}, nil
}

func parseNoInput(tool string, in gjson.Result) error {
	if _, ok := objectOrEmpty(in); !ok {
		return &ValidationError{Tool: tool}
	}
	return nil
}

func parseEventAppend(tool string, in gjson.Result) (EventAppendInput, error) {
	if !in.IsObject() {
		return EventAppendInput{}, &ValidationError{Tool: tool}
	}
	name, ok := stringField(in, "event_name")
	payload := in.Get("payload")
	if !ok || !payload.IsObject() {
		return EventAppendInput{}, &ValidationError{Tool: tool}
	}
	return EventAppendInput{EventName: name, Payload: json.RawMessage(payload.Raw)}, nil
}

func parseVerdict(tool string, in gjson.Result) (VerdictInput, error) {
	if !in.IsObject() {
		return VerdictInput{}, &ValidationError{Tool: tool}
	}
	verdict, ok1 := stringField(in, "verdict")
	reason, ok2 := stringField(in, "reason")
	if !ok1 || !ok2 || !domain.VerdictKind(verdict).Valid() {
		return VerdictInput{}, &ValidationError{Tool: tool}
	}
	out := VerdictInput{Verdict: domain.VerdictKind(verdict), Reason: reason}
	if in.Get("proofs_ref").Exists() {
		ref, ok := stringField(in, "proofs_ref")
		if !ok {
			return VerdictInput{}, &ValidationError{Tool: tool}
		}
		out.ProofsRef = &ref
	}
	return out, nil
}

func parseTaskSetActive(tool string, in gjson.Result) (TaskSetActiveInput, error) {
	if !in.IsObject() {
		return TaskSetActiveInput{}, &ValidationError{Tool: tool}
	}
	id, ok := stringField(in, "task_id")
	if !ok {
		return TaskSetActiveInput{}, &ValidationError{Tool: tool}
	}
	return TaskSetActiveInput{TaskID: id}, nil
}

func parseTaskSetStatus(tool string, in gjson.Result) (TaskSetStatusInput, error) {
	if !in.IsObject() {
		return TaskSetStatusInput{}, &ValidationError{Tool: tool}
	}
	id, ok1 := stringField(in, "task_id")
	status, ok2 := stringField(in, "status")
	if !ok1 || !ok2 || !domain.TaskStatus(status).Valid() {
		return TaskSetStatusInput{}, &ValidationError{Tool: tool}
	}
	return TaskSetStatusInput{TaskID: id, Status: domain.TaskStatus(status)}, nil
}

func parseProofAppend(tool string, in gjson.Result) (ProofAppendInput, error) {
	if !in.IsObject() {
		return ProofAppendInput{}, &ValidationError{Tool: tool}
	}
	id, ok1 := stringField(in, "task_id")
	typ, ok2 := stringField(in, "proof_type")
	ref, ok3 := stringField(in, "payload_ref")
	if !ok1 || !ok2 || !ok3 {
		return ProofAppendInput{}, &ValidationError{Tool: tool}
	}
	return ProofAppendInput{TaskID: id, ProofType: typ, PayloadRef: ref}, nil
}

func parseCallDownstream(tool string, in gjson.Result) (CallDownstreamInput, error) {
	if !in.IsObject() {
		return CallDownstreamInput{}, &ValidationError{Tool: tool}
	}
	ds, ok1 := stringField(in, "downstream")
	name, ok2 := stringField(in, "tool")
	if !ok1 || !ok2 {
		return CallDownstreamInput{}, &ValidationError{Tool: tool}
	}
	out := CallDownstreamInput{Downstream: ds, Tool: name, Input: json.RawMessage("{}")}
	if v := in.Get("input"); v.Exists() && v.Type != gjson.Null {
		out.Input = json.RawMessage(v.Raw)
	}
	return out, nil
}

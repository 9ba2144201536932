package engine

/*
Файл tools.go — диспетчер инструментов шлюза.

Каждый инструмент: разбор входа в типизированную структуру -> побочный эффект.
Мутирующие инструменты делают ровно одно обновление состояния через Store
(оно же проставляет last_update_at) и отвечают {ok:true}.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/connectors"
	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/policy"
	"github.com/xela07ax/sovereign-gateway/internal/storage"
)

var (
	ErrUnknownTool       = errors.New("Unknown tool")
	ErrUnknownDownstream = errors.New("Unknown downstream")
)

// StateStore — каноническое состояние проекта.
type StateStore interface {
	Load(ctx context.Context) (*domain.ProjectState, error)
	Update(ctx context.Context, mutate storage.Mutator) (*domain.ProjectState, error)
}

// EventStore — журнал событий.
type EventStore interface {
	Append(ctx context.Context, ev domain.Event) error
	ReadRecent(ctx context.Context, limit int) ([]domain.Event, error)
}

// Downstreams — реестр исходящих клиентов.
type Downstreams interface {
	Get(name string) (connectors.Client, bool)
	Names() []string
}

type toolHandler func(ctx context.Context, input gjson.Result) (any, error)

type Dispatcher struct {
	state       StateStore
	events      EventStore
	downstreams Downstreams
	logger      *zap.Logger
	now         func() time.Time

	handlers map[string]toolHandler
}

type okOutput struct {
	OK bool `json:"ok"`
}

type healthOutput struct {
	OK   bool      `json:"ok"`
	Time time.Time `json:"time"`
}

type downstreamsOutput struct {
	Downstreams []string `json:"downstreams"`
}

type callDownstreamOutput struct {
	Downstream string          `json:"downstream"`
	Tool       string          `json:"tool"`
	Output     json.RawMessage `json:"output"`
}

type historyOutput struct {
	Events []domain.Event `json:"events"`
}

func NewDispatcher(state StateStore, events EventStore, downstreams Downstreams, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		state:       state,
		events:      events,
		downstreams: downstreams,
		logger:      logger.Named("tools"),
		now:         time.Now,
	}
	d.handlers = map[string]toolHandler{
		policy.ToolHealth:          d.health,
		policy.ToolListDownstreams: d.listDownstreams,
		policy.ToolCallDownstream:  d.callDownstream,
		policy.ToolGetState:        d.getState,
		policy.ToolGetHistory:      d.getHistory,
		policy.ToolEventAppend:     d.eventAppend,
		policy.ToolVerdictSet:      d.verdictSet,
		policy.ToolTaskSetActive:   d.taskSetActive,
		policy.ToolTaskSetStatus:   d.taskSetStatus,
		policy.ToolProofAppend:     d.proofAppend,
	}
	return d
}

// WithClock подменяет часы (для тестов).
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Call выполняет инструмент. Политика к этому моменту уже проверена.
func (d *Dispatcher) Call(ctx context.Context, tool string, input gjson.Result) (any, error) {
	h, ok := d.handlers[tool]
	if !ok {
		return nil, ErrUnknownTool
	}
	return h(ctx, input)
}

func (d *Dispatcher) health(_ context.Context, in gjson.Result) (any, error) {
	if err := parseNoInput(policy.ToolHealth, in); err != nil {
		return nil, err
	}
	return healthOutput{OK: true, Time: d.now().UTC()}, nil
}

func (d *Dispatcher) listDownstreams(_ context.Context, in gjson.Result) (any, error) {
	if err := parseNoInput(policy.ToolListDownstreams, in); err != nil {
		return nil, err
	}
	return downstreamsOutput{Downstreams: d.downstreams.Names()}, nil
}

func (d *Dispatcher) callDownstream(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseCallDownstream(policy.ToolCallDownstream, in)
	if err != nil {
		return nil, err
	}
	client, ok := d.downstreams.Get(req.Downstream)
	if !ok {
		return nil, ErrUnknownDownstream
	}
	out, err := client.CallTool(ctx, req.Tool, req.Input)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return callDownstreamOutput{Downstream: req.Downstream, Tool: req.Tool, Output: out}, nil
}

func (d *Dispatcher) getState(ctx context.Context, in gjson.Result) (any, error) {
	if err := parseNoInput(policy.ToolGetState, in); err != nil {
		return nil, err
	}
	st, err := d.state.Load(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (d *Dispatcher) getHistory(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseHistoryInput(policy.ToolGetHistory, in)
	if err != nil {
		return nil, err
	}
	events, err := d.events.ReadRecent(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.Event{}
	}
	return historyOutput{Events: events}, nil
}

func (d *Dispatcher) eventAppend(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseEventAppend(policy.ToolEventAppend, in)
	if err != nil {
		return nil, err
	}
	ev := domain.Event{TS: d.now().UTC(), Name: req.EventName, Payload: req.Payload}
	if err := d.events.Append(ctx, ev); err != nil {
		return nil, err
	}
	_, err = d.state.Update(ctx, func(st *domain.ProjectState, _ time.Time) error {
		name := req.EventName
		st.CurrentEvent = &name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return okOutput{OK: true}, nil
}

func (d *Dispatcher) verdictSet(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseVerdict(policy.ToolVerdictSet, in)
	if err != nil {
		return nil, err
	}
	_, err = d.state.Update(ctx, func(st *domain.ProjectState, now time.Time) error {
		st.LastVerdict = &domain.Verdict{
			Verdict:   req.Verdict,
			Reason:    req.Reason,
			ProofsRef: req.ProofsRef,
			At:        now,
		}
		if req.Verdict == domain.VerdictBlock {
			reason := req.Reason
			st.BlockedReason = &reason
		} else {
			st.BlockedReason = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return okOutput{OK: true}, nil
}

func (d *Dispatcher) taskSetActive(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseTaskSetActive(policy.ToolTaskSetActive, in)
	if err != nil {
		return nil, err
	}
	_, err = d.state.Update(ctx, func(st *domain.ProjectState, _ time.Time) error {
		id := req.TaskID
		st.ActiveTaskID = &id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return okOutput{OK: true}, nil
}

func (d *Dispatcher) taskSetStatus(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseTaskSetStatus(policy.ToolTaskSetStatus, in)
	if err != nil {
		return nil, err
	}
	_, err = d.state.Update(ctx, func(st *domain.ProjectState, _ time.Time) error {
		st.EnsureTask(req.TaskID, req.Status).Status = req.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return okOutput{OK: true}, nil
}

func (d *Dispatcher) proofAppend(ctx context.Context, in gjson.Result) (any, error) {
	req, err := parseProofAppend(policy.ToolProofAppend, in)
	if err != nil {
		return nil, err
	}
	_, err = d.state.Update(ctx, func(st *domain.ProjectState, now time.Time) error {
		task := st.EnsureTask(req.TaskID, domain.TaskTodo)
		task.Proofs = append(task.Proofs, domain.Proof{Type: req.ProofType, Ref: req.PayloadRef, At: now})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return okOutput{OK: true}, nil
}

package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus — жизненный цикл задачи в каноническом состоянии проекта.
type TaskStatus string

const (
	TaskTodo    TaskStatus = "todo"
	TaskDoing   TaskStatus = "doing"
	TaskBlocked TaskStatus = "blocked"
	TaskDone    TaskStatus = "done"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskDoing, TaskBlocked, TaskDone:
		return true
	}
	return false
}

// VerdictKind — итог проверки: PASS или BLOCK.
type VerdictKind string

const (
	VerdictPass  VerdictKind = "PASS"
	VerdictBlock VerdictKind = "BLOCK"
)

func (v VerdictKind) Valid() bool {
	return v == VerdictPass || v == VerdictBlock
}

// Verdict — последний вынесенный вердикт.
type Verdict struct {
	Verdict   VerdictKind `json:"verdict"`
	Reason    string      `json:"reason"`
	ProofsRef *string     `json:"proofs_ref,omitempty"`
	At        time.Time   `json:"at"`
}

// Proof — ссылка на артефакт, подтверждающий работу по задаче. Только дописывается.
type Proof struct {
	Type string    `json:"type"`
	Ref  string    `json:"ref"`
	At   time.Time `json:"at"`
}

type Task struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
	Title  *string    `json:"title,omitempty"`
	Proofs []Proof    `json:"proofs"`

	// Extra — ключи задачи, которых нет в модели (см. codec.go).
	Extra map[string]json.RawMessage `json:"-"`
}

// ProjectState — единственный канонический документ состояния проекта.
// Пишется только через storage.Store.
type ProjectState struct {
	Project            string   `json:"project"`
	ModeActive         *string  `json:"mode_active,omitempty"`
	CurrentEvent       *string  `json:"current_event,omitempty"`
	LastVerdict        *Verdict `json:"last_verdict,omitempty"`
	ActiveTaskID       *string  `json:"active_task_id"`
	Tasks              []Task   `json:"tasks"`
	NextRequiredAction *string  `json:"next_required_action"`
	BlockedReason      *string  `json:"blocked_reason"`
	// LastUpdateAt не убывает между успешными записями.
	LastUpdateAt time.Time `json:"last_update_at"`

	// Extra — ключи документа, которых нет в модели. Их пишут внешние
	// редакторы файла; при перезаписи они сохраняются как есть.
	Extra map[string]json.RawMessage `json:"-"`
}

// NewProjectState returns an empty document for a fresh state directory.
func NewProjectState(project string, now time.Time) *ProjectState {
	return &ProjectState{
		Project:      project,
		Tasks:        []Task{},
		LastUpdateAt: now,
	}
}

// TaskByID returns a pointer into s.Tasks, or nil.
func (s *ProjectState) TaskByID(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// EnsureTask finds the task with the given id or appends a new one with the
// given initial status. Ids stay unique.
func (s *ProjectState) EnsureTask(id string, initial TaskStatus) *Task {
	if t := s.TaskByID(id); t != nil {
		return t
	}
	s.Tasks = append(s.Tasks, Task{ID: id, Status: initial, Proofs: []Proof{}})
	return &s.Tasks[len(s.Tasks)-1]
}

package domain

import (
	"encoding/json"
	"time"
)

// Event — запись журнала событий проекта. Неизменяема после добавления.
type Event struct {
	TS      time.Time       `json:"ts"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

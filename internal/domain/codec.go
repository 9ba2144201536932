package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ErrInvalidTimestamp — документ разбирается как JSON, но метка времени
// не читается ни в одном из известных форматов.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Форматы last_update_at, которые встречаются в файлах, правленых руками.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Типы без методов: через них encoding/json кодирует поля модели по тегам.
type (
	projectStateFields ProjectState
	taskFields         Task
)

var (
	projectStateKeys = jsonKeys(reflect.TypeOf(ProjectState{}))
	taskKeys         = jsonKeys(reflect.TypeOf(Task{}))
)

func (s ProjectState) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(projectStateFields(s), s.Extra)
}

func (s *ProjectState) UnmarshalJSON(data []byte) error {
	*s = ProjectState{}
	// last_update_at разбирается отдельно: внешнее поле затеняет вложенное
	wire := struct {
		*projectStateFields
		LastUpdateAt json.RawMessage `json:"last_update_at"`
	}{projectStateFields: (*projectStateFields)(s)}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ts, err := parseTimestamp(wire.LastUpdateAt)
	if err != nil {
		return fmt.Errorf("last_update_at: %w", err)
	}
	s.LastUpdateAt = ts

	extra, err := unknownKeys(data, projectStateKeys)
	if err != nil {
		return err
	}
	s.Extra = extra
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(taskFields(t), t.Extra)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var f taskFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	extra, err := unknownKeys(data, taskKeys)
	if err != nil {
		return err
	}
	*t = Task(f)
	t.Extra = extra
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, raw)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, str); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, str)
}

// marshalWithExtra кодирует поля модели и добавляет неизвестные ключи.
// Ключи модели всегда главнее.
func marshalWithExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func unknownKeys(data []byte, known map[string]struct{}) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/serial"
	"go.uber.org/zap"
)

const EventLogFileName = "EVENT_LOG.ndjson"

// EventLog — append-only журнал событий в NDJSON.
// Ни компакции, ни ротации: ReadRecent читает файл целиком (известный предел масштабирования).
type EventLog struct {
	path   string
	mu     *serial.Mutex
	logger *zap.Logger
}

func NewEventLog(dir string, logger *zap.Logger) *EventLog {
	return &EventLog{
		path:   filepath.Join(dir, EventLogFileName),
		mu:     serial.New(),
		logger: logger.With(zap.String("mod", "eventlog")),
	}
}

func (l *EventLog) Close() { l.mu.Close() }

func (l *EventLog) Append(ctx context.Context, ev domain.Event) error {
	return l.mu.Run(ctx, func() error {
		return AppendJSONLine(l.path, ev)
	})
}

// ReadRecent возвращает последние limit событий, самые свежие первыми.
// Чтение тоже идёт через очередь, чтобы не поймать строку, дописываемую в этот момент.
func (l *EventLog) ReadRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit < 1 {
		limit = 1
	}

	var lines [][]byte
	err := l.mu.Run(ctx, func() error {
		var err error
		lines, err = ReadJSONLines(l.path)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	events := make([]domain.Event, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var ev domain.Event
		if err := json.Unmarshal(lines[i], &ev); err != nil {
			return nil, fmt.Errorf("parse event log line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

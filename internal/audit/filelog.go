package audit

/*
Файл filelog.go — журнал аудита шлюза (AUDIT_LOG.ndjson).

- Append-only: одна строка JSON на запрос, без ротации.
- Single writer: все записи проходят через собственный serial.Mutex, поэтому
  строки не перемешиваются и не обрываются при конкурентных запросах.
- Запись аудита не зависит от отмены контекста запроса: если клиент отвалился,
  запись всё равно должна попасть в журнал.
*/

import (
	"context"
	"path/filepath"
	"time"

	"github.com/xela07ax/sovereign-gateway/internal/serial"
	"github.com/xela07ax/sovereign-gateway/internal/storage"
	"go.uber.org/zap"
)

const FileName = "AUDIT_LOG.ndjson"

// Auditor — то, что нужно HTTP-слою: зафиксировать исход запроса.
type Auditor interface {
	Record(ctx context.Context, entry Entry)
}

type FileLog struct {
	path   string
	mu     *serial.Mutex
	logger *zap.Logger
}

func NewFileLog(dir string, logger *zap.Logger) *FileLog {
	return &FileLog{
		path:   filepath.Join(dir, FileName),
		mu:     serial.New(),
		logger: logger.With(zap.String("mod", "audit")),
	}
}

func (l *FileLog) Close() { l.mu.Close() }

// Append дописывает запись и возвращает ошибку записи.
func (l *FileLog) Append(ctx context.Context, entry Entry) error {
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	return l.mu.Run(context.WithoutCancel(ctx), func() error {
		return storage.AppendJSONLine(l.path, entry)
	})
}

// Record реализует Auditor: ошибка записи не теряется, а уходит в лог процесса.
func (l *FileLog) Record(ctx context.Context, entry Entry) {
	fields := []zap.Field{
		zap.String("kind", string(entry.Kind)),
		zap.String("name", entry.Name),
		zap.String("scope", string(entry.TokenScope)),
		zap.Bool("ok", entry.OK),
		zap.Int64("duration_ms", entry.DurationMs),
	}
	if entry.Error != "" {
		fields = append(fields, zap.String("error", entry.Error))
	}
	l.logger.Debug("audit", fields...)

	if err := l.Append(ctx, entry); err != nil {
		l.logger.Error("audit append failed", append(fields, zap.NamedError("append_error", err))...)
	}
}

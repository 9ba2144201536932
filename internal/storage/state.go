package storage

/*
Файл state.go реализует хранилище канонического документа состояния проекта.

- Единственный писатель: все изменения идут через собственный serial.Mutex.
- Read-modify-write: на каждое Update документ перечитывается с диска, кэшу
  в памяти не доверяем (файл могут править снаружи).
- Атомарность: запись во временный файл в том же каталоге, fsync, rename поверх
  канонического пути. Читатель никогда не видит наполовину записанный JSON.
- Повреждённый документ не перезаписывается: лучше отказ, чем тихая потеря состояния.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
	"github.com/xela07ax/sovereign-gateway/internal/serial"
	"go.uber.org/zap"
)

const StateFileName = "PROJECT_STATE.json"

var (
	// ErrCorruptedState — документ на диске не разбирается как JSON.
	ErrCorruptedState = errors.New("project state is corrupted; refusing write")
	// ErrInvalidState — JSON целый, но значение поля не читается (например,
	// last_update_at в незнакомом формате). Запись тоже отклоняется.
	ErrInvalidState = errors.New("project state has invalid field; refusing write")
	// ErrStateNotInitialized — документа ещё нет (см. EnsureInitialized).
	ErrStateNotInitialized = errors.New("project state is not initialized")
)

// Mutator получает текущий документ и момент записи; изменяет документ на месте.
// Ошибка отменяет запись.
type Mutator func(state *domain.ProjectState, now time.Time) error

type Store struct {
	path   string
	mu     *serial.Mutex
	now    func() time.Time
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		path:   filepath.Join(dir, StateFileName),
		mu:     serial.New(),
		now:    time.Now,
		logger: logger.With(zap.String("mod", "state")),
	}
}

// WithClock подменяет источник времени (тесты).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Path() string { return s.path }

// Close останавливает очередь записи.
func (s *Store) Close() { s.mu.Close() }

// Load читает и разбирает документ. Без блокировки: rename атомарен.
func (s *Store) Load(_ context.Context) (*domain.ProjectState, error) {
	return s.read()
}

// Update выполняет один цикл read-modify-write под эксклюзивной очередью и
// возвращает новый документ. last_update_at проставляется здесь и не убывает.
func (s *Store) Update(ctx context.Context, mutate Mutator) (*domain.ProjectState, error) {
	var next *domain.ProjectState

	err := s.mu.Run(ctx, func() error {
		current, err := s.read()
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if now.Before(current.LastUpdateAt) {
			now = current.LastUpdateAt
		}

		if err := mutate(current, now); err != nil {
			return err
		}
		current.LastUpdateAt = now

		if err := s.writeAtomic(current); err != nil {
			return err
		}
		next = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// EnsureInitialized создаёт пустой документ, если файла ещё нет.
// Существующий документ (даже повреждённый) не трогает.
func (s *Store) EnsureInitialized(ctx context.Context, project string) error {
	return s.mu.Run(ctx, func() error {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
		if _, err := os.Stat(s.path); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat state: %w", err)
		}

		s.logger.Info("seeding empty project state", zap.String("path", s.path), zap.String("project", project))
		return s.writeAtomic(domain.NewProjectState(project, s.now().UTC()))
	})
}

func (s *Store) read() (*domain.ProjectState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStateNotInitialized
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state domain.ProjectState
	if err := json.Unmarshal(raw, &state); err != nil {
		if errors.Is(err, domain.ErrInvalidTimestamp) {
			s.logger.Error("project state has invalid field", zap.String("path", s.path), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		s.logger.Error("project state failed to parse", zap.String("path", s.path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	if state.Tasks == nil {
		state.Tasks = []domain.Task{}
	}
	for i := range state.Tasks {
		if state.Tasks[i].Proofs == nil {
			state.Tasks[i].Proofs = []domain.Proof{}
		}
	}
	return &state, nil
}

func (s *Store) writeAtomic(state *domain.ProjectState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), StateFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()

	// При любой ошибке до rename убираем временный файл
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

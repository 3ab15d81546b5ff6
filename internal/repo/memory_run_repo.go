package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// MemoryRunRepo — хранилище runs в памяти с той же семантикой
// compare-and-set, что и RunRepo. Для локального запуска и тестов.
type MemoryRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

// NewMemoryRunRepo создаёт пустой MemoryRunRepo.
func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{runs: make(map[uuid.UUID]*domain.Run)}
}

// Create сохраняет новый run с version = 1.
func (m *MemoryRunRepo) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return ErrAlreadyExists
	}

	run.Version = 1
	m.runs[run.ID] = run.Clone()
	return nil
}

// Load возвращает копию run.
func (m *MemoryRunRepo) Load(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// Save сохраняет run, если текущая версия равна expectedVersion.
func (m *MemoryRunRepo) Save(_ context.Context, run *domain.Run, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	run.Version = expectedVersion + 1
	m.runs[run.ID] = run.Clone()
	return nil
}

// ListActive возвращает нефинальные runs, самые старые первыми.
func (m *MemoryRunRepo) ListActive(_ context.Context, limit int) ([]domain.Run, error) {
	return m.list(func(r *domain.Run) bool { return !r.IsFinished() }, false, limit, 0), nil
}

// List возвращает runs с фильтрацией, новые первыми.
func (m *MemoryRunRepo) List(_ context.Context, filter RunFilter) ([]domain.Run, error) {
	match := func(r *domain.Run) bool {
		if filter.ClientID != "" && r.ClientID != filter.ClientID {
			return false
		}
		if filter.Status != "" && r.Status != filter.Status {
			return false
		}
		return true
	}
	return m.list(match, true, filter.Limit, filter.Offset), nil
}

func (m *MemoryRunRepo) list(match func(*domain.Run) bool, newestFirst bool, limit, offset int) []domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.Run
	for _, r := range m.runs {
		if match(r) {
			result = append(result, *r.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		if newestFirst {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(result) {
			return nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

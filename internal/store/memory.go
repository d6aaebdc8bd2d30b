package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shiftarc/shiftarc/api/schemas"
)

// MemoryStore keeps optimization artifacts in process. It backs one-shot CLI
// runs where no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	staffing    map[uuid.UUID]*schemas.StaffingResult
	allocations map[uuid.UUID]*schemas.AllocationResult
	schedules   map[uuid.UUID]*schemas.OptimizationResult
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		staffing:    make(map[uuid.UUID]*schemas.StaffingResult),
		allocations: make(map[uuid.UUID]*schemas.AllocationResult),
		schedules:   make(map[uuid.UUID]*schemas.OptimizationResult),
	}
}

func (m *MemoryStore) SaveStaffing(_ context.Context, result *schemas.StaffingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staffing[result.RunID] = result
	return nil
}

func (m *MemoryStore) SaveAllocation(_ context.Context, result *schemas.AllocationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[result.RunID] = result
	return nil
}

func (m *MemoryStore) SaveSchedule(_ context.Context, result *schemas.OptimizationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[result.RunID] = result
	return nil
}

// Staffing returns a stored staffing run by id.
func (m *MemoryStore) Staffing(runID uuid.UUID) (*schemas.StaffingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.staffing[runID]
	if !ok {
		return nil, fmt.Errorf("staffing run %s not found", runID)
	}
	return result, nil
}

// Allocation returns a stored allocation run by id.
func (m *MemoryStore) Allocation(runID uuid.UUID) (*schemas.AllocationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.allocations[runID]
	if !ok {
		return nil, fmt.Errorf("allocation run %s not found", runID)
	}
	return result, nil
}

// Schedule returns a stored optimization run by id.
func (m *MemoryStore) Schedule(runID uuid.UUID) (*schemas.OptimizationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.schedules[runID]
	if !ok {
		return nil, fmt.Errorf("schedule run %s not found", runID)
	}
	return result, nil
}

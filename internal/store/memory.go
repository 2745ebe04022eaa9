package store

import (
	"context"
	"sort"
	"sync"

	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/pkg/schema"
)

// MemoryStore is the default Store: mutex-guarded maps, no persistence.
type MemoryStore struct {
	mu          sync.RWMutex
	executions  map[string]*ExecutionRecord
	deadLetters []*DeadLetterEntry
	paused      map[string]*PausedExecution
	stepLogs    map[string][]*StepLogEntry
	secrets     map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*ExecutionRecord),
		paused:     make(map[string]*PausedExecution),
		stepLogs:   make(map[string][]*StepLogEntry),
		secrets:    make(map[string][]byte),
	}
}

func (s *MemoryStore) PutExecution(_ context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return schema.NewError(schema.ErrCodeStore, "execution record requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ExecutionRecord
	for _, rec := range s.executions {
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendDeadLetter(_ context.Context, entry *DeadLetterEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "dead letter entry requires an execution id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.Record = *cloneRecord(&entry.Record)
	s.deadLetters = append(s.deadLetters, &cp)
	return nil
}

func (s *MemoryStore) GetDeadLetter(_ context.Context, executionID string) (*DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.deadLetters {
		if e.ExecutionID == executionID {
			cp := *e
			cp.Record = *cloneRecord(&e.Record)
			return &cp, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "dead letter %s not found", executionID)
}

func (s *MemoryStore) ListDeadLetters(_ context.Context) ([]*DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DeadLetterEntry, 0, len(s.deadLetters))
	for i := len(s.deadLetters) - 1; i >= 0; i-- {
		e := s.deadLetters[i]
		cp := *e
		cp.Record = *cloneRecord(&e.Record)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkPaused(_ context.Context, p *PausedExecution) error {
	if p == nil || p.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "paused entry requires an execution id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.paused[p.ExecutionID] = &cp
	return nil
}

func (s *MemoryStore) ClearPaused(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paused, executionID)
	return nil
}

func (s *MemoryStore) GetPaused(_ context.Context, executionID string) (*PausedExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paused[executionID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "paused execution %s not found", executionID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPaused(_ context.Context) ([]*PausedExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PausedExecution, 0, len(s.paused))
	for _, p := range s.paused {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PausedAt.After(out[j].PausedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendStepLog(_ context.Context, entry *StepLogEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "step log entry requires an execution id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.stepLogs[entry.ExecutionID] = append(s.stepLogs[entry.ExecutionID], &cp)
	return nil
}

func (s *MemoryStore) ListStepLogs(_ context.Context, executionID string) ([]*StepLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.stepLogs[executionID]
	out := make([]*StepLogEntry, 0, len(logs))
	for _, l := range logs {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeStore, "secret requires a key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %s not found", key)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// cloneRecord copies a record deeply enough that callers on either side
// of the store boundary cannot alias each other's slices or maps.
// Step outputs are treated as immutable once recorded and are shared.
func cloneRecord(rec *ExecutionRecord) *ExecutionRecord {
	cp := *rec
	if rec.Steps != nil {
		cp.Steps = make([]StepResult, len(rec.Steps))
		copy(cp.Steps, rec.Steps)
	}
	if rec.FailedSteps != nil {
		cp.FailedSteps = append([]string(nil), rec.FailedSteps...)
	}
	if rec.Errors != nil {
		cp.Errors = append([]StepError(nil), rec.Errors...)
	}
	if rec.Context != nil {
		cp.Context = append(resolve.Context(nil), rec.Context...)
	}
	if rec.TriggerData != nil {
		cp.TriggerData = make(map[string]any, len(rec.TriggerData))
		for k, v := range rec.TriggerData {
			cp.TriggerData[k] = v
		}
	}
	return &cp
}

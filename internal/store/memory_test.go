package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/pkg/schema"
)

func newRecord(id, userID string, status schema.ExecutionStatus, started time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:        id,
		PlanID:    "plan-1",
		UserID:    userID,
		Status:    status,
		StartedAt: started,
	}
}

func TestMemoryStorePutGetExecution(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("e1", "u1", schema.ExecutionRunning, time.Now())
	rec.Steps = []StepResult{{StepID: "s1", Status: schema.StepSuccess}}
	require.NoError(t, s.PutExecution(ctx, rec))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Len(t, got.Steps, 1)

	// The stored record must not alias the caller's slices.
	got.Steps[0].Status = schema.StepFailed
	again, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, schema.StepSuccess, again.Steps[0].Status)
}

func TestMemoryStoreGetExecutionNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetExecution(context.Background(), "missing")
	require.Error(t, err)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestMemoryStoreListExecutionsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.PutExecution(ctx, newRecord("e1", "u1", schema.ExecutionSuccess, base.Add(-3*time.Minute))))
	require.NoError(t, s.PutExecution(ctx, newRecord("e2", "u1", schema.ExecutionFailed, base.Add(-2*time.Minute))))
	require.NoError(t, s.PutExecution(ctx, newRecord("e3", "u2", schema.ExecutionSuccess, base.Add(-1*time.Minute))))

	all, err := s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most recent first.
	assert.Equal(t, "e3", all[0].ID)

	u1, err := s.ListExecutions(ctx, ExecutionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, u1, 2)

	failed, err := s.ListExecutions(ctx, ExecutionFilter{Status: schema.ExecutionFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "e2", failed[0].ID)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStoreDeadLetters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("e1", "u1", schema.ExecutionFailed, time.Now())
	entry := &DeadLetterEntry{ExecutionID: "e1", Record: *rec, ArchivedAt: time.Now()}
	require.NoError(t, s.AppendDeadLetter(ctx, entry))

	got, err := s.GetDeadLetter(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionFailed, got.Record.Status)

	list, err := s.ListDeadLetters(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetDeadLetter(ctx, "nope")
	assert.Error(t, err)
}

func TestMemoryStorePausedSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.MarkPaused(ctx, &PausedExecution{ExecutionID: "e1", Cursor: 2, PausedAt: time.Now()}))

	p, err := s.GetPaused(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Cursor)

	list, err := s.ListPaused(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.ClearPaused(ctx, "e1"))
	_, err = s.GetPaused(ctx, "e1")
	assert.Error(t, err)

	// Clearing an absent entry is fine.
	assert.NoError(t, s.ClearPaused(ctx, "never-there"))
}

func TestMemoryStoreStepLogs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendStepLog(ctx, &StepLogEntry{
			ExecutionID: "e1",
			PlanID:      "plan-1",
			StepIndex:   i,
			Status:      "success",
			Timestamp:   time.Now(),
		}))
	}

	logs, err := s.ListStepLogs(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, 0, logs[0].StepIndex)
	assert.Equal(t, 2, logs[2].StepIndex)

	empty, err := s.ListStepLogs(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, code, engErr.Code)
}

func TestMemorySecrets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetSecret(ctx, "missing")
	requireCode(t, err, schema.ErrCodeNotFound)

	require.NoError(t, s.StoreSecret(ctx, "a", []byte("one")))
	require.NoError(t, s.StoreSecret(ctx, "b", []byte("two")))

	v, err := s.GetSecret(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	// Returned value is a copy.
	v[0] = 'X'
	again, err := s.GetSecret(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), again)

	keys, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, s.DeleteSecret(ctx, "a"))
	require.NoError(t, s.DeleteSecret(ctx, "a"))
	_, err = s.GetSecret(ctx, "a")
	requireCode(t, err, schema.ErrCodeNotFound)
}

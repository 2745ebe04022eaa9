package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/resolve"
	"github.com/planweave/planweave/pkg/schema"
)

func newTestLibSQL(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLibSQLMigrateIdempotent(t *testing.T) {
	s := newTestLibSQL(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestLibSQLExecutionRoundTrip(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	rec := newRecord("e1", "u1", schema.ExecutionRunning, time.Now().UTC())
	rec.Steps = []StepResult{{StepID: "s1", StepIndex: 0, Status: schema.StepSuccess, Output: map[string]any{"n": float64(1)}}}
	rec.Context = resolve.Context{{Success: true, Output: map[string]any{"n": float64(1)}}}
	require.NoError(t, s.PutExecution(ctx, rec))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, rec.Steps, got.Steps)
	assert.Equal(t, rec.Context, got.Context)

	// Upsert replaces the record.
	now := time.Now().UTC()
	rec.Status = schema.ExecutionSuccess
	rec.CompletedAt = &now
	require.NoError(t, s.PutExecution(ctx, rec))
	got, err = s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)

	_, err = s.GetExecution(ctx, "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestLibSQLListExecutionsFilters(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.PutExecution(ctx, newRecord("e1", "u1", schema.ExecutionSuccess, base.Add(-2*time.Minute))))
	require.NoError(t, s.PutExecution(ctx, newRecord("e2", "u1", schema.ExecutionFailed, base.Add(-time.Minute))))
	require.NoError(t, s.PutExecution(ctx, newRecord("e3", "u2", schema.ExecutionSuccess, base)))

	all, err := s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID) // most recent first

	mine, err := s.ListExecutions(ctx, ExecutionFilter{UserID: "u1", Status: schema.ExecutionFailed})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "e2", mine[0].ID)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLibSQLDeadLetters(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	rec := newRecord("e1", "u1", schema.ExecutionFailed, time.Now().UTC())
	entry := &DeadLetterEntry{ExecutionID: "e1", Record: *rec, ArchivedAt: time.Now().UTC()}
	require.NoError(t, s.AppendDeadLetter(ctx, entry))

	got, err := s.GetDeadLetter(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.Record.ID)

	list, err := s.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetDeadLetter(ctx, "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestLibSQLPausedSet(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	p := &PausedExecution{ExecutionID: "e1", Cursor: 2, PausedAt: time.Now().UTC()}
	require.NoError(t, s.MarkPaused(ctx, p))

	// Re-marking updates the cursor.
	p.Cursor = 3
	require.NoError(t, s.MarkPaused(ctx, p))

	got, err := s.GetPaused(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Cursor)

	list, err := s.ListPaused(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.ClearPaused(ctx, "e1"))
	require.NoError(t, s.ClearPaused(ctx, "e1"))
	_, err = s.GetPaused(ctx, "e1")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestLibSQLStepLogs(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendStepLog(ctx, &StepLogEntry{
			ExecutionID: "e1",
			PlanID:      "plan-1",
			StepIndex:   i,
			Status:      string(schema.StepSuccess),
			Timestamp:   time.Now().UTC(),
		}))
	}

	logs, err := s.ListStepLogs(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, 0, logs[0].StepIndex)
	assert.Equal(t, 2, logs[2].StepIndex)

	none, err := s.ListStepLogs(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLibSQLSecrets(t *testing.T) {
	s := newTestLibSQL(t)
	ctx := context.Background()

	require.NoError(t, s.StoreSecret(ctx, "k1", []byte{0x01, 0x02}))
	require.NoError(t, s.StoreSecret(ctx, "k1", []byte{0x03}))

	v, err := s.GetSecret(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, v)

	keys, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	require.NoError(t, s.DeleteSecret(ctx, "k1"))
	_, err = s.GetSecret(ctx, "k1")
	requireCode(t, err, schema.ErrCodeNotFound)
}

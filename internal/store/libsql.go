package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/planweave/planweave/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork). Records
// are kept as JSON documents with the query columns extracted, which
// keeps the schema stable while the record shape evolves.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/planweave.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) PutExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return schema.NewError(schema.ErrCodeStore, "execution record requires an id")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal execution record").WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, plan_id, user_id, status, record, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, record=excluded.record, completed_at=excluded.completed_at`,
		rec.ID, rec.PlanID, rec.UserID, string(rec.Status), string(doc), rec.StartedAt, nullTimePtr(rec.CompletedAt),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "put execution").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM executions WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get execution").WithCause(err)
	}
	return unmarshalRecord(doc)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	query := `SELECT record FROM executions WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list executions").WithCause(err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan execution").WithCause(err)
		}
		rec, err := unmarshalRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) AppendDeadLetter(ctx context.Context, entry *DeadLetterEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "dead letter entry requires an execution id")
	}
	doc, err := json.Marshal(entry.Record)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal dead letter record").WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (execution_id, record, archived_at) VALUES (?, ?, ?)`,
		entry.ExecutionID, string(doc), entry.ArchivedAt,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "append dead letter").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetDeadLetter(ctx context.Context, executionID string) (*DeadLetterEntry, error) {
	entry := &DeadLetterEntry{ExecutionID: executionID}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT record, archived_at FROM dead_letters WHERE execution_id = ?`, executionID,
	).Scan(&doc, &entry.ArchivedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "dead letter %s not found", executionID)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get dead letter").WithCause(err)
	}
	rec, err := unmarshalRecord(doc)
	if err != nil {
		return nil, err
	}
	entry.Record = *rec
	return entry, nil
}

func (s *LibSQLStore) ListDeadLetters(ctx context.Context) ([]*DeadLetterEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, record, archived_at FROM dead_letters ORDER BY archived_at DESC`)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list dead letters").WithCause(err)
	}
	defer rows.Close()

	var out []*DeadLetterEntry
	for rows.Next() {
		entry := &DeadLetterEntry{}
		var doc string
		if err := rows.Scan(&entry.ExecutionID, &doc, &entry.ArchivedAt); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan dead letter").WithCause(err)
		}
		rec, err := unmarshalRecord(doc)
		if err != nil {
			return nil, err
		}
		entry.Record = *rec
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) MarkPaused(ctx context.Context, p *PausedExecution) error {
	if p == nil || p.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "paused entry requires an execution id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paused_executions (execution_id, cursor, paused_at) VALUES (?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET cursor=excluded.cursor, paused_at=excluded.paused_at`,
		p.ExecutionID, p.Cursor, p.PausedAt,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "mark paused").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ClearPaused(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM paused_executions WHERE execution_id = ?`, executionID)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "clear paused").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetPaused(ctx context.Context, executionID string) (*PausedExecution, error) {
	p := &PausedExecution{}
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_id, cursor, paused_at FROM paused_executions WHERE execution_id = ?`,
		executionID,
	).Scan(&p.ExecutionID, &p.Cursor, &p.PausedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "paused execution %s not found", executionID)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get paused").WithCause(err)
	}
	return p, nil
}

func (s *LibSQLStore) ListPaused(ctx context.Context) ([]*PausedExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, cursor, paused_at FROM paused_executions ORDER BY paused_at DESC`)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list paused").WithCause(err)
	}
	defer rows.Close()

	var out []*PausedExecution
	for rows.Next() {
		p := &PausedExecution{}
		if err := rows.Scan(&p.ExecutionID, &p.Cursor, &p.PausedAt); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan paused").WithCause(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) AppendStepLog(ctx context.Context, entry *StepLogEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "step log entry requires an execution id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs
		   (execution_id, plan_id, step_index, provider, action, status, message, latency_ms, output_preview, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, entry.PlanID, entry.StepIndex, entry.Provider, entry.Action,
		entry.Status, entry.Message, entry.LatencyMs, entry.OutputPreview, entry.Error, entry.Timestamp,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "append step log").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ListStepLogs(ctx context.Context, executionID string) ([]*StepLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, plan_id, step_index, provider, action, status, message, latency_ms, output_preview, error, timestamp
		 FROM execution_logs WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list step logs").WithCause(err)
	}
	defer rows.Close()

	var out []*StepLogEntry
	for rows.Next() {
		e := &StepLogEntry{}
		if err := rows.Scan(&e.ExecutionID, &e.PlanID, &e.StepIndex, &e.Provider, &e.Action,
			&e.Status, &e.Message, &e.LatencyMs, &e.OutputPreview, &e.Error, &e.Timestamp); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan step log").WithCause(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeStore, "secret requires a key")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "store secret").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %s not found", key)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get secret").WithCause(err)
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete secret").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list secrets").WithCause(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan secret key").WithCause(err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func unmarshalRecord(doc string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	if err := json.Unmarshal([]byte(doc), rec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal execution record").WithCause(err)
	}
	return rec, nil
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

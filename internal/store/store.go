// Package store persists execution records, the dead-letter queue, the
// paused set, and step dispatch logs behind a single interface so the
// engine never touches shared state directly.
package store

import "context"

// Store is the persistence boundary of the engine. Implementations must
// be safe for concurrent use and must return copies the caller owns.
type Store interface {
	// PutExecution inserts or replaces an execution record.
	PutExecution(ctx context.Context, rec *ExecutionRecord) error
	// GetExecution returns the record or a NOT_FOUND EngineError.
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	// ListExecutions returns records matching the filter, most recent first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// AppendDeadLetter archives a fully failed execution.
	AppendDeadLetter(ctx context.Context, entry *DeadLetterEntry) error
	// GetDeadLetter returns an archived entry or a NOT_FOUND EngineError.
	GetDeadLetter(ctx context.Context, executionID string) (*DeadLetterEntry, error)
	// ListDeadLetters returns archived entries, most recent first.
	ListDeadLetters(ctx context.Context) ([]*DeadLetterEntry, error)

	// MarkPaused adds or updates an entry in the paused set.
	MarkPaused(ctx context.Context, p *PausedExecution) error
	// ClearPaused removes an entry from the paused set; clearing an
	// absent entry is not an error.
	ClearPaused(ctx context.Context, executionID string) error
	// GetPaused returns the paused entry or a NOT_FOUND EngineError.
	GetPaused(ctx context.Context, executionID string) (*PausedExecution, error)
	// ListPaused returns the paused set.
	ListPaused(ctx context.Context) ([]*PausedExecution, error)

	// AppendStepLog records one dispatch-attempt log line.
	AppendStepLog(ctx context.Context, entry *StepLogEntry) error
	// ListStepLogs returns the dispatch log for an execution in order.
	ListStepLogs(ctx context.Context, executionID string) ([]*StepLogEntry, error)

	// StoreSecret inserts or replaces an opaque secret value. Values
	// arrive already encrypted; the store never sees plaintext.
	StoreSecret(ctx context.Context, key string, value []byte) error
	// GetSecret returns the value or a NOT_FOUND EngineError.
	GetSecret(ctx context.Context, key string) ([]byte, error)
	// DeleteSecret removes a secret; deleting an absent key is not an error.
	DeleteSecret(ctx context.Context, key string) error
	// ListSecrets returns all secret keys sorted.
	ListSecrets(ctx context.Context) ([]string, error)

	// Close releases any underlying resources.
	Close() error
}

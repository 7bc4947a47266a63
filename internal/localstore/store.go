// Package localstore is the attempt-scoped local cache: a durable
// key/value record per attempt plus a separate, shorter-lived session
// credential store. Records are merge-only; cleanup operations are safe to
// call at any time because a given attemptId has a single logical writer
// (the mounted session view) and reads are idempotent.
package localstore

import (
	"context"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Store is the Local Persistence Layer contract. GetLocal and
// GetSessionToken return zero values, not errors, when nothing is stored.
type Store interface {
	// SaveLocal shallow-merges partial into the existing record and stamps
	// LastSavedAt. Keys absent from partial are never dropped.
	SaveLocal(ctx context.Context, attemptID string, partial model.PersistedPartial) error

	// GetLocal returns the full record, or nil when absent or unparseable.
	GetLocal(ctx context.Context, attemptID string) (*model.PersistedState, error)

	// ClearLocal deletes the record and its associated credential.
	ClearLocal(ctx context.Context, attemptID string) error

	SaveSessionToken(ctx context.Context, attemptID, token string) error
	GetSessionToken(ctx context.Context, attemptID string) (string, error)

	// ClearStaleData removes records older than maxAge, counting corrupt
	// (unparseable) records as cleared too.
	ClearStaleData(ctx context.Context, maxAge time.Duration) (int, error)

	// ValidateAndCleanup removes every record except keepAttemptID, or all
	// of them when keepAttemptID is empty. This is how a dashboard wipes
	// abandoned sessions without ever touching an active one.
	ValidateAndCleanup(ctx context.Context, keepAttemptID string) (int, error)

	// ClearAllLocal wipes everything. Only for when no session is active.
	ClearAllLocal(ctx context.Context) error

	// ListAttemptIDs returns the ids with a stored record.
	ListAttemptIDs(ctx context.Context) ([]string, error)

	Close() error
}

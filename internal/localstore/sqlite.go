package localstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/stemsi/exstem-session/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore is the default durable backend: a single-file cache on the
// student's device. Schema is applied on open via embedded migrations.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the cache database at path and
// migrates it to the current schema.
func NewSQLiteStore(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Cache sqlite opened")

	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "localstore_sqlite").Logger(),
	}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveLocal(ctx context.Context, attemptID string, partial model.PersistedPartial) error {
	state := &model.PersistedState{}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM session_cache WHERE attempt_id = ?`, attemptID,
	).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get existing record: %w", err)
	}
	if err == nil {
		// A corrupt record is replaced rather than kept poisoned.
		_ = json.Unmarshal([]byte(raw), state)
	}

	partial.ApplyTo(state)
	state.LastSavedAt = time.Now()

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_cache (attempt_id, payload, last_saved_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (attempt_id) DO UPDATE
		 SET payload = excluded.payload, last_saved_at = excluded.last_saved_at`,
		attemptID, string(blob), state.LastSavedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLocal(ctx context.Context, attemptID string) (*model.PersistedState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM session_cache WHERE attempt_id = ?`, attemptID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	state := &model.PersistedState{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, nil
	}
	return state, nil
}

func (s *SQLiteStore) ClearLocal(ctx context.Context, attemptID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_cache WHERE attempt_id = ?`, attemptID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE attempt_id = ?`, attemptID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSessionToken(ctx context.Context, attemptID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_tokens (attempt_id, token, saved_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (attempt_id) DO UPDATE
		 SET token = excluded.token, saved_at = excluded.saved_at`,
		attemptID, token, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionToken(ctx context.Context, attemptID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM session_tokens WHERE attempt_id = ?`, attemptID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (s *SQLiteStore) ClearStaleData(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id, payload FROM session_cache`)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return 0, fmt.Errorf("scan record: %w", err)
		}
		state := &model.PersistedState{}
		if err := json.Unmarshal([]byte(raw), state); err != nil || state.LastSavedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate records: %w", err)
	}

	cleared := 0
	for _, id := range stale {
		if err := s.ClearLocal(ctx, id); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func (s *SQLiteStore) ValidateAndCleanup(ctx context.Context, keepAttemptID string) (int, error) {
	ids, err := s.ListAttemptIDs(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, id := range ids {
		if keepAttemptID != "" && id == keepAttemptID {
			continue
		}
		if err := s.ClearLocal(ctx, id); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func (s *SQLiteStore) ClearAllLocal(ctx context.Context) error {
	_, err := s.ValidateAndCleanup(ctx, "")
	return err
}

func (s *SQLiteStore) ListAttemptIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id FROM session_cache`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

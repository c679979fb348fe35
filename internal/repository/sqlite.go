package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// SQLiteStore implements Store and RoutingStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_activity_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			config TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_activity_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			type TEXT NOT NULL,
			stage TEXT,
			payload TEXT,
			ts INTEGER NOT NULL,
			PRIMARY KEY (session_id, sequence),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			input TEXT,
			provider TEXT,
			model TEXT,
			fallback INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			envelope TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS routing (
			stage TEXT PRIMARY KEY,
			primary_provider TEXT NOT NULL,
			primary_model TEXT NOT NULL,
			fallback_provider TEXT,
			fallback_model TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSession creates a session or updates its mutable fields.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	var config sql.NullString
	if len(session.Config) > 0 {
		config = sql.NullString{String: string(session.Config), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, status, created_at, last_activity_at, config) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			last_activity_at = excluded.last_activity_at,
			config = COALESCE(excluded.config, sessions.config)`,
		session.SessionID, session.Status, session.CreatedAt, session.LastActivityAt, config)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var config sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, status, created_at, last_activity_at, config FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.Status, &session.CreatedAt, &session.LastActivityAt, &config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if config.Valid {
		session.Config = json.RawMessage(config.String)
	}
	return &session, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]domain.Session, error) {
	query := `SELECT session_id, status, created_at, last_activity_at, config FROM sessions`
	args := []interface{}{}

	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}

	query += ` ORDER BY last_activity_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		var session domain.Session
		var config sql.NullString
		if err := rows.Scan(&session.SessionID, &session.Status, &session.CreatedAt, &session.LastActivityAt, &config); err != nil {
			return nil, err
		}
		if config.Valid {
			session.Config = json.RawMessage(config.String)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendEvent appends an event. The (session_id, sequence) pair is unique.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	return insertEvent(ctx, s.db, event)
}

func insertEvent(ctx context.Context, x execer, event *domain.Event) error {
	var stage, payload sql.NullString
	if event.Stage != "" {
		stage = sql.NullString{String: event.Stage, Valid: true}
	}
	if event.Payload != nil {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}
	_, err := x.ExecContext(ctx,
		`INSERT INTO events (session_id, sequence, type, stage, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID, event.Sequence, event.Type, stage, payload, event.Timestamp)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return ErrSequenceConflict
	}
	return err
}

// ListEvents returns events with sequence > since, in sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, since int64, limit int) ([]domain.Event, error) {
	query := `SELECT session_id, sequence, type, stage, payload, ts FROM events WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`
	args := []interface{}{sessionID, since}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var event domain.Event
		var stage, payload sql.NullString
		if err := rows.Scan(&event.SessionID, &event.Sequence, &event.Type, &stage, &payload, &event.Timestamp); err != nil {
			return nil, err
		}
		if stage.Valid {
			event.Stage = stage.String
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// LastSequence returns the highest persisted sequence for a session, or 0.
func (s *SQLiteStore) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// AppendStageResult records a finished run together with its stage event.
// Neither row is written unless both are.
func (s *SQLiteStore) AppendStageResult(ctx context.Context, run *domain.Run, event *domain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRun(ctx context.Context, x execer, run *domain.Run) error {
	var input, envelope sql.NullString
	if len(run.Input) > 0 {
		input = sql.NullString{String: string(run.Input), Valid: true}
	}
	if run.Envelope != nil {
		data, err := json.Marshal(run.Envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		envelope = sql.NullString{String: string(data), Valid: true}
	}
	var completedAt sql.NullTime
	if !run.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: run.CompletedAt, Valid: true}
	}
	_, err := x.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, stage, input, provider, model, fallback, started_at, completed_at, latency_ms, tokens_in, tokens_out, envelope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SessionID, run.Stage, input, run.Provider, run.Model, run.Fallback,
		run.StartedAt, completedAt, run.LatencyMs, run.TokensIn, run.TokensOut, envelope)
	return err
}

// ListRuns returns the runs of a session in start order.
func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, session_id, stage, input, provider, model, fallback, started_at, completed_at, latency_ms, tokens_in, tokens_out, envelope
		FROM runs WHERE session_id = ? ORDER BY started_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		var run domain.Run
		var input, provider, model, envelope sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&run.RunID, &run.SessionID, &run.Stage, &input, &provider, &model, &run.Fallback,
			&run.StartedAt, &completedAt, &run.LatencyMs, &run.TokensIn, &run.TokensOut, &envelope); err != nil {
			return nil, err
		}
		if input.Valid {
			run.Input = json.RawMessage(input.String)
		}
		run.Provider = provider.String
		run.Model = model.String
		if completedAt.Valid {
			run.CompletedAt = completedAt.Time
		}
		if envelope.Valid {
			var env domain.Envelope
			if err := json.Unmarshal([]byte(envelope.String), &env); err != nil {
				return nil, fmt.Errorf("failed to unmarshal envelope of run %s: %w", run.RunID, err)
			}
			run.Envelope = &env
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRouting returns the routing of a stage.
func (s *SQLiteStore) GetRouting(ctx context.Context, stage string) (*domain.Routing, error) {
	var routing domain.Routing
	var fallbackProvider, fallbackModel sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT stage, primary_provider, primary_model, fallback_provider, fallback_model, updated_at FROM routing WHERE stage = ?`,
		stage).Scan(&routing.Stage, &routing.PrimaryProvider, &routing.PrimaryModel, &fallbackProvider, &fallbackModel, &routing.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	routing.FallbackProvider = fallbackProvider.String
	routing.FallbackModel = fallbackModel.String
	return &routing, nil
}

// SetRouting creates or replaces the routing of a stage.
func (s *SQLiteStore) SetRouting(ctx context.Context, routing *domain.Routing) error {
	if routing.UpdatedAt.IsZero() {
		routing.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing (stage, primary_provider, primary_model, fallback_provider, fallback_model, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stage) DO UPDATE SET
			primary_provider = excluded.primary_provider,
			primary_model = excluded.primary_model,
			fallback_provider = excluded.fallback_provider,
			fallback_model = excluded.fallback_model,
			updated_at = excluded.updated_at`,
		routing.Stage, routing.PrimaryProvider, routing.PrimaryModel,
		nullString(routing.FallbackProvider), nullString(routing.FallbackModel), routing.UpdatedAt)
	return err
}

// ListRouting returns every routing record ordered by stage.
func (s *SQLiteStore) ListRouting(ctx context.Context) ([]domain.Routing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, primary_provider, primary_model, fallback_provider, fallback_model, updated_at FROM routing ORDER BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Routing{}
	for rows.Next() {
		var routing domain.Routing
		var fallbackProvider, fallbackModel sql.NullString
		if err := rows.Scan(&routing.Stage, &routing.PrimaryProvider, &routing.PrimaryModel, &fallbackProvider, &fallbackModel, &routing.UpdatedAt); err != nil {
			return nil, err
		}
		routing.FallbackProvider = fallbackProvider.String
		routing.FallbackModel = fallbackModel.String
		out = append(out, routing)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

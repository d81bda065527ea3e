package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ctf-platform/ctf/internal/model"
)

// TerminalSessionRepository provides data access for terminal session history.
type TerminalSessionRepository struct {
	db *sql.DB
}

// NewTerminalSessionRepository creates a new TerminalSessionRepository.
func NewTerminalSessionRepository(db *sql.DB) *TerminalSessionRepository {
	return &TerminalSessionRepository{db: db}
}

// Create inserts a new terminal session record.
func (r *TerminalSessionRepository) Create(ctx context.Context, s *model.TerminalSession) error {
	query := `
		INSERT INTO terminal_sessions (id, instance_id, state, bytes_in, bytes_out, recording_path, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.InstanceID,
		s.State,
		s.BytesIn,
		s.BytesOut,
		nullString(s.RecordingPath),
		s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create terminal session: %w", err)
	}

	return nil
}

// UpdateState records a state transition of a live session.
func (r *TerminalSessionRepository) UpdateState(ctx context.Context, id, state string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE terminal_sessions SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("failed to update terminal session state: %w", err)
	}
	return requireRow(result)
}

// Finish marks the session ended and stores its final traffic counters.
func (r *TerminalSessionRepository) Finish(ctx context.Context, id, state string, bytesIn, bytesOut int64, endedAt time.Time) error {
	query := `
		UPDATE terminal_sessions
		SET state = ?, bytes_in = ?, bytes_out = ?, ended_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, state, bytesIn, bytesOut, endedAt, id)
	if err != nil {
		return fmt.Errorf("failed to finish terminal session: %w", err)
	}
	return requireRow(result)
}

// SaveTail stores the last output the user saw in the session.
func (r *TerminalSessionRepository) SaveTail(ctx context.Context, id string, tail []byte) error {
	result, err := r.db.ExecContext(ctx, `UPDATE terminal_sessions SET tail = ? WHERE id = ?`, tail, id)
	if err != nil {
		return fmt.Errorf("failed to save terminal session tail: %w", err)
	}
	return requireRow(result)
}

// Tail returns the stored output tail of a session, nil when none was saved.
func (r *TerminalSessionRepository) Tail(ctx context.Context, id string) ([]byte, error) {
	var tail []byte
	err := r.db.QueryRowContext(ctx, `SELECT tail FROM terminal_sessions WHERE id = ?`, id).Scan(&tail)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal session tail: %w", err)
	}
	return tail, nil
}

// GetByPrefix resolves a full or shortened session ID. A prefix matching
// more than one session is an error.
func (r *TerminalSessionRepository) GetByPrefix(ctx context.Context, prefix string) (*model.TerminalSession, error) {
	if prefix == "" {
		return nil, model.ErrNotFound
	}

	query := `
		SELECT id, instance_id, state, bytes_in, bytes_out, recording_path, started_at, ended_at
		FROM terminal_sessions
		WHERE substr(id, 1, ?) = ?
		LIMIT 2
	`
	rows, err := r.db.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find terminal session: %w", err)
	}
	defer rows.Close()

	var found []*model.TerminalSession
	for rows.Next() {
		s, err := scanTerminalSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terminal session: %w", err)
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating terminal sessions: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, model.ErrNotFound
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("session id %q is ambiguous", prefix)
}

// GetByID retrieves a terminal session by its ID.
func (r *TerminalSessionRepository) GetByID(ctx context.Context, id string) (*model.TerminalSession, error) {
	query := `
		SELECT id, instance_id, state, bytes_in, bytes_out, recording_path, started_at, ended_at
		FROM terminal_sessions
		WHERE id = ?
	`

	s, err := scanTerminalSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal session: %w", err)
	}
	return s, nil
}

// List returns the most recent sessions first. A non-positive limit returns all.
func (r *TerminalSessionRepository) List(ctx context.Context, limit int) ([]*model.TerminalSession, error) {
	query := `
		SELECT id, instance_id, state, bytes_in, bytes_out, recording_path, started_at, ended_at
		FROM terminal_sessions
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.TerminalSession
	for rows.Next() {
		s, err := scanTerminalSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terminal session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating terminal sessions: %w", err)
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTerminalSession(row rowScanner) (*model.TerminalSession, error) {
	s := &model.TerminalSession{}
	var recordingPath sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.InstanceID,
		&s.State,
		&s.BytesIn,
		&s.BytesOut,
		&recordingPath,
		&s.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if recordingPath.Valid {
		s.RecordingPath = recordingPath.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}

	return s, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

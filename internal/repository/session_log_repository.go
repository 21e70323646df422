package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"

	"pomodoro/timerd/internal/model"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// SessionLogRepository is the append-only log of completed focus sessions.
type SessionLogRepository struct {
	db *sql.DB
}

func NewSessionLogRepository(db *sql.DB) *SessionLogRepository {
	return &SessionLogRepository{db: db}
}

// Append stores a completed session, assigning a ULID when ID is empty.
// A session whose ID is already stored is ignored.
func (r *SessionLogRepository) Append(ctx context.Context, session model.CompletedSession) error {
	if session.ID == "" {
		session.ID = ulid.Make().String()
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO completed_sessions (
			id, installation_id, kind, started_at, duration_seconds, completed_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		session.ID,
		session.InstallationID,
		session.Kind,
		formatTime(session.StartTimestamp),
		session.DurationSeconds,
		formatTime(session.CompletedAtTimestamp),
	)
	if err != nil {
		return fmt.Errorf("append completed session: %w", err)
	}
	return nil
}

// List returns the newest sessions of an installation first.
func (r *SessionLogRepository) List(ctx context.Context, installationID string, limit int) ([]model.CompletedSession, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}

	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, installation_id, kind, started_at, duration_seconds, completed_at
		 FROM completed_sessions
		 WHERE installation_id = ?
		 ORDER BY completed_at DESC, id DESC
		 LIMIT ?`,
		installationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.CompletedSession, 0, limit)
	for rows.Next() {
		session, scanErr := scanCompletedSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed sessions: %w", err)
	}

	return sessions, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCompletedSession(s scanner) (*model.CompletedSession, error) {
	session := model.CompletedSession{}
	var startedAt string
	var completedAt string
	err := s.Scan(
		&session.ID,
		&session.InstallationID,
		&session.Kind,
		&startedAt,
		&session.DurationSeconds,
		&completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan completed session: %w", err)
	}

	parsedStartedAt, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session started_at: %w", err)
	}
	session.StartTimestamp = parsedStartedAt

	parsedCompletedAt, err := parseTime(completedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session completed_at: %w", err)
	}
	session.CompletedAtTimestamp = parsedCompletedAt

	return &session, nil
}

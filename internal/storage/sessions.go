package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xixas/interview-app-sub000/internal/sentinel"
)

// ErrSessionNotFound is returned when a session id does not exist.
const ErrSessionNotFound = sentinel.Error("session not found")

// Session is one practice run.
type Session struct {
	ID          string
	Mode        string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Answer is one recorded response within a session.
type Answer struct {
	ID         string
	SessionID  string
	QuestionID int64
	Response   string
	Score      *float64
	CreatedAt  time.Time
}

// BeginSession creates a new session in the given runtime mode and returns
// it with a generated id.
func (s *Store) BeginSession(ctx context.Context, mode string) (Session, error) {
	session := Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, mode, started_at) VALUES (?, ?, ?)`,
			session.ID, session.Mode, session.StartedAt)
		return nil, execErr
	})
	if err != nil {
		return Session{}, fmt.Errorf("begin session: %w", err)
	}
	return session, nil
}

// CompleteSession stamps a session as finished.
func (s *Store) CompleteSession(ctx context.Context, id string) error {
	_, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE sessions SET completed_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
		if execErr != nil {
			return nil, execErr
		}
		affected, execErr := res.RowsAffected()
		if execErr != nil {
			return nil, execErr
		}
		if affected == 0 {
			return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	value, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, mode, started_at, completed_at FROM sessions WHERE id = ?`, id)
		var session Session
		var completed sql.NullTime
		if scanErr := row.Scan(&session.ID, &session.Mode, &session.StartedAt, &completed); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
			}
			return nil, scanErr
		}
		if completed.Valid {
			session.CompletedAt = &completed.Time
		}
		return session, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return value.(Session), nil
}

// SaveAnswer records one response. A zero Answer.ID gets a generated id;
// the returned Answer carries it.
func (s *Store) SaveAnswer(ctx context.Context, answer Answer) (Answer, error) {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO answers (id, session_id, question_id, response, score, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			answer.ID, answer.SessionID, answer.QuestionID,
			answer.Response, answer.Score, answer.CreatedAt)
		return nil, execErr
	})
	if err != nil {
		return Answer{}, fmt.Errorf("save answer: %w", err)
	}
	return answer, nil
}

// SessionAnswers returns all answers of a session in recording order.
func (s *Store) SessionAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	value, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		rows, queryErr := s.db.QueryContext(ctx,
			`SELECT id, session_id, question_id, response, score, created_at
			 FROM answers WHERE session_id = ? ORDER BY created_at, id`, sessionID)
		if queryErr != nil {
			return nil, queryErr
		}
		defer rows.Close() //nolint:errcheck // rows.Err() below catches read errors

		var answers []Answer
		for rows.Next() {
			var a Answer
			var score sql.NullFloat64
			if scanErr := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID,
				&a.Response, &score, &a.CreatedAt); scanErr != nil {
				return nil, scanErr
			}
			if score.Valid {
				a.Score = &score.Float64
			}
			answers = append(answers, a)
		}
		return answers, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list session answers: %w", err)
	}
	answers, _ := value.([]Answer)
	return answers, nil
}

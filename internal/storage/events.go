package storage

import (
	"context"
	"fmt"
	"time"
)

// ServiceEvent is one persisted service state transition, kept so the UI
// can show a service's recent history across host restarts.
type ServiceEvent struct {
	Service string
	State   string
	Port    int
	PID     int
	Detail  string
	At      time.Time
}

// RecordServiceEvent appends one state transition for a service.
func (s *Store) RecordServiceEvent(ctx context.Context, ev ServiceEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	_, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO service_events (service, state, port, pid, detail, at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.Service, ev.State, ev.Port, ev.PID, ev.Detail, ev.At)
		return nil, execErr
	})
	if err != nil {
		return fmt.Errorf("record service event: %w", err)
	}
	return nil
}

// RecentServiceEvents returns up to limit events for one service, newest
// first.
func (s *Store) RecentServiceEvents(ctx context.Context, service string, limit int) ([]ServiceEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	value, err := s.exec(ctx, false, func(ctx context.Context) (any, error) {
		rows, queryErr := s.db.QueryContext(ctx,
			`SELECT service, state, port, pid, detail, at FROM service_events
			 WHERE service = ? ORDER BY at DESC, id DESC LIMIT ?`, service, limit)
		if queryErr != nil {
			return nil, queryErr
		}
		defer rows.Close() //nolint:errcheck // rows.Err() below catches read errors

		var events []ServiceEvent
		for rows.Next() {
			var ev ServiceEvent
			if scanErr := rows.Scan(&ev.Service, &ev.State, &ev.Port,
				&ev.PID, &ev.Detail, &ev.At); scanErr != nil {
				return nil, scanErr
			}
			events = append(events, ev)
		}
		return events, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list service events: %w", err)
	}
	events, _ := value.([]ServiceEvent)
	return events, nil
}

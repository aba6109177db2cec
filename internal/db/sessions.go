package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when no session has the requested id.
var ErrSessionNotFound = errors.New("calibration session not found")

// SessionRecord is the stored summary of one calibration session.
type SessionRecord struct {
	ID         string
	Channel    string
	Mode       string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	Kept       int
	RSquared   float64
	Err        string
}

// RecordSession stores a finished session together with its raw samples.
func (db *DB) RecordSession(ctx context.Context, rec SessionRecord, labels, readings []float64) error {
	if len(labels) != len(readings) {
		return fmt.Errorf("record session %s: %d labels, %d readings", rec.ID, len(labels), len(readings))
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		errText  sql.NullString
		finished sql.NullInt64
	)
	if rec.Err != "" {
		errText = sql.NullString{String: rec.Err, Valid: true}
	}
	if !rec.FinishedAt.IsZero() {
		finished = sql.NullInt64{Int64: rec.FinishedAt.UnixNano(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibration_sessions
			(session_id, channel, mode, state, started_at, finished_at, kept, r_squared, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Channel, rec.Mode, rec.State,
		rec.StartedAt.UnixNano(), finished,
		rec.Kept, rec.RSquared, errText,
	); err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calibration_samples (session_id, seq, label, reading)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range labels {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, labels[i], readings[i]); err != nil {
			return fmt.Errorf("insert sample %d of %s: %w", i, rec.ID, err)
		}
	}
	return tx.Commit()
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, channel, mode, state, started_at, finished_at, kept, r_squared, error
		FROM calibration_sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Session returns one session by id.
func (db *DB) Session(ctx context.Context, id string) (SessionRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT session_id, channel, mode, state, started_at, finished_at, kept, r_squared, error
		FROM calibration_sessions
		WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (SessionRecord, error) {
	var (
		rec        SessionRecord
		started    int64
		finished   sql.NullInt64
		rSquared   sql.NullFloat64
		errMessage sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.Channel, &rec.Mode, &rec.State,
		&started, &finished, &rec.Kept, &rSquared, &errMessage); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = time.Unix(0, started)
	if finished.Valid {
		rec.FinishedAt = time.Unix(0, finished.Int64)
	}
	rec.RSquared = rSquared.Float64
	rec.Err = errMessage.String
	return rec, nil
}

// SessionSamples returns the samples of a session in collection order.
func (db *DB) SessionSamples(ctx context.Context, id string) (labels, readings []float64, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT label, reading FROM calibration_samples
		WHERE session_id = ?
		ORDER BY seq`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var x, y float64
		if err := rows.Scan(&x, &y); err != nil {
			return nil, nil, err
		}
		labels = append(labels, x)
		readings = append(readings, y)
	}
	return labels, readings, rows.Err()
}

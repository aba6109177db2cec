package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/grasp/internal/calibration"
	"github.com/banshee-data/grasp/internal/regression"
	"github.com/banshee-data/grasp/internal/tof"
)

// CoefficientRow is one stored calibration curve.
type CoefficientRow struct {
	Channel   tof.Channel
	Mode      calibration.Mode
	Segment   int
	Coeffs    regression.Coefficients
	UpdatedAt time.Time
}

// SaveCoefficients replaces the stored table with every populated slot of
// t. Empty slots are not written, so a partial table overwrites only what
// it holds once loaded back.
func (db *DB) SaveCoefficients(ctx context.Context, t calibration.Table, at time.Time) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM coefficients`); err != nil {
		return 0, fmt.Errorf("clear coefficients: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coefficients (channel, mode, segment, coeffs, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, ch := range tof.Channels() {
		for m := calibration.Mode(0); m < calibration.NumModes; m++ {
			for seg := 0; seg < calibration.NumSegments; seg++ {
				c := t[ch][m][seg]
				if len(c) == 0 {
					continue
				}
				encoded, err := json.Marshal([]float64(c))
				if err != nil {
					return 0, fmt.Errorf("encode %s %s segment %d: %w", ch, m, seg, err)
				}
				if _, err := stmt.ExecContext(ctx, ch.String(), m.String(), seg, string(encoded), at.UnixNano()); err != nil {
					return 0, fmt.Errorf("insert %s %s segment %d: %w", ch, m, seg, err)
				}
				n++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// LoadCoefficients reads the stored curves back into a table.
func (db *DB) LoadCoefficients(ctx context.Context) (calibration.Table, error) {
	rows, err := db.CoefficientRows(ctx)
	if err != nil {
		return calibration.Table{}, err
	}
	var t calibration.Table
	for _, r := range rows {
		t[r.Channel][r.Mode][r.Segment] = r.Coeffs
	}
	return t, nil
}

// CoefficientRows lists the stored curves ordered by channel, mode and
// segment.
func (db *DB) CoefficientRows(ctx context.Context) ([]CoefficientRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT channel, mode, segment, coeffs, updated_at
		FROM coefficients
		ORDER BY channel, mode, segment`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoefficientRow
	for rows.Next() {
		var (
			channel, mode, encoded string
			segment                int
			updatedAt              int64
		)
		if err := rows.Scan(&channel, &mode, &segment, &encoded, &updatedAt); err != nil {
			return nil, err
		}
		ch, err := tof.ParseChannel(channel)
		if err != nil {
			return nil, fmt.Errorf("stored coefficients: %w", err)
		}
		m, err := calibration.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("stored coefficients: %w", err)
		}
		if segment < 0 || segment >= calibration.NumSegments {
			return nil, fmt.Errorf("stored coefficients: %s %s segment %d out of range", ch, m, segment)
		}
		var coeffs []float64
		if err := json.Unmarshal([]byte(encoded), &coeffs); err != nil {
			return nil, fmt.Errorf("decode %s %s segment %d: %w", ch, m, segment, err)
		}
		out = append(out, CoefficientRow{
			Channel:   ch,
			Mode:      m,
			Segment:   segment,
			Coeffs:    coeffs,
			UpdatedAt: time.Unix(0, updatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Package ledger keeps a queryable history of scoring runs and the readings
// each run flagged.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/chargewatch/internal/store"
	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run summarizes one scoring run.
type Run struct {
	ID         string
	Input      string
	Output     string
	AppVersion string
	TotalRows  int
	Anomalies  int
	// Flags counts rows per reason; a row flagged for two reasons counts
	// in both.
	Flags      map[telemetry.Reason]int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Flagged is one anomalous reading.
type Flagged struct {
	InputRow  int
	StationID string
	SessionID string
	Timestamp string
	Reasons   telemetry.Reason
}

// Ledger stores runs in SQLite.
type Ledger struct {
	db *store.DB
}

// Open migrates the ledger schema and returns a Ledger.
func Open(ctx context.Context, db *store.DB) (*Ledger, error) {
	if err := db.Migrate(ctx, namespace, migrations()); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record saves a run and its flagged readings in one transaction. A run
// without an ID gets a new UUID. The stored ID is returned.
func (l *Ledger) Record(ctx context.Context, run Run, flagged []Flagged) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	err := l.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scoring_runs (id, input, output, app_version, total_rows, anomalies,
				model_flags, hardware_flags, physics_flags, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Input, run.Output, run.AppVersion, run.TotalRows, run.Anomalies,
			run.Flags[telemetry.ReasonModel],
			run.Flags[telemetry.ReasonHardwareFault],
			run.Flags[telemetry.ReasonPhysicsViolation],
			run.StartedAt.UTC().Format(time.RFC3339Nano),
			run.FinishedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO flagged_readings (run_id, input_row, station_id, session_id, timestamp, reasons)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare flagged insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range flagged {
			if _, err := stmt.ExecContext(ctx, run.ID, f.InputRow, f.StationID, f.SessionID, f.Timestamp, int(f.Reasons)); err != nil {
				return fmt.Errorf("insert flagged row %d: %w", f.InputRow, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

const runColumns = `id, input, output, app_version, total_rows, anomalies,
	model_flags, hardware_flags, physics_flags, started_at, finished_at`

// Run returns one run by id.
func (l *Ledger) Run(ctx context.Context, id string) (Run, error) {
	row := l.db.SQL().QueryRowContext(ctx, `SELECT `+runColumns+` FROM scoring_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.SQL().QueryContext(ctx,
		`SELECT `+runColumns+` FROM scoring_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FlaggedReadings returns the readings a run flagged, in input order.
// A non-zero reason mask keeps only readings carrying any of those reasons.
func (l *Ledger) FlaggedReadings(ctx context.Context, runID string, mask telemetry.Reason) ([]Flagged, error) {
	q := `SELECT input_row, station_id, session_id, timestamp, reasons
		FROM flagged_readings WHERE run_id = ?`
	args := []any{runID}
	if mask != 0 {
		q += ` AND (reasons & ?) != 0`
		args = append(args, int(mask))
	}
	q += ` ORDER BY input_row`

	rows, err := l.db.SQL().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list flagged readings: %w", err)
	}
	defer rows.Close()

	var out []Flagged
	for rows.Next() {
		var f Flagged
		var reasons int
		if err := rows.Scan(&f.InputRow, &f.StationID, &f.SessionID, &f.Timestamp, &reasons); err != nil {
			return nil, fmt.Errorf("scan flagged reading: %w", err)
		}
		f.Reasons = telemetry.Reason(reasons)
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r                        Run
		model, hardware, physics int
		started, finished        string
	)
	err := s.Scan(&r.ID, &r.Input, &r.Output, &r.AppVersion, &r.TotalRows, &r.Anomalies,
		&model, &hardware, &physics, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	r.Flags = map[telemetry.Reason]int{
		telemetry.ReasonModel:            model,
		telemetry.ReasonHardwareFault:    hardware,
		telemetry.ReasonPhysicsViolation: physics,
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at %q: %w", finished, err)
	}
	return r, nil
}

// ReasonLabel joins reason names for display, e.g. "model+physics_violation".
func ReasonLabel(r telemetry.Reason) string {
	return strings.Join(r.Names(), "+")
}

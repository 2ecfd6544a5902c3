package ledger

import (
	"database/sql"

	"github.com/HerbHall/chargewatch/internal/store"
)

const namespace = "ledger"

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create scoring_runs and flagged_readings tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS scoring_runs (
						id             TEXT    PRIMARY KEY,
						input          TEXT    NOT NULL,
						output         TEXT    NOT NULL DEFAULT '',
						app_version    TEXT    NOT NULL DEFAULT '',
						total_rows     INTEGER NOT NULL,
						anomalies      INTEGER NOT NULL,
						model_flags    INTEGER NOT NULL DEFAULT 0,
						hardware_flags INTEGER NOT NULL DEFAULT 0,
						physics_flags  INTEGER NOT NULL DEFAULT 0,
						started_at     TEXT    NOT NULL,
						finished_at    TEXT    NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_scoring_runs_started_at ON scoring_runs(started_at)`,
					`CREATE TABLE IF NOT EXISTS flagged_readings (
						run_id     TEXT    NOT NULL REFERENCES scoring_runs(id) ON DELETE CASCADE,
						input_row  INTEGER NOT NULL,
						station_id TEXT    NOT NULL,
						session_id TEXT    NOT NULL,
						timestamp  TEXT    NOT NULL,
						reasons    INTEGER NOT NULL,
						PRIMARY KEY (run_id, input_row)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_flagged_station ON flagged_readings(station_id, session_id)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

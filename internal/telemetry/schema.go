package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/legionctl/internal/errors"
)

// initSchema creates the decision-trace tables.
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS decisions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp INTEGER NOT NULL,
            cycle INTEGER NOT NULL,
            component TEXT NOT NULL,
            decision TEXT NOT NULL,
            inputs TEXT,
            outcome TEXT
        )
    `)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInit, err)
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS cycles (
            cycle INTEGER PRIMARY KEY,
            timestamp INTEGER NOT NULL,
            cpu_temp REAL,
            gpu_temp REAL,
            vrm_temp REAL,
            on_ac INTEGER,
            battery_pct INTEGER,
            workload TEXT,
            proposals INTEGER,
            conflicts INTEGER,
            executed INTEGER,
            rejected INTEGER,
            failed INTEGER,
            rolled_back INTEGER,
            success INTEGER,
            duration_ms INTEGER,
            skip_reason TEXT
        )
    `)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInit, err)
	}

	return nil
}

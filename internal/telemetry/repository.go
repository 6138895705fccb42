package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	StoreDecision(ctx context.Context, event *DecisionEvent) error
	StoreCycle(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) StoreDecision(ctx context.Context, event *DecisionEvent) error {
	errFactory := errors.New()
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO decisions (timestamp, cycle, component, decision, inputs, outcome)
        VALUES (?, ?, ?, ?, ?, ?)
    `,
		event.Timestamp.Unix(),
		event.Cycle,
		event.Component,
		event.Decision,
		event.Inputs,
		event.Outcome,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) StoreCycle(ctx context.Context, snapshot *CycleSnapshot) error {
	errFactory := errors.New()
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO cycles (
            cycle, timestamp, cpu_temp, gpu_temp, vrm_temp,
            on_ac, battery_pct, workload,
            proposals, conflicts, executed, rejected, failed,
            rolled_back, success, duration_ms, skip_reason
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(cycle) DO UPDATE SET
            timestamp = excluded.timestamp,
            executed = excluded.executed,
            rejected = excluded.rejected,
            failed = excluded.failed,
            rolled_back = excluded.rolled_back,
            success = excluded.success,
            duration_ms = excluded.duration_ms,
            skip_reason = excluded.skip_reason
    `,
		snapshot.Cycle,
		snapshot.Timestamp.Unix(),
		snapshot.CPUTempC,
		snapshot.GPUTempC,
		snapshot.VRMTempC,
		boolToInt(snapshot.OnAC),
		snapshot.BatteryPct,
		snapshot.Workload,
		snapshot.Proposals,
		snapshot.Conflicts,
		snapshot.Executed,
		snapshot.Rejected,
		snapshot.Failed,
		boolToInt(snapshot.RolledBack),
		boolToInt(snapshot.Success),
		snapshot.DurationMs,
		snapshot.SkipReason,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

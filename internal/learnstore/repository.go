package learnstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	mu     sync.Mutex
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Learned-state repository initialized")

	return &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

func (r *repository) Save(snapshot *Snapshot) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := r.db.Exec(upsertSnapshotSQL,
		snapshot.Kind, snapshot.Payload, createdAt.Unix()); err != nil {
		r.logger.Error().Err(err).Str("kind", snapshot.Kind).Msg("Failed to save snapshot")
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Debug().
		Str("kind", snapshot.Kind).
		Int("bytes", len(snapshot.Payload)).
		Msg("Snapshot saved")

	return nil
}

func (r *repository) Load(kind string) (*Snapshot, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		payload   []byte
		createdAt int64
	)
	err := r.db.QueryRow(selectSnapshotSQL, kind).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.New(ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return &Snapshot{
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Unix(createdAt, 0),
	}, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Learned-state repository closed gracefully")

	return nil
}

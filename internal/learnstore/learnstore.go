package learnstore

import (
	"context"

	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopStore struct{}

func NewService(cfg Config) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If persistence is disabled, return a no-op store
	if !cfg.Enabled {
		logger.Debug().Msg("Learned-state persistence disabled, using no-op store")
		return &noopStore{}, nil
	}

	repo, err := NewRepository(cfg, logger.Default())
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to create learned-state repository")
		return nil, err
	}

	logger.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("Learned-state store initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Save(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil || snapshot.Kind == "" {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Save(snapshot); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	return nil
}

func (s *service) Load(ctx context.Context, kind string) (*Snapshot, error) {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return nil, errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.Load(kind)
	}
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

// No-op implementation
func (*noopStore) Save(_ context.Context, _ *Snapshot) error { return nil }

func (*noopStore) Load(_ context.Context, _ string) (*Snapshot, error) {
	return nil, errors.New().New(ErrSnapshotNotFound)
}

func (*noopStore) Close() error { return nil }

package telemetry

import (
	"context"

	"codeberg.org/mutker/legionctl/internal/errors"
	"codeberg.org/mutker/legionctl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation used when tracing is disabled.
type noopTracer struct{}

func NewService(cfg Config) (Tracer, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Decision tracing disabled, using no-op tracer")
		return &noopTracer{}, nil
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err // Already wrapped with appropriate error
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) TraceDecision(ctx context.Context, event *DecisionEvent) error {
	errFactory := errors.New()

	if event == nil {
		return errFactory.New(ErrInvalidEvent)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.StoreDecision(ctx, event); err != nil {
			return errFactory.Wrap(ErrTraceFailed, err)
		}
	}

	return nil
}

func (s *service) RecordCycle(ctx context.Context, snapshot *CycleSnapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidEvent)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.StoreCycle(ctx, snapshot); err != nil {
			return errFactory.Wrap(ErrTraceFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (*noopTracer) TraceDecision(_ context.Context, _ *DecisionEvent) error { return nil }
func (*noopTracer) RecordCycle(_ context.Context, _ *CycleSnapshot) error   { return nil }
func (*noopTracer) Close() error                                            { return nil }

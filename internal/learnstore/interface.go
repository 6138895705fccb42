package learnstore

import (
	"context"
	"time"
)

// Snapshot is one persisted blob of learned state. Kind identifies the
// owner ("gpu_preferences", "forecast_errors"); Payload is owner-encoded
// JSON. Only the newest snapshot per kind is kept.
type Snapshot struct {
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}

// Store persists learned state across restarts.
type Store interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context, kind string) (*Snapshot, error)
	Close() error
}

// Repository handles the underlying snapshot storage
type Repository interface {
	Save(snapshot *Snapshot) error
	Load(kind string) (*Snapshot, error)
	Close() error
}

package learnstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/legionctl/internal/errors"
)

// SnapshotKindPreferences identifies the GPU-mode preference payload.
const SnapshotKindPreferences = "gpu_preferences"

const (
	// EWMA weight for new outcomes
	outcomeAlpha = 0.2
	// Minimum observations before a preference is reported at all
	minSamples = 3
)

type prefStat struct {
	Score   float64 `json:"score"`
	Samples int     `json:"samples"`
}

// Preferences is the learned per-workload GPU mode table. Scores are EWMA
// success rates in [0, 1]; the confidence reported to callers is the score
// of the best mode. Safe for concurrent use.
type Preferences struct {
	mu    sync.Mutex
	table map[string]map[string]*prefStat
}

func NewPreferences() *Preferences {
	return &Preferences{table: make(map[string]map[string]*prefStat)}
}

// GPUModeFor returns the best-scoring mode for a workload, or ok=false when
// nothing has been learned yet.
func (p *Preferences) GPUModeFor(workload string) (string, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	modes, ok := p.table[workload]
	if !ok {
		return "", 0, false
	}

	bestMode := ""
	bestScore := 0.0
	for mode, stat := range modes {
		if stat.Samples < minSamples {
			continue
		}
		if stat.Score > bestScore || (stat.Score == bestScore && mode < bestMode) {
			bestMode = mode
			bestScore = stat.Score
		}
	}
	if bestMode == "" {
		return "", 0, false
	}
	return bestMode, bestScore, true
}

// RecordOutcome folds one cycle result into the table. A rollback or
// rejection counts against the mode; a clean apply counts for it.
func (p *Preferences) RecordOutcome(workload, mode string, success bool) {
	if workload == "" || mode == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	modes, ok := p.table[workload]
	if !ok {
		modes = make(map[string]*prefStat)
		p.table[workload] = modes
	}
	stat, ok := modes[mode]
	if !ok {
		stat = &prefStat{}
		modes[mode] = stat
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if stat.Samples == 0 {
		stat.Score = outcome
	} else {
		stat.Score = (1-outcomeAlpha)*stat.Score + outcomeAlpha*outcome
	}
	stat.Samples++
}

// Persist writes the current table to the store.
func (p *Preferences) Persist(ctx context.Context, store Store) error {
	p.mu.Lock()
	payload, err := json.Marshal(p.table)
	p.mu.Unlock()
	if err != nil {
		return errors.New().Wrap(ErrInvalidSnapshot, err)
	}

	return store.Save(ctx, &Snapshot{
		Kind:      SnapshotKindPreferences,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// Restore replaces the table with a previously persisted snapshot. A
// missing snapshot is not an error; the table starts empty.
func (p *Preferences) Restore(ctx context.Context, store Store) error {
	snapshot, err := store.Load(ctx, SnapshotKindPreferences)
	if err != nil {
		if errors.HasCode(err, ErrSnapshotNotFound) {
			return nil
		}
		return err
	}

	table := make(map[string]map[string]*prefStat)
	if err := json.Unmarshal(snapshot.Payload, &table); err != nil {
		return errors.New().Wrap(ErrInvalidSnapshot, err)
	}

	p.mu.Lock()
	p.table = table
	p.mu.Unlock()

	return nil
}

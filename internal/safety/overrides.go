package safety

import (
	"sync"
	"time"

	"codeberg.org/mutker/legionctl/internal/action"
	"codeberg.org/mutker/legionctl/internal/logger"
)

// Override marks a control surface as user-claimed. While active, every
// automated action on that surface is rejected unconditionally.
type Override struct {
	Reason string
	Since  time.Time
}

// OverrideListener is notified when an override is set or cleared so agents
// can stop proposing for the surface instead of burning proposals on
// guaranteed rejections.
type OverrideListener func(target action.Target, active bool)

// OverrideTable tracks active user overrides per control surface.
type OverrideTable struct {
	mu        sync.Mutex
	active    map[action.Target]Override
	listeners []OverrideListener
}

func NewOverrideTable() *OverrideTable {
	return &OverrideTable{active: make(map[action.Target]Override)}
}

// Set activates a user override and broadcasts it.
func (t *OverrideTable) Set(target action.Target, reason string) {
	t.mu.Lock()
	t.active[target] = Override{Reason: reason, Since: time.Now()}
	listeners := append([]OverrideListener(nil), t.listeners...)
	t.mu.Unlock()

	logger.Info().Str("target", target.String()).Str("reason", reason).Msg("User override set")

	for _, l := range listeners {
		l(target, true)
	}
}

// Clear removes an override and broadcasts the release.
func (t *OverrideTable) Clear(target action.Target) {
	t.mu.Lock()
	_, was := t.active[target]
	delete(t.active, target)
	listeners := append([]OverrideListener(nil), t.listeners...)
	t.mu.Unlock()

	if !was {
		return
	}

	logger.Info().Str("target", target.String()).Msg("User override cleared")

	for _, l := range listeners {
		l(target, false)
	}
}

// Active reports whether the surface is user-claimed.
func (t *OverrideTable) Active(target action.Target) (Override, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.active[target]
	return o, ok
}

// Subscribe registers a listener for override changes.
func (t *OverrideTable) Subscribe(l OverrideListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

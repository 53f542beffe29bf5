package backup

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"acore-backup/internal/errors"
)

// ServerLifecycleLock is held by a restore workflow for as long as it may
// stop or start game servers, so two restores never interleave those steps.
const ServerLifecycleLock = "server-lifecycle"

// LockManager enforces that at most one backup or restore touches a
// database at a time. Acquisition never waits: a held name is a conflict.
type LockManager struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLockManager creates an empty lock table
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]string)}
}

// Guard releases the names it was acquired for. Release is idempotent.
type Guard struct {
	lm    *LockManager
	names []string
	once  sync.Once
}

// Acquire takes every name or none of them. owner is recorded for the
// conflict message.
func (lm *LockManager) Acquire(owner string, names ...string) (*Guard, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var busy []string
	for _, name := range names {
		if holder, ok := lm.held[name]; ok {
			busy = append(busy, fmt.Sprintf("%s (held by %s)", name, holder))
		}
	}
	if len(busy) > 0 {
		return nil, errors.NewConflictError(
			fmt.Sprintf("operation already in progress: %s", strings.Join(busy, ", "))).
			WithContext("busy", busy)
	}

	for _, name := range names {
		lm.held[name] = owner
	}
	return &Guard{lm: lm, names: slices.Clone(names)}, nil
}

// IsHeld reports whether a name is currently locked
func (lm *LockManager) IsHeld(name string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.held[name]
	return ok
}

// Held returns the locked names and their owners
func (lm *LockManager) Held() map[string]string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make(map[string]string, len(lm.held))
	for k, v := range lm.held {
		out[k] = v
	}
	return out
}

// Release frees the guarded names
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.lm.mu.Lock()
		defer g.lm.mu.Unlock()
		for _, name := range g.names {
			delete(g.lm.held, name)
		}
	})
}

// Names returns the guarded names
func (g *Guard) Names() []string {
	return slices.Clone(g.names)
}

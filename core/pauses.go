package core

import (
	"sync"

	"bondmarket/state"
)

// PauseRegistry tracks operator pause switches per module and persists every
// change so halts survive a restart.
type PauseRegistry struct {
	mu      sync.RWMutex
	manager *state.Manager
	paused  map[string]bool
}

// NewPauseRegistry wraps the persisted pause set loaded at startup.
func NewPauseRegistry(manager *state.Manager, paused map[string]bool) *PauseRegistry {
	if paused == nil {
		paused = make(map[string]bool)
	}
	return &PauseRegistry{manager: manager, paused: paused}
}

// IsPaused reports whether a module is halted. Implements the guard view the
// engines consult on every mutating call.
func (p *PauseRegistry) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// Set flips a module's pause switch and persists the full set.
func (p *PauseRegistry) Set(module string, paused bool) error {
	if p == nil || module == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[module] = true
	} else {
		delete(p.paused, module)
	}
	if p.manager == nil {
		return nil
	}
	return p.manager.PausesPut(p.paused)
}

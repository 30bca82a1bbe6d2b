package common

import "sync"

// StaticPauses is a concurrency-safe PauseView backed by an in-memory set.
// The daemon seeds it from configuration and operators flip modules at
// runtime through the admin surface.
type StaticPauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewStaticPauses builds a pause view with the supplied modules paused.
func NewStaticPauses(paused ...string) *StaticPauses {
	set := make(map[string]bool, len(paused))
	for _, module := range paused {
		if module != "" {
			set[module] = true
		}
	}
	return &StaticPauses{paused: set}
}

// IsPaused implements the PauseView interface.
func (p *StaticPauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// Set pauses or resumes the module.
func (p *StaticPauses) Set(module string, paused bool) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[module] = true
		return
	}
	delete(p.paused, module)
}

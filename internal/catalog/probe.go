package catalog

import (
	"os/exec"
	"sync"
	"time"
)

type probeEntry struct {
	installed bool
	checkedAt time.Time
}

// Probe answers "is this executable on PATH" with a short-TTL cache so
// repeated listings do not hammer the filesystem.
type Probe struct {
	mu       sync.Mutex
	ttl      time.Duration
	cache    map[string]probeEntry
	lookPath func(string) (string, error)
}

// NewProbe creates an install probe with the given cache TTL
func NewProbe(ttl time.Duration) *Probe {
	return &Probe{
		ttl:      ttl,
		cache:    make(map[string]probeEntry),
		lookPath: exec.LookPath,
	}
}

// Installed reports whether binary resolves on PATH. Results are cached
// lazily for the probe's TTL.
func (p *Probe) Installed(binary string) bool {
	if binary == "" {
		return false
	}

	now := time.Now()

	p.mu.Lock()
	if entry, ok := p.cache[binary]; ok && now.Sub(entry.checkedAt) < p.ttl {
		p.mu.Unlock()
		return entry.installed
	}
	p.mu.Unlock()

	_, err := p.lookPath(binary)
	installed := err == nil

	p.mu.Lock()
	p.cache[binary] = probeEntry{installed: installed, checkedAt: now}
	p.mu.Unlock()

	return installed
}

// Invalidate drops the cached result for binary, forcing a fresh lookup
func (p *Probe) Invalidate(binary string) {
	p.mu.Lock()
	delete(p.cache, binary)
	p.mu.Unlock()
}

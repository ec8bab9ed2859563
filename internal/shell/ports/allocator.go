// Package ports owns the process-wide port reservation table.
package ports

import (
	"fmt"
	"log/slog"
	"sync"

	coreports "github.com/R1ck404/mercel/internal/core/ports"
)

// Allocator hands out host ports from a bounded range. A reserved port stays
// held until Release, or until the environment bound to it is observed dead.
// All methods are safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	rng    coreports.Range
	held   map[int]bool
	owners map[int]string // port -> environment id, once bound
	logger *slog.Logger
}

// NewAllocator creates an allocator over r.
func NewAllocator(r coreports.Range, logger *slog.Logger) (*Allocator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		rng:    r,
		held:   make(map[int]bool),
		owners: make(map[int]string),
		logger: logger.With("component", "port_allocator"),
	}, nil
}

// Range returns the configured range.
func (a *Allocator) Range() coreports.Range {
	return a.rng
}

// Reserve holds and returns the lowest free port. It fails with
// domain.ErrNoCapacity when every port in the range is held.
func (a *Allocator) Reserve() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, err := coreports.Allocate(a.held, a.rng)
	if err != nil {
		a.logger.Warn("port range exhausted", "low", a.rng.Low, "high", a.rng.High)
		return 0, err
	}
	a.held[port] = true
	a.logger.Debug("port reserved", "port", port)
	return port, nil
}

// Release frees port. Releasing a free port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(port)
}

func (a *Allocator) release(port int) {
	if !a.held[port] {
		return
	}
	delete(a.held, port)
	delete(a.owners, port)
	a.logger.Debug("port released", "port", port)
}

// Bind records that environmentID now owns the reserved port.
func (a *Allocator) Bind(port int, environmentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.held[port] {
		return fmt.Errorf("bind port %d: port is not reserved", port)
	}
	a.owners[port] = environmentID
	return nil
}

// ReleaseEnvironment frees whichever port environmentID owns. It reports the
// port and whether one was freed. A port that has since been re-reserved for
// a different environment is left alone.
func (a *Allocator) ReleaseEnvironment(environmentID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port, owner := range a.owners {
		if owner == environmentID {
			a.release(port)
			return port, true
		}
	}
	return 0, false
}

// Claim marks port as held by environmentID. It is used when re-attaching to
// environments that survived a restart and reports false when the port is
// outside the range or already held.
func (a *Allocator) Claim(port int, environmentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.rng.Contains(port) || a.held[port] {
		return false
	}
	a.held[port] = true
	a.owners[port] = environmentID
	return true
}

// Held reports whether port is currently reserved.
func (a *Allocator) Held(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held[port]
}

// InUse returns the number of held ports.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}

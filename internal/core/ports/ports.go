// Package ports holds the pure port-selection rules used by the allocator.
package ports

import (
	"fmt"

	"github.com/R1ck404/mercel/internal/core/domain"
)

// Range is an inclusive band of host ports environments may bind.
type Range struct {
	Low  int
	High int
}

// DefaultRange returns the range used when none is configured.
func DefaultRange() Range {
	return Range{Low: 5000, High: 6000}
}

// Size is the number of ports in the range.
func (r Range) Size() int {
	if r.High < r.Low {
		return 0
	}
	return r.High - r.Low + 1
}

// Validate checks the range is usable as a host port band.
func (r Range) Validate() error {
	if r.Low < 1 || r.High > 65535 {
		return fmt.Errorf("port range %d-%d outside 1-65535", r.Low, r.High)
	}
	if r.High < r.Low {
		return fmt.Errorf("port range low %d is above high %d", r.Low, r.High)
	}
	return nil
}

// Contains reports whether port lies inside the range.
func (r Range) Contains(port int) bool {
	return port >= r.Low && port <= r.High
}

// Allocate returns the lowest port in r that is not held.
func Allocate(held map[int]bool, r Range) (int, error) {
	for port := r.Low; port <= r.High; port++ {
		if !held[port] {
			return port, nil
		}
	}
	return 0, domain.ErrNoCapacity
}

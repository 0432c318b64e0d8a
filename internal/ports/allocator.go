// Package ports hands out exclusive TCP ports for preview servers.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPortUnavailable means the configured range has no free port left.
	ErrPortUnavailable = errors.New("no port available in configured range")
	// ErrPortOutOfRange means a requested port lies outside the configured range.
	ErrPortOutOfRange = errors.New("port outside configured range")
)

// Allocator tracks port reservations in a fixed [base, max] range.
// All operations serialize on one mutex so two concurrent Acquire calls
// can never hand out the same port.
type Allocator struct {
	mu   sync.Mutex
	held map[int]bool

	base int
	max  int
}

// NewAllocator creates an Allocator for the inclusive range [base, max].
func NewAllocator(base, max int) *Allocator {
	return &Allocator{
		held: make(map[int]bool),
		base: base,
		max:  max,
	}
}

// Reserve marks a port as held without scanning. Used to seed the table
// from persisted non-terminal servers on startup.
func (a *Allocator) Reserve(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held[port] = true
}

// Acquire reserves and returns a free port. If preferred is non-zero and
// free it is returned; a held preferred port falls back to the scan, and a
// preferred port outside [base, max] is rejected outright.
func (a *Allocator) Acquire(preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if preferred != 0 {
		if preferred < a.base || preferred > a.max {
			return 0, fmt.Errorf("%w: %d not in %d-%d", ErrPortOutOfRange, preferred, a.base, a.max)
		}
		if !a.held[preferred] {
			a.held[preferred] = true
			return preferred, nil
		}
	}

	for port := a.base; port <= a.max; port++ {
		if !a.held[port] {
			a.held[port] = true
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w (%d-%d)", ErrPortUnavailable, a.base, a.max)
}

// Release frees a port for reuse. Releasing an unheld port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.held, port)
}

// Held reports whether a port is currently reserved.
func (a *Allocator) Held(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held[port]
}

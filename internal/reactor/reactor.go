// Package reactor wraps the OS readiness primitive (epoll on Linux) behind
// a small interface, and maintains the fd -> handler registry the event
// loop dispatches against. Grounded on the pack's direct golang.org/x/sys/unix
// usage for non-blocking fd management (no example repo implements a
// userspace reactor end to end; this follows the same one-to-one syscall
// wrapping style as the unix-specific files throughout the pack).
package reactor

import "time"

// Interest is a bitmask of the readiness a registration cares about.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Readiness is the bitmask of events the reactor observed for an fd.
type Readiness uint8

const (
	Read Readiness = 1 << iota
	Write
	Error
	Timeout
)

func (r Readiness) Has(bit Readiness) bool { return r&bit != 0 }

// Event pairs an fd with the readiness bits observed for it in one
// reactor cycle.
type Event struct {
	Fd        int
	Readiness Readiness
}

// MaxWait bounds a single call to Wait so that deadline scans in the event
// loop stay prompt even with no I/O activity (§4.1).
const MaxWait = 15 * time.Second

// Reactor is the minimal readiness-primitive contract the event loop needs.
// epoll_linux.go provides the Linux implementation.
type Reactor interface {
	Add(fd int, interest Interest) error
	Modify(fd int, interest Interest) error
	Remove(fd int) error
	// Wait blocks for up to timeout for readiness, returning the events
	// observed. A timeout with no events returns an empty, non-nil slice.
	Wait(timeout time.Duration) ([]Event, error)
	Close() error
}

// Package co provides the parallel-task-scheduling primitives spec §5 asks
// for: broadcast wakeups, tracked goroutine groups, and bounded fan-out,
// modelled directly on the teacher's own `co` package.
package co

import "sync"

// Waiter is returned by Signal.NewWaiter and resolves once the next
// Broadcast happens.
type Waiter struct {
	c <-chan struct{}
}

// C returns the channel that closes on broadcast.
func (w Waiter) C() <-chan struct{} {
	return w.c
}

// Signal is a broadcast wakeup: every Waiter created before a Broadcast
// observes it exactly once.
type Signal struct {
	lock sync.Mutex
	ch   chan struct{}
}

// NewWaiter returns a Waiter that fires on the next Broadcast call.
func (s *Signal) NewWaiter() Waiter {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return Waiter{s.ch}
}

// Broadcast wakes all current waiters.
func (s *Signal) Broadcast() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

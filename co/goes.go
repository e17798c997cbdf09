package co

import "sync"

// Goes tracks a group of goroutines, the way sync.WaitGroup does, but also
// exposes a Done() channel so callers can select on group completion
// alongside other events (cancellation, timers) without blocking.
type Goes struct {
	wg   sync.WaitGroup
	once sync.Once
	done chan struct{}
}

// Go starts f in a new goroutine tracked by this group.
func (g *Goes) Go(f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
}

// Wait blocks until every goroutine started via Go has returned.
func (g *Goes) Wait() {
	g.wg.Wait()
}

// Done returns a channel that closes once every tracked goroutine has
// returned. Safe to call before, during, or after Wait.
func (g *Goes) Done() <-chan struct{} {
	g.once.Do(func() {
		g.done = make(chan struct{})
		go func() {
			g.wg.Wait()
			close(g.done)
		}()
	})
	return g.done
}

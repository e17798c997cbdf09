package co

import "runtime"

// Parallel runs the functions enqueued by feed on a worker pool sized to
// GOMAXPROCS and returns a channel that closes once all enqueued functions
// have completed. feed is called with a queue the caller pushes work onto;
// feed must close over nothing that escapes the queue and must return once
// it is done enqueueing (the queue is closed automatically afterwards).
func Parallel(feed func(queue chan<- func())) <-chan struct{} {
	queue := make(chan func())
	done := make(chan struct{})

	var g Goes
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		g.Go(func() {
			for fn := range queue {
				fn()
			}
		})
	}

	go func() {
		feed(queue)
		close(queue)
	}()

	go func() {
		g.Wait()
		close(done)
	}()

	return done
}

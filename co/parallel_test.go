package co

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallel(t *testing.T) {
	n := 50
	var count int64
	<-Parallel(func(queue chan<- func()) {
		for i := 0; i < n; i++ {
			queue <- func() { atomic.AddInt64(&count, 1) }
		}
	})
	assert.Equal(t, int64(n), atomic.LoadInt64(&count))
}

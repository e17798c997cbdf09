package co

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalBroadcastBefore(t *testing.T) {
	var sig Signal
	sig.Broadcast()

	var ws []Waiter
	for i := 0; i < 10; i++ {
		ws = append(ws, sig.NewWaiter())
	}

	var n int
	for _, w := range ws {
		select {
		case <-w.C():
		default:
			n++
		}
	}
	assert.Equal(t, 10, n)
}

func TestSignalBroadcastAfterWait(t *testing.T) {
	var sig Signal

	var ws []Waiter
	for i := 0; i < 10; i++ {
		ws = append(ws, sig.NewWaiter())
	}

	sig.Broadcast()

	for _, w := range ws {
		<-w.C()
	}
}

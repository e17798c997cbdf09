package p2p_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sorchaledger/sorcha/p2p"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConnectAndSend(t *testing.T) {
	var mu sync.Mutex
	var received []string

	pool := p2p.NewPool(p2p.Options{
		HeartbeatInterval:        50 * time.Millisecond,
		MaxMissedHeartbeats:      5,
		ConnectionTimeout:        time.Second,
		CircuitBreakerThreshold:  5,
		CircuitBreakerResetAfter: time.Minute,
		Dial: func(ctx context.Context, addr string) (net.Conn, error) {
			client, server := net.Pipe()
			go func() {
				for {
					e, err := p2p.ReadEnvelope(server)
					if err != nil {
						return
					}
					if e.Kind == p2p.KindTransactionNotify {
						mu.Lock()
						received = append(received, string(e.Payload))
						mu.Unlock()
					}
				}
			}()
			return client, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Connect(ctx, p2p.PeerAddr{PeerID: "peer-1", Addr: "ignored"})

	require.Eventually(t, func() bool {
		return pool.Status("peer-1") == p2p.StatusConnected
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, pool.Send(ctx, "peer-1", &p2p.Envelope{Kind: p2p.KindTransactionNotify, Payload: []byte("tx-1")}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "tx-1"
	}, time.Second, 10*time.Millisecond)
}

func TestPoolSendToUnknownPeer(t *testing.T) {
	pool := p2p.NewPool(p2p.Options{HeartbeatInterval: time.Second, ConnectionTimeout: time.Second})
	err := pool.Send(context.Background(), "nobody", &p2p.Envelope{Kind: p2p.KindHeartbeat})
	assert.ErrorIs(t, err, p2p.ErrUnknownPeer)
}

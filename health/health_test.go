package health_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/health"
	"github.com/sorchaledger/sorcha/peerstore"
)

func TestStatusReportsIsolationBelowMinPeerCount(t *testing.T) {
	peers := peerstore.NewStore(10, time.Hour, nil)
	c := health.New(peers, nil, nil, 2, "")

	r := c.Status()
	require.True(t, r.IsIsolated)
	require.False(t, r.Healthy)
	require.Equal(t, 0, r.PeerCount)
}

func TestStatusHealthyOnceMinPeerCountMet(t *testing.T) {
	peers := peerstore.NewStore(10, time.Hour, nil)
	peers.AddOrUpdate(peerstore.Peer{PeerID: "a", LastSeen: time.Now()})
	peers.AddOrUpdate(peerstore.Peer{PeerID: "b", LastSeen: time.Now()})

	c := health.New(peers, nil, nil, 2, "")
	r := c.Status()
	require.False(t, r.IsIsolated)
	require.True(t, r.Healthy)
	require.Equal(t, 2, r.PeerCount)
}

func TestStatusDefaultsMinPeerCountWhenNonPositive(t *testing.T) {
	peers := peerstore.NewStore(10, time.Hour, nil)
	peers.AddOrUpdate(peerstore.Peer{PeerID: "a", LastSeen: time.Now()})

	c := health.New(peers, nil, nil, 0, "")
	r := c.Status()
	require.False(t, r.IsIsolated)
}

func TestStatusOmitsClockSkewWhenNoNTPServerConfigured(t *testing.T) {
	peers := peerstore.NewStore(10, time.Hour, nil)
	peers.AddOrUpdate(peerstore.Peer{PeerID: "a", LastSeen: time.Now()})

	c := health.New(peers, nil, nil, 1, "")
	r := c.Status()
	require.False(t, r.ClockSkewChecked)
	require.True(t, r.Healthy)
}

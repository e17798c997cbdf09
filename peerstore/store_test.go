package peerstore_test

import (
	"testing"
	"time"

	"github.com/sorchaledger/sorcha/peerstore"
	"github.com/stretchr/testify/assert"
)

func TestCapacityRejectsNewAcceptsUpdates(t *testing.T) {
	s := peerstore.NewStore(2, time.Hour, nil)

	assert.Equal(t, peerstore.Added, s.AddOrUpdate(peerstore.Peer{PeerID: "a", LastSeen: time.Now()}))
	assert.Equal(t, peerstore.Added, s.AddOrUpdate(peerstore.Peer{PeerID: "b", LastSeen: time.Now()}))
	assert.Equal(t, peerstore.Rejected, s.AddOrUpdate(peerstore.Peer{PeerID: "c", LastSeen: time.Now()}))

	// update of an existing peer always succeeds even at capacity
	assert.Equal(t, peerstore.Updated, s.AddOrUpdate(peerstore.Peer{PeerID: "a", LastSeen: time.Now(), FailureCount: 1}))
	assert.Equal(t, 2, s.Len())
}

func TestSeedsNeverEvicted(t *testing.T) {
	s := peerstore.NewStore(10, time.Hour, nil)
	s.AddOrUpdate(peerstore.Peer{PeerID: "seed", IsSeed: true, LastSeen: time.Now()})

	for i := 0; i < 20; i++ {
		s.IncrementFailures("seed")
	}
	assert.NotNil(t, s.Get("seed"))
}

func TestNonSeedEvictedAboveFiveFailures(t *testing.T) {
	s := peerstore.NewStore(10, time.Hour, nil)
	s.AddOrUpdate(peerstore.Peer{PeerID: "p", LastSeen: time.Now()})

	for i := 0; i < 6; i++ {
		s.IncrementFailures("p")
	}
	assert.Nil(t, s.Get("p"))
}

func TestUpdateLastSeenResetsFailures(t *testing.T) {
	s := peerstore.NewStore(10, time.Hour, nil)
	s.AddOrUpdate(peerstore.Peer{PeerID: "p", LastSeen: time.Now()})
	s.IncrementFailures("p")
	s.IncrementFailures("p")
	s.UpdateLastSeen("p")
	assert.Equal(t, 0, s.Get("p").FailureCount)
}

func TestGetHealthyRespectsFreshnessWindow(t *testing.T) {
	s := peerstore.NewStore(10, time.Minute, nil)
	s.AddOrUpdate(peerstore.Peer{PeerID: "fresh", LastSeen: time.Now()})
	s.AddOrUpdate(peerstore.Peer{PeerID: "stale", LastSeen: time.Now().Add(-time.Hour)})

	healthy := s.GetHealthy()
	assert.Len(t, healthy, 1)
	assert.Equal(t, "fresh", healthy[0].PeerID)
}

func TestPeersAdvertisingOrdering(t *testing.T) {
	s := peerstore.NewStore(10, time.Hour, nil)
	now := time.Now()
	s.AddOrUpdate(peerstore.Peer{
		PeerID: "a", LastSeen: now.Add(-time.Minute), FailureCount: 1,
		AdvertisedRegisters: []peerstore.AdvertisedRegister{{RegisterID: "r1"}},
	})
	s.AddOrUpdate(peerstore.Peer{
		PeerID: "b", LastSeen: now, FailureCount: 0,
		AdvertisedRegisters: []peerstore.AdvertisedRegister{{RegisterID: "r1"}},
	})

	out := s.PeersAdvertising("r1")
	assert.Len(t, out, 2)
	assert.Equal(t, "b", out[0].PeerID) // lower failure count first
}

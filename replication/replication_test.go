package replication_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sorchaledger/sorcha/kv"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/peerstore"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/replication"
	"github.com/sorchaledger/sorcha/thor"
	"github.com/stretchr/testify/require"
)

var errTransportDown = errors.New("transport down")

type recordingTransport struct {
	mu        sync.Mutex
	sent      []string // peer ids sent to
	failPeers map[string]bool
}

func (r *recordingTransport) Broadcast(ctx context.Context, peerIDs []string, e *p2p.Envelope) {
	for _, id := range peerIDs {
		r.Send(ctx, id, e)
	}
}

func (r *recordingTransport) Send(ctx context.Context, peerID string, e *p2p.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPeers[peerID] {
		return errTransportDown
	}
	r.sent = append(r.sent, peerID)
	return nil
}

func newPopulatedRegister(t *testing.T) (*register.Store, thor.RegisterID) {
	t.Helper()
	backing := kv.NewMemStore()
	store := register.NewStore(backing, func(ns string) kv.Store { return backing.NewNamespace(ns) })
	var id thor.RegisterID
	id[0] = 7
	_, err := store.Create(id, "reg-7", "tenant-1", false)
	require.NoError(t, err)
	d := &register.Docket{DocketID: thor.SHA256([]byte("genesis")), RegisterID: id, DocketVersion: 0}
	require.NoError(t, store.AppendDocket(id, d))
	return store, id
}

func TestNotifyCommitGossipsToHealthyPeers(t *testing.T) {
	store, registerID := newPopulatedRegister(t)
	peers := peerstore.NewStore(10, time.Hour, nil)
	peers.AddOrUpdate(peerstore.Peer{PeerID: "p1", LastSeen: time.Now().UTC()})
	peers.AddOrUpdate(peerstore.Peer{PeerID: "p2", LastSeen: time.Now().UTC()})

	transport := &recordingTransport{}
	eng := replication.New(transport, store, peers, time.Hour, 3, 3)

	d, err := store.GetDocketByVersion(registerID, 0)
	require.NoError(t, err)
	eng.NotifyCommit(context.Background(), registerID, d)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.NotEmpty(t, transport.sent)
}

func TestSyncCheckpointPushesMissingDockets(t *testing.T) {
	store, registerID := newPopulatedRegister(t)
	peers := peerstore.NewStore(10, time.Hour, nil)
	transport := &recordingTransport{}
	eng := replication.New(transport, store, peers, time.Hour, 3, 3)

	require.NoError(t, eng.SyncCheckpoint(context.Background(), "lagging-peer", registerID, 0))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Contains(t, transport.sent, "lagging-peer")
}

func TestOfflineQueueCapturesFailedDelivery(t *testing.T) {
	store, registerID := newPopulatedRegister(t)
	peers := peerstore.NewStore(10, time.Hour, nil)
	transport := &recordingTransport{failPeers: map[string]bool{"offline-peer": true}}
	eng := replication.New(transport, store, peers, time.Hour, 3, 3)

	require.NoError(t, eng.SyncCheckpoint(context.Background(), "offline-peer", registerID, 0))
	require.Equal(t, 1, eng.QueueDepth())
}

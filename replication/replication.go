// Package replication implements the Replication Engine (spec §4.6):
// gossip notification of newly committed dockets, checkpoint sync that
// pushes local dockets to a named peer (SyncCheckpoint), and a bounded
// offline durability queue, retried periodically, for peers that are
// briefly unreachable. Nothing runs checkpoint sync on a timer.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/peerstore"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/subscription"
	"github.com/sorchaledger/sorcha/thor"
)

var logger = log.New("pkg", "replication")

// DefaultOfflineQueueCapacity is the bound on the durability queue before
// it starts dropping the oldest entry (spec §4.6: "default 10,000,
// drop-oldest once full").
const DefaultOfflineQueueCapacity = 10000

// Transport is the subset of the Connection Pool replication needs.
type Transport interface {
	Broadcast(ctx context.Context, peerIDs []string, e *p2p.Envelope)
	Send(ctx context.Context, peerID string, e *p2p.Envelope) error
}

// RegisterStore is the subset of register.Store replication reads.
type RegisterStore interface {
	Get(id thor.RegisterID) (*register.Register, error)
	GetDocketByVersion(id thor.RegisterID, version uint64) (*register.Docket, error)
	GetTransactionsSince(id thor.RegisterID, fromVersion uint64) ([]*register.Transaction, error)
}

type dedupKey struct {
	registerID thor.RegisterID
	docketID   thor.Bytes32
}

type gossipNotice struct {
	RegisterID    thor.RegisterID
	DocketVersion uint64
	DocketID      thor.Bytes32
	Round         int
}

// offlineEntry is one queued delivery awaiting a peer's return (spec
// §4.6).
type offlineEntry struct {
	peerID     string
	registerID thor.RegisterID
	docket     *register.Docket
	txs        []*register.Transaction
}

// Engine is the Replication Engine (spec §4.6).
type Engine struct {
	transport Transport
	store     RegisterStore
	peers     *peerstore.Store

	checkpointInterval time.Duration
	offlineCapacity    int
	fanout             int
	gossipRounds       int

	dedupMu sync.Mutex
	dedup   map[dedupKey]struct{}

	queueMu sync.Mutex
	queue   []offlineEntry
}

// defaultFanout and defaultGossipRounds back New when fanout or rounds is
// passed as 0, matching config.Default's own fanout_factor/gossip_rounds
// (spec §4.6/§6: "fanout 3, rounds capped at 3").
const (
	defaultFanout       = 3
	defaultGossipRounds = 3
)

// New creates a Replication Engine. fanout and gossipRounds come from
// config.Config.FanoutFactor/GossipRounds; a value of 0 falls back to the
// spec default rather than disabling gossip outright.
func New(transport Transport, store RegisterStore, peers *peerstore.Store, checkpointInterval time.Duration, fanout, gossipRounds int) *Engine {
	if fanout <= 0 {
		fanout = defaultFanout
	}
	if gossipRounds <= 0 {
		gossipRounds = defaultGossipRounds
	}
	e := &Engine{
		transport:          transport,
		store:              store,
		peers:              peers,
		checkpointInterval: checkpointInterval,
		offlineCapacity:    DefaultOfflineQueueCapacity,
		fanout:             fanout,
		gossipRounds:       gossipRounds,
		dedup:              make(map[dedupKey]struct{}),
	}
	return e
}

// NotifyCommit broadcasts a gossip notice for a newly committed docket to
// up to e.fanout randomly chosen healthy peers (spec §4.6: "on every
// docket commit, the engine gossips a lightweight notice").
func (e *Engine) NotifyCommit(ctx context.Context, registerID thor.RegisterID, d *register.Docket) {
	e.gossip(ctx, gossipNotice{RegisterID: registerID, DocketVersion: d.DocketVersion, DocketID: d.DocketID, Round: 0})
}

func (e *Engine) gossip(ctx context.Context, n gossipNotice) {
	k := dedupKey{registerID: n.RegisterID, docketID: n.DocketID}
	e.dedupMu.Lock()
	if _, seen := e.dedup[k]; seen {
		e.dedupMu.Unlock()
		return
	}
	e.dedup[k] = struct{}{}
	e.dedupMu.Unlock()

	if n.Round >= e.gossipRounds {
		return
	}

	targets := e.peers.GetRandom(e.fanout)
	peerIDs := make([]string, 0, len(targets))
	for _, p := range targets {
		peerIDs = append(peerIDs, p.PeerID)
	}
	if len(peerIDs) == 0 {
		return
	}

	body, err := encodeGossipNotice(n)
	if err != nil {
		logger.Error("replication: encode gossip notice failed", "err", err)
		return
	}
	e.transport.Broadcast(ctx, peerIDs, &p2p.Envelope{Kind: p2p.KindTransactionNotify, Payload: body})
}

// OnGossipNotice is called when a KindTransactionNotify (repurposed here
// as the docket-commit gossip notice, spec §4.6's own wire kind) arrives
// from a peer; it re-gossips one round further and, if the local register
// is behind, triggers a checkpoint sync against the sender.
func (e *Engine) OnGossipNotice(ctx context.Context, peerID string, payload []byte) {
	n, err := decodeGossipNotice(payload)
	if err != nil {
		logger.Warn("replication: decode gossip notice failed", "peer_id", peerID, "err", err)
		return
	}

	r, err := e.store.Get(n.RegisterID)
	if err == nil && r.Height <= n.DocketVersion {
		e.pushFromCheckpoint(ctx, peerID, n.RegisterID, r.Height)
	}

	n.Round++
	e.gossip(ctx, n)
}

// SyncCheckpoint pushes every docket/transaction the local register has
// beyond fromVersion to peerID (spec §4.6: "checkpoint sync brings a
// lagging FullyReplicated peer current").
func (e *Engine) SyncCheckpoint(ctx context.Context, peerID string, registerID thor.RegisterID, fromVersion uint64) error {
	return e.pushFromCheckpoint(ctx, peerID, registerID, fromVersion)
}

func (e *Engine) pushFromCheckpoint(ctx context.Context, peerID string, registerID thor.RegisterID, fromVersion uint64) error {
	r, err := e.store.Get(registerID)
	if err != nil {
		return err
	}
	for v := fromVersion; v < r.Height; v++ {
		d, err := e.store.GetDocketByVersion(registerID, v)
		if err != nil {
			return err
		}
		txs, err := e.store.GetTransactionsSince(registerID, v)
		if err != nil {
			return err
		}
		if len(txs) > len(d.TxIDs) {
			txs = txs[:len(d.TxIDs)]
		}
		e.push(ctx, peerID, registerID, d, txs)
	}
	return nil
}

func (e *Engine) push(ctx context.Context, peerID string, registerID thor.RegisterID, d *register.Docket, txs []*register.Transaction) {
	body, err := subscriptionEncode(d, txs)
	if err != nil {
		logger.Error("replication: encode docket push failed", "err", err)
		return
	}
	if err := e.transport.Send(ctx, peerID, &p2p.Envelope{Kind: p2p.KindDocketData, Payload: body}); err != nil {
		logger.Warn("replication: delivery failed, queuing for offline retry", "peer_id", peerID, "register_id", registerID.String(), "err", err)
		e.enqueueOffline(offlineEntry{peerID: peerID, registerID: registerID, docket: d, txs: txs})
	}
}

// enqueueOffline appends to the durability queue, dropping the oldest
// entry once at capacity (spec §4.6).
func (e *Engine) enqueueOffline(entry offlineEntry) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) >= e.offlineCapacity {
		e.queue = e.queue[1:]
		logger.Warn("replication: offline durability queue at capacity, dropped oldest entry")
	}
	e.queue = append(e.queue, entry)
}

// RunCheckpointSweep retries the offline queue every checkpoint interval
// until ctx is cancelled. It does not itself sync any register against
// its FullyReplicated peers; checkpoint pushes happen only through
// SyncCheckpoint.
func (e *Engine) RunCheckpointSweep(ctx context.Context) {
	ticker := time.NewTicker(e.checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainOfflineQueue(ctx)
		}
	}
}

func (e *Engine) drainOfflineQueue(ctx context.Context) {
	e.queueMu.Lock()
	pending := e.queue
	e.queue = nil
	e.queueMu.Unlock()

	var retry []offlineEntry
	for _, entry := range pending {
		body, err := subscriptionEncode(entry.docket, entry.txs)
		if err != nil {
			continue
		}
		if err := e.transport.Send(ctx, entry.peerID, &p2p.Envelope{Kind: p2p.KindDocketData, Payload: body}); err != nil {
			retry = append(retry, entry)
		}
	}
	if len(retry) > 0 {
		e.queueMu.Lock()
		e.queue = append(retry, e.queue...)
		e.queueMu.Unlock()
	}
}

// QueueDepth reports the current offline durability queue length, for
// metrics (spec §6: "queue depths").
func (e *Engine) QueueDepth() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

func subscriptionEncode(d *register.Docket, txs []*register.Transaction) ([]byte, error) {
	return subscription.EncodeDocketPush(d, txs)
}

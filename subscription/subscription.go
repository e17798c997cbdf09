// Package subscription implements the Subscription Manager (spec §4.5):
// one actor per (register_id, peer_id) pair that drives that pairing
// through its mode's path (ForwardOnly: Subscribing -> Active; FullReplica:
// Subscribing -> Syncing -> FullyReplicated), reports progress, and
// latches into Error after repeated failures.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sorchaledger/sorcha/co"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

var logger = log.New("pkg", "subscription")

// State is a single subscription's lifecycle state (spec §3, §4.5).
type State string

const (
	StateSubscribing    State = "Subscribing"
	StateSyncing        State = "Syncing"
	StateFullyReplicated State = "FullyReplicated"
	StateActive         State = "Active"
	StateError          State = "Error"
)

// MaxConsecutiveFailures latches a subscription into Error (spec §4.5:
// "after 10 consecutive failures the subscription latches into Error and
// stops retrying until externally reset").
const MaxConsecutiveFailures = 10

// Mode is how a subscription catches a peer up (spec §3, §4.5). ForwardOnly
// subscribes for new dockets as they commit with no historical replay;
// FullReplica walks the peer's full backlog before following live.
type Mode string

const (
	ModeForwardOnly Mode = "ForwardOnly"
	ModeFullReplica Mode = "FullReplica"
)

// Progress is a read-only snapshot of a subscription's state, reported to
// callers (e.g. an API surface outside this module's scope) (spec §4.5).
type Progress struct {
	RegisterID          thor.RegisterID
	PeerID              string
	Mode                Mode
	State               State
	LatestDocketVersion uint64
	TotalDocketsInChain uint64
	UpdatedAt           time.Time
	ConsecutiveFailures int
	LastError           string
}

// ProgressPercent implements spec §4.5's progress formula: a ForwardOnly
// subscription reports 100 once Active, 0 otherwise (there is no backlog
// to measure); a FullReplica subscription reports
// min(100, 100*last_synced_docket_version/total_dockets_in_chain).
func (p Progress) ProgressPercent() int {
	if p.Mode == ModeForwardOnly {
		if p.State == StateActive {
			return 100
		}
		return 0
	}
	if p.TotalDocketsInChain == 0 {
		return 100
	}
	pct := int(100 * p.LatestDocketVersion / p.TotalDocketsInChain)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Transport is the subset of the Connection Pool a subscription needs.
type Transport interface {
	Send(ctx context.Context, peerID string, e *p2p.Envelope) error
	RegisterStreamHandler(kind p2p.Kind, h p2p.Handler)
}

// RegisterStore is the subset of register.Store a subscription writes
// through during catch-up (spec §4.5, §4.8).
type RegisterStore interface {
	AppendDocket(id thor.RegisterID, d *register.Docket) error
	PutTransaction(id thor.RegisterID, tx *register.Transaction) error
	Get(id thor.RegisterID) (*register.Register, error)
}

// subscription is the single-consumer actor for one (register, peer)
// pairing (spec §5: "per-subscription single-consumer queue").
type subscription struct {
	registerID thor.RegisterID
	peerID     string
	mode       Mode

	mu       sync.Mutex
	state    State
	latest   uint64
	fails    int
	lastErr  string
	updated  time.Time

	inbox chan *p2p.Envelope
}

// Manager owns every (register_id, peer_id) subscription (spec §4.5).
type Manager struct {
	transport Transport
	store     RegisterStore

	mu   sync.RWMutex
	subs map[string]*subscription

	goes co.Goes
}

func key(registerID thor.RegisterID, peerID string) string {
	return registerID.String() + "|" + peerID
}

// NewManager creates a Subscription Manager bound to transport and store.
func NewManager(transport Transport, store RegisterStore) *Manager {
	m := &Manager{
		transport: transport,
		store:     store,
		subs:      make(map[string]*subscription),
	}
	transport.RegisterStreamHandler(p2p.KindDocketData, m.handleDocketData)
	transport.RegisterStreamHandler(p2p.KindSubscribeAck, m.handleSubscribeAck)
	return m
}

// Subscribe starts (or returns the existing) subscription for
// (registerID, peerID) in mode, transitioning it through the sync pipeline
// in a dedicated goroutine (spec §3, §4.5).
func (m *Manager) Subscribe(ctx context.Context, registerID thor.RegisterID, peerID string, fromVersion uint64, mode Mode) {
	k := key(registerID, peerID)

	m.mu.Lock()
	if _, ok := m.subs[k]; ok {
		m.mu.Unlock()
		return
	}
	sub := &subscription{
		registerID: registerID,
		peerID:     peerID,
		mode:       mode,
		state:      StateSubscribing,
		latest:     fromVersion,
		updated:    time.Now().UTC(),
		inbox:      make(chan *p2p.Envelope, 64),
	}
	m.subs[k] = sub
	m.mu.Unlock()

	m.goes.Go(func() {
		m.run(ctx, sub)
	})
}

// run drives one subscription's actor loop until ctx is cancelled; while
// the subscription is latched in Error it ignores incoming envelopes until
// Reset (spec §5: one owning task per subscription). ForwardOnly has no backlog to replay, so it goes
// Subscribing -> Active directly; FullReplica walks Syncing ->
// FullyReplicated via applyDocket (spec §3, §4.5).
func (m *Manager) run(ctx context.Context, sub *subscription) {
	if err := m.sendSubscribeRequest(ctx, sub); err != nil {
		m.recordFailure(sub, err)
		return
	}
	if sub.mode == ModeForwardOnly {
		m.setState(sub, StateActive)
	} else {
		m.setState(sub, StateSyncing)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.inbox:
			if !ok {
				return
			}
			m.handleEnvelope(ctx, sub, e)
		}
	}
}

func (m *Manager) sendSubscribeRequest(ctx context.Context, sub *subscription) error {
	body := []byte(sub.registerID.String())
	return m.transport.Send(ctx, sub.peerID, &p2p.Envelope{Kind: p2p.KindSubscribeRequest, Payload: body})
}

func (m *Manager) handleEnvelope(ctx context.Context, sub *subscription, e *p2p.Envelope) {
	sub.mu.Lock()
	latched := sub.state == StateError
	sub.mu.Unlock()
	if latched {
		return
	}
	switch e.Kind {
	case p2p.KindDocketData:
		m.applyDocket(sub, e)
	case p2p.KindSubscribeAck:
		if sub.mode != ModeForwardOnly {
			m.setState(sub, StateSyncing)
		}
	}
}

// applyDocket decodes a peer-pushed docket and appends it through the
// Register Store, advancing this subscription's progress (spec §4.5,
// §4.6).
func (m *Manager) applyDocket(sub *subscription, e *p2p.Envelope) {
	d, txs, err := decodeDocketPush(e.Payload)
	if err != nil {
		m.recordFailure(sub, err)
		return
	}
	for _, tx := range txs {
		if err := m.store.PutTransaction(sub.registerID, tx); err != nil {
			m.recordFailure(sub, err)
			return
		}
	}
	if err := m.store.AppendDocket(sub.registerID, d); err != nil {
		m.recordFailure(sub, err)
		return
	}

	sub.mu.Lock()
	sub.latest = d.DocketVersion
	sub.fails = 0
	sub.lastErr = ""
	sub.updated = time.Now().UTC()
	sub.mu.Unlock()

	r, err := m.store.Get(sub.registerID)
	if err == nil && sub.latest+1 >= r.Height {
		m.setState(sub, StateFullyReplicated)
	}
}

// recordFailure bumps the failure counter and latches the subscription
// into Error once MaxConsecutiveFailures is reached (spec §4.5).
func (m *Manager) recordFailure(sub *subscription, err error) {
	sub.mu.Lock()
	sub.fails++
	sub.lastErr = err.Error()
	sub.updated = time.Now().UTC()
	latched := sub.fails >= MaxConsecutiveFailures
	if latched {
		sub.state = StateError
	}
	sub.mu.Unlock()

	if latched {
		logger.Warn("subscription: latched into error after repeated failures",
			"register_id", sub.registerID.String(), "peer_id", sub.peerID, "err", err)
	} else {
		logger.Warn("subscription: sync step failed, will retry", "register_id", sub.registerID.String(), "peer_id", sub.peerID, "err", err)
	}
}

func (m *Manager) setState(sub *subscription, st State) {
	sub.mu.Lock()
	sub.state = st
	sub.updated = time.Now().UTC()
	sub.mu.Unlock()
}

func (m *Manager) handleDocketData(peerID string, e *p2p.Envelope) {
	m.dispatch(peerID, e)
}

func (m *Manager) handleSubscribeAck(peerID string, e *p2p.Envelope) {
	m.dispatch(peerID, e)
}

func (m *Manager) dispatch(peerID string, e *p2p.Envelope) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if sub.peerID != peerID {
			continue
		}
		select {
		case sub.inbox <- e:
		default:
			logger.Warn("subscription: inbox full, dropping message", "peer_id", peerID)
		}
	}
}

// Reset clears a latched Error subscription back to Subscribing, allowing
// Subscribe's caller to retry it (spec §4.5: "stops retrying until
// externally reset").
func (m *Manager) Reset(registerID thor.RegisterID, peerID string) {
	m.mu.RLock()
	sub, ok := m.subs[key(registerID, peerID)]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.state = StateSubscribing
	sub.fails = 0
	sub.lastErr = ""
	sub.updated = time.Now().UTC()
	sub.mu.Unlock()
}

// Progress returns the current snapshot for one subscription, or false if
// it does not exist.
func (m *Manager) Progress(registerID thor.RegisterID, peerID string) (Progress, bool) {
	m.mu.RLock()
	sub, ok := m.subs[key(registerID, peerID)]
	m.mu.RUnlock()
	if !ok {
		return Progress{}, false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return Progress{
		RegisterID:          sub.registerID,
		PeerID:              sub.peerID,
		Mode:                sub.mode,
		State:               sub.state,
		LatestDocketVersion: sub.latest,
		TotalDocketsInChain: m.totalDockets(sub.registerID),
		UpdatedAt:           sub.updated,
		ConsecutiveFailures: sub.fails,
		LastError:           sub.lastErr,
	}, true
}

// totalDockets returns registerID's current height, the denominator
// ProgressPercent divides by. Returns 0 (treated by ProgressPercent as
// "nothing to measure against") if the register lookup fails.
func (m *Manager) totalDockets(registerID thor.RegisterID) uint64 {
	r, err := m.store.Get(registerID)
	if err != nil {
		return 0
	}
	return r.Height
}

// All returns a Progress snapshot for every tracked subscription.
func (m *Manager) All() []Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Progress, 0, len(m.subs))
	for _, sub := range m.subs {
		sub.mu.Lock()
		out = append(out, Progress{
			RegisterID:          sub.registerID,
			PeerID:              sub.peerID,
			Mode:                sub.mode,
			State:               sub.state,
			LatestDocketVersion: sub.latest,
			TotalDocketsInChain: m.totalDockets(sub.registerID),
			UpdatedAt:           sub.updated,
			ConsecutiveFailures: sub.fails,
			LastError:           sub.lastErr,
		})
		sub.mu.Unlock()
	}
	return out
}

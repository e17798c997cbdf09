package p2p

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// ErrUnknownPeer is returned by Send/Disconnect for a peer_id the pool has
// no session for.
var ErrUnknownPeer = errors.New("p2p: unknown peer")

// PeerAddr identifies where to dial a peer.
type PeerAddr struct {
	PeerID string
	Addr   string // host:port
}

// Pool is the Connection Pool (spec §4.3): one session per peer_id,
// pub-sub dispatch by message kind, heartbeat/reconnect/circuit-breaker
// per session, and node-wide isolation reporting.
type Pool struct {
	opts sessionOptions
	dial Dialer

	mu       sync.RWMutex
	sessions map[string]*session
	cancels  map[string]context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[Kind][]Handler

	lastConnected atomic64 // unix nanos of most recent Connected observation
}

// atomic64 avoids importing sync/atomic's typed wrappers in two places;
// kept tiny and file-local.
type atomic64 struct {
	mu sync.Mutex
	v  int64
}

func (a *atomic64) Store(v int64) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomic64) Load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// Options configures heartbeat cadence, timeouts, and breaker tuning
// (spec §4.3 and the §6 configuration table).
type Options struct {
	HeartbeatInterval        time.Duration
	MaxMissedHeartbeats      int
	ConnectionTimeout        time.Duration
	CircuitBreakerThreshold  int
	CircuitBreakerResetAfter time.Duration
	EnableCompression        bool   // snappy-compress envelope bodies on the wire
	Dial                     Dialer // nil uses net.Dialer
}

// NewPool creates a Connection Pool with the given options.
func NewPool(opts Options) *Pool {
	dial := opts.Dial
	if dial == nil {
		dial = defaultDialer
	}
	return &Pool{
		opts: sessionOptions{
			HeartbeatInterval:    opts.HeartbeatInterval,
			MaxMissedHeartbeats:  opts.MaxMissedHeartbeats,
			ConnectionTimeout:    opts.ConnectionTimeout,
			CircuitBreakerThresh: opts.CircuitBreakerThreshold,
			CircuitBreakerReset:  opts.CircuitBreakerResetAfter,
			EnableCompression:    opts.EnableCompression,
		},
		dial:     dial,
		sessions: make(map[string]*session),
		cancels:  make(map[string]context.CancelFunc),
		handlers: make(map[Kind][]Handler),
	}
}

func defaultDialer(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// RegisterStreamHandler registers handler to be invoked for every envelope
// of the given kind received on any session (spec §4.3).
func (p *Pool) RegisterStreamHandler(kind Kind, handler Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[kind] = append(p.handlers[kind], handler)
}

func (p *Pool) dispatch(kind Kind, peerID string, e *Envelope) {
	if kind == KindHeartbeat {
		return
	}
	p.handlersMu.RLock()
	hs := append([]Handler{}, p.handlers[kind]...)
	p.handlersMu.RUnlock()
	for _, h := range hs {
		h(peerID, e)
	}
}

// Connect establishes (or returns the existing) session for peer,
// idempotent per peer_id (spec §4.3).
func (p *Pool) Connect(ctx context.Context, peer PeerAddr) {
	p.mu.Lock()
	if _, ok := p.sessions[peer.PeerID]; ok {
		p.mu.Unlock()
		return
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := newSession(peer.PeerID, peer.Addr, p.dial, p.opts, p.dispatch)
	p.sessions[peer.PeerID] = sess
	p.cancels[peer.PeerID] = cancel
	p.mu.Unlock()

	go func() {
		sess.run(sessCtx)
	}()
	go p.watchStatus(sessCtx, sess)
}

func (p *Pool) watchStatus(ctx context.Context, sess *session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.getStatus() == StatusConnected {
				p.lastConnected.Store(time.Now().UnixNano())
			}
		}
	}
}

// Send delivers message to the named peer's session queue (best-effort,
// spec §4.3).
func (p *Pool) Send(ctx context.Context, peerID string, e *Envelope) error {
	p.mu.RLock()
	sess, ok := p.sessions[peerID]
	p.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	return sess.send(ctx, e)
}

// Broadcast sends message to every named peer, logging (not failing) on
// unknown peers.
func (p *Pool) Broadcast(ctx context.Context, peerIDs []string, e *Envelope) {
	for _, id := range peerIDs {
		if err := p.Send(ctx, id, e); err != nil {
			log.Warn("p2p: broadcast to peer failed", "peer_id", id, "err", err)
		}
	}
}

// Disconnect tears down the session for peerID, if any.
func (p *Pool) Disconnect(peerID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[peerID]
	if ok {
		delete(p.sessions, peerID)
		delete(p.cancels, peerID)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Status returns the connection status of a single peer.
func (p *Pool) Status(peerID string) Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[peerID]
	if !ok {
		return StatusDisconnected
	}
	return sess.getStatus()
}

// NodeStatus returns the aggregate node-wide status: Isolated when no
// session has been Connected within the last heartbeat interval,
// Connected if at least one session currently is, else Connecting (spec
// §4.3).
func (p *Pool) NodeStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sessions {
		if s.getStatus() == StatusConnected {
			return StatusConnected
		}
	}
	last := p.lastConnected.Load()
	if last > 0 && time.Since(time.Unix(0, last)) <= p.opts.HeartbeatInterval {
		return StatusConnecting
	}
	return StatusIsolated
}

// ConnectedPeers returns the peer_ids currently in the Connected state.
func (p *Pool) ConnectedPeers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for id, s := range p.sessions {
		if s.getStatus() == StatusConnected {
			out = append(out, id)
		}
	}
	return out
}

package p2p

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// Status is a per-peer session status (spec §4.3).
type Status string

const (
	StatusDisconnected     Status = "Disconnected"
	StatusConnecting       Status = "Connecting"
	StatusConnected        Status = "Connected"
	StatusHeartbeatTimeout Status = "HeartbeatTimeout"
	StatusIsolated         Status = "Isolated"
)

// Handler processes one received envelope for a given peer.
type Handler func(peerID string, e *Envelope)

// Dialer opens the underlying transport connection to a peer address.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// sessionOptions mirrors the subset of Config a session needs.
type sessionOptions struct {
	HeartbeatInterval    time.Duration
	MaxMissedHeartbeats  int
	ConnectionTimeout    time.Duration
	CircuitBreakerThresh int
	CircuitBreakerReset  time.Duration
	EnableCompression    bool
}

// session owns exactly one net.Conn to one remote peer, per spec §5: "one
// owning task per session; send queue per session; reads delivered via a
// pub-sub dispatch keyed by message kind."
type session struct {
	peerID string
	addr   string
	dial   Dialer
	opts   sessionOptions

	mu     sync.Mutex
	conn   net.Conn
	status Status

	sendQueue chan *Envelope

	missedHeartbeats int
	consecutiveFails int
	circuitOpenUntil time.Time
	seq              uint64

	dispatch func(kind Kind, peerID string, e *Envelope)

	closed   chan struct{}
	closeMu  sync.Once
}

func newSession(peerID, addr string, dial Dialer, opts sessionOptions, dispatch func(Kind, string, *Envelope)) *session {
	return &session{
		peerID:    peerID,
		addr:      addr,
		dial:      dial,
		opts:      opts,
		status:    StatusDisconnected,
		sendQueue: make(chan *Envelope, 256),
		dispatch:  dispatch,
		closed:    make(chan struct{}),
	}
}

func (s *session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *session) getStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// circuitOpen reports whether the breaker is currently blocking reconnects.
func (s *session) circuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.circuitOpenUntil)
}

// run drives connect -> heartbeat -> reconnect for the lifetime of the
// session until ctx is cancelled. It is cancellation-safe: every
// suspension point (dial, read, send-queue receive) is a select against
// ctx.Done so cancelling never leaks the socket or a partial frame (spec
// §5).
func (s *session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		default:
		}

		if s.circuitOpen() {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := s.connectAndServe(ctx); err != nil {
			log.Warn("p2p: session ended, will retry", "peer_id", s.peerID, "err", err)
			s.recordFailure()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *session) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails++
	if s.consecutiveFails >= s.opts.CircuitBreakerThresh {
		s.circuitOpenUntil = time.Now().Add(s.opts.CircuitBreakerReset)
		log.Warn("p2p: circuit breaker opened", "peer_id", s.peerID, "reset_in", s.opts.CircuitBreakerReset)
	}
}

func (s *session) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails = 0
	s.circuitOpenUntil = time.Time{}
}

func (s *session) connectAndServe(ctx context.Context) error {
	s.setStatus(StatusConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectionTimeout)
	defer cancel()
	conn, err := s.dial(dialCtx, s.addr)
	if err != nil {
		return errors.Wrap(err, "p2p: dial failed")
	}

	s.mu.Lock()
	s.conn = conn
	s.status = StatusConnected
	s.missedHeartbeats = 0
	s.mu.Unlock()
	s.recordSuccess()
	log.Info("p2p: session connected", "peer_id", s.peerID)

	sessCtx, sessCancel := context.WithCancel(ctx)
	defer sessCancel()

	errCh := make(chan error, 2)
	go s.readLoop(sessCtx, conn, errCh)
	go s.writeLoop(sessCtx, conn, errCh)
	go s.heartbeatLoop(sessCtx, errCh)

	select {
	case err := <-errCh:
		conn.Close()
		s.setStatus(StatusDisconnected)
		return err
	case <-ctx.Done():
		conn.Close()
		return nil
	}
}

func (s *session) readLoop(ctx context.Context, conn net.Conn, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e, err := ReadEnvelope(conn)
		if err != nil {
			select {
			case errCh <- errors.Wrap(err, "p2p: read failed"):
			case <-ctx.Done():
			}
			return
		}
		if e.Kind == KindHeartbeat {
			s.mu.Lock()
			s.missedHeartbeats = 0
			s.mu.Unlock()
		}
		s.dispatch(e.Kind, s.peerID, e)
	}
}

func (s *session) writeLoop(ctx context.Context, conn net.Conn, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.sendQueue:
			if !ok {
				return
			}
			write := WriteEnvelope
			if s.opts.EnableCompression {
				write = WriteEnvelopeCompressed
			}
			if err := write(conn, e); err != nil {
				select {
				case errCh <- errors.Wrap(err, "p2p: write failed"):
				case <-ctx.Done():
				}
				return
			}
		}
	}
}

func (s *session) heartbeatLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.missedHeartbeats++
			missed := s.missedHeartbeats
			s.seq++
			seq := s.seq
			s.mu.Unlock()

			if missed > s.opts.MaxMissedHeartbeats {
				s.setStatus(StatusHeartbeatTimeout)
				select {
				case errCh <- errors.New("p2p: heartbeat timeout"):
				case <-ctx.Done():
				}
				return
			}

			hb := HeartbeatPayload{SentAt: time.Now().UnixNano(), Sequence: seq}
			body, _ := rlp.EncodeToBytes(hb)
			select {
			case s.sendQueue <- &Envelope{Kind: KindHeartbeat, Payload: body}:
			case <-ctx.Done():
				return
			default:
				// send queue full: drop this heartbeat tick rather than
				// block the loop; a missed-heartbeat count will surface
				// sustained backpressure as a timeout.
			}
		}
	}
}

// send enqueues e for delivery; best-effort, matching spec §4.3's
// "Cancellation of a send is best-effort: an in-flight message may still
// be delivered."
func (s *session) send(ctx context.Context, e *Envelope) error {
	select {
	case s.sendQueue <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) teardown() {
	s.closeMu.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.status = StatusDisconnected
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		close(s.sendQueue)
		close(s.closed)
	})
}


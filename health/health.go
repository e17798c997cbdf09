// Package health aggregates the node's own connectivity and replication
// state into a single queryable report: peer count, isolation, and each
// active subscription's catch-up lag (spec, Health reporting).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sorchaledger/sorcha/peerstore"
	"github.com/sorchaledger/sorcha/replication"
	"github.com/sorchaledger/sorcha/subscription"
)

var logger = log.New("pkg", "health")

// SubscriptionLag is one (register_id, peer_id) subscription's reported
// progress, carried through verbatim from package subscription.
type SubscriptionLag struct {
	RegisterID          string
	PeerID              string
	State               subscription.State
	LatestDocketVersion uint64
	ConsecutiveFailures int
	LastError           string
}

// Report is a point-in-time snapshot of the node's health.
type Report struct {
	Healthy               bool
	GeneratedAt           time.Time
	PeerCount             int
	IsIsolated            bool
	Subscriptions         []SubscriptionLag
	ReplicationQueueDepth int
	ClockSkew             time.Duration // 0 if no NTP server configured or last query failed
	ClockSkewChecked      bool
}

const (
	defaultMinPeerCount = 1
	defaultMaxClockSkew = 2 * time.Second
)

// Checker composes the peer list, subscription manager, and replication
// engine into a single Status() call, mirroring the teacher's
// api/admin/health package's single-purpose Health type.
type Checker struct {
	peers        *peerstore.Store
	subs         *subscription.Manager
	repl         *replication.Engine
	minPeerCount int

	ntpServer    string
	maxClockSkew time.Duration

	mu        sync.Mutex
	clockSkew time.Duration
	skewKnown bool
}

// New builds a Checker. subs and repl may be nil for a node that runs
// without replication (e.g. a seed-only node), in which case those
// sections of the report are left empty. ntpServer may be empty to skip
// clock skew monitoring entirely.
func New(peers *peerstore.Store, subs *subscription.Manager, repl *replication.Engine, minPeerCount int, ntpServer string) *Checker {
	if minPeerCount <= 0 {
		minPeerCount = defaultMinPeerCount
	}
	return &Checker{
		peers:        peers,
		subs:         subs,
		repl:         repl,
		minPeerCount: minPeerCount,
		ntpServer:    ntpServer,
		maxClockSkew: defaultMaxClockSkew,
	}
}

// RunClockSkewMonitor periodically queries ntpServer for this node's clock
// offset until ctx is cancelled. A validator whose clock has drifted past
// maxClockSkew produces commit timestamps its peers may reject, so this
// runs as a background loop rather than inline in Status.
func (c *Checker) RunClockSkewMonitor(ctx context.Context, interval time.Duration) {
	if c.ntpServer == "" {
		return
	}
	c.checkClockSkew()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkClockSkew()
		}
	}
}

func (c *Checker) checkClockSkew() {
	resp, err := ntp.Query(c.ntpServer)
	if err != nil {
		logger.Warn("health: ntp query failed", "server", c.ntpServer, "err", err)
		return
	}
	c.mu.Lock()
	c.clockSkew = resp.ClockOffset
	c.skewKnown = true
	c.mu.Unlock()
}

// Status returns the current Report. A node is Healthy when it is not
// isolated, no subscription has latched into Error, and (once a clock skew
// has been measured) its clock skew is within maxClockSkew.
func (c *Checker) Status() Report {
	now := time.Now()
	healthyPeers := c.peers.GetHealthy()

	r := Report{
		GeneratedAt: now,
		PeerCount:   len(healthyPeers),
		IsIsolated:  len(healthyPeers) < c.minPeerCount,
	}

	if c.subs != nil {
		for _, p := range c.subs.All() {
			r.Subscriptions = append(r.Subscriptions, SubscriptionLag{
				RegisterID:          p.RegisterID.String(),
				PeerID:              p.PeerID,
				State:               p.State,
				LatestDocketVersion: p.LatestDocketVersion,
				ConsecutiveFailures: p.ConsecutiveFailures,
				LastError:           p.LastError,
			})
		}
	}

	if c.repl != nil {
		r.ReplicationQueueDepth = c.repl.QueueDepth()
	}

	c.mu.Lock()
	r.ClockSkew = c.clockSkew
	r.ClockSkewChecked = c.skewKnown
	c.mu.Unlock()

	r.Healthy = !r.IsIsolated
	for _, s := range r.Subscriptions {
		if s.State == subscription.StateError {
			r.Healthy = false
			break
		}
	}
	if r.ClockSkewChecked {
		skew := r.ClockSkew
		if skew < 0 {
			skew = -skew
		}
		if skew > c.maxClockSkew {
			r.Healthy = false
		}
	}
	return r
}

package peerstore

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sorchaledger/sorcha/kv"
)

var logger = log.New("pkg", "peerstore")

// AddResult is the outcome of AddOrUpdate (spec §4.1).
type AddResult string

const (
	Added    AddResult = "added"
	Updated  AddResult = "updated"
	Rejected AddResult = "rejected"
)

// FailureEvictionThreshold is the failure_count at or above which a
// non-seed peer is evicted (spec §3: "failure_count ≥ 6 evicts
// non-seed peers"; spec §4.1 restates the boundary as "at
// failure_count > 5").
const FailureEvictionThreshold = 6

// Store is the Peer List Store (spec §4.1). Writes are serialised via an
// internal mutex; reads go lock-free against a copy-on-write snapshot
// (spec §5).
type Store struct {
	mu       sync.Mutex // serialises all mutations
	snapshot atomic.Pointer[snapshot]

	db kv.Store // optional durability; nil means memory-only

	capacity        int
	freshnessWindow time.Duration

	localMu sync.Mutex
	local   ActivePeerInfo
}

type snapshot struct {
	peers map[string]*Peer // copy-on-write; never mutated in place
}

// NewStore creates a Peer List Store capped at capacity (spec default
// 1000), using freshnessWindow for GetHealthy's last_seen check. db is
// optional — when non-nil, every mutation is written to db synchronously
// within the same call; a failed write is logged and not retried in the
// background (the peer's record is written again only on its next
// mutation).
func NewStore(capacity int, freshnessWindow time.Duration, db kv.Store) *Store {
	s := &Store{capacity: capacity, freshnessWindow: freshnessWindow, db: db}
	s.snapshot.Store(&snapshot{peers: make(map[string]*Peer)})
	if db != nil {
		s.loadFromDB()
	}
	return s
}

func (s *Store) loadFromDB() {
	it := s.db.Iterate(kv.Range{})
	defer it.Release()
	peers := make(map[string]*Peer)
	for it.Next() {
		var p Peer
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			logger.Warn("peerstore: skipping corrupt record on load", "err", err)
			continue
		}
		cp := p
		peers[p.PeerID] = &cp
	}
	s.snapshot.Store(&snapshot{peers: peers})
}

func (s *Store) persist(p *Peer) {
	if s.db == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		logger.Error("peerstore: marshal failed", "peer_id", p.PeerID, "err", err)
		return
	}
	if err := s.db.Put([]byte(p.PeerID), b); err != nil {
		// Durability is best-effort per spec §4.1; log and move on, the
		// in-memory snapshot remains authoritative for this process.
		logger.Error("peerstore: persist failed, will be retried on next mutation", "peer_id", p.PeerID, "err", err)
	}
}

func (s *Store) removeFromDB(peerID string) {
	if s.db == nil {
		return
	}
	if err := s.db.Delete([]byte(peerID)); err != nil {
		logger.Error("peerstore: delete failed", "peer_id", peerID, "err", err)
	}
}

// copyPeers returns a shallow copy-on-write clone of the current peer map.
func (s *Store) copyPeers() map[string]*Peer {
	cur := s.snapshot.Load().peers
	next := make(map[string]*Peer, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}

// AddOrUpdate adds a new peer or updates an existing one. Updates always
// succeed; new entries are rejected once the store is at capacity (spec
// §4.1).
func (s *Store) AddOrUpdate(p Peer) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := s.copyPeers()
	existing, exists := peers[p.PeerID]

	if !exists && len(peers) >= s.capacity {
		return Rejected
	}

	cp := p
	if exists {
		if cp.FirstSeen.IsZero() {
			cp.FirstSeen = existing.FirstSeen
		}
	} else if cp.FirstSeen.IsZero() {
		cp.FirstSeen = time.Now().UTC()
	}
	peers[p.PeerID] = &cp
	s.snapshot.Store(&snapshot{peers: peers})
	s.persist(&cp)

	if exists {
		return Updated
	}
	return Added
}

// Remove deletes a peer, returning whether it existed.
func (s *Store) Remove(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := s.copyPeers()
	if _, ok := peers[peerID]; !ok {
		return false
	}
	delete(peers, peerID)
	s.snapshot.Store(&snapshot{peers: peers})
	s.removeFromDB(peerID)
	return true
}

// Get returns a peer by id, or nil.
func (s *Store) Get(peerID string) *Peer {
	p, ok := s.snapshot.Load().peers[peerID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// GetAll returns every known peer.
func (s *Store) GetAll() []*Peer {
	cur := s.snapshot.Load().peers
	out := make([]*Peer, 0, len(cur))
	for _, p := range cur {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// IsHealthy reports whether p's last_seen is within the freshness window
// and its failure_count is below the eviction threshold.
func (s *Store) IsHealthy(p *Peer) bool {
	return time.Since(p.LastSeen) <= s.freshnessWindow && p.FailureCount < FailureEvictionThreshold
}

// GetHealthy returns every peer currently considered healthy.
func (s *Store) GetHealthy() []*Peer {
	var out []*Peer
	for _, p := range s.GetAll() {
		if s.IsHealthy(p) {
			out = append(out, p)
		}
	}
	return out
}

// GetRandom returns up to n distinct healthy peers chosen at random
// (spec §4.1, used by §4.4 peer exchange).
func (s *Store) GetRandom(n int) []*Peer {
	healthy := s.GetHealthy()
	rand.Shuffle(len(healthy), func(i, j int) { healthy[i], healthy[j] = healthy[j], healthy[i] })
	if n > len(healthy) {
		n = len(healthy)
	}
	return healthy[:n]
}

// UpdateLastSeen bumps last_seen to now and resets failure_count to 0.
func (s *Store) UpdateLastSeen(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := s.copyPeers()
	p, ok := peers[peerID]
	if !ok {
		return
	}
	cp := *p
	cp.LastSeen = time.Now().UTC()
	cp.FailureCount = 0
	peers[peerID] = &cp
	s.snapshot.Store(&snapshot{peers: peers})
	s.persist(&cp)
}

// IncrementFailures increments a peer's failure_count, evicting
// non-seed peers once the count exceeds 5 (spec §4.1: "at failure_count
// > 5 AND !is_seed, removes the peer"; seeds are never evicted per
// spec §3).
func (s *Store) IncrementFailures(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := s.copyPeers()
	p, ok := peers[peerID]
	if !ok {
		return
	}
	cp := *p
	cp.FailureCount++
	if cp.FailureCount > 5 && !cp.IsSeed {
		delete(peers, peerID)
		s.snapshot.Store(&snapshot{peers: peers})
		s.removeFromDB(peerID)
		logger.Info("peerstore: evicted peer after repeated failures", "peer_id", peerID, "failure_count", cp.FailureCount)
		return
	}
	peers[peerID] = &cp
	s.snapshot.Store(&snapshot{peers: peers})
	s.persist(&cp)
}

// PeersAdvertising returns peers advertising registerID, ordered by
// (failure_count ASC, last_seen DESC) (spec §4.1).
func (s *Store) PeersAdvertising(registerID string) []*Peer {
	var out []*Peer
	for _, p := range s.GetAll() {
		for _, ar := range p.AdvertisedRegisters {
			if ar.RegisterID == registerID {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureCount != out[j].FailureCount {
			return out[i].FailureCount < out[j].FailureCount
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// FullReplicaPeers returns peers advertising registerID as
// FullyReplicated, ordered by avg_latency_ms ASC (spec §4.1, §3: "Only
// FullyReplicated peers may serve full replica pulls").
func (s *Store) FullReplicaPeers(registerID string) []*Peer {
	var out []*Peer
	for _, p := range s.GetAll() {
		for _, ar := range p.AdvertisedRegisters {
			if ar.RegisterID == registerID && ar.SyncState == SyncFullyReplicated {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AvgLatencyMs < out[j].AvgLatencyMs
	})
	return out
}

// UpdateLocalPeerStatus initialises or updates this node's own
// ActivePeerInfo (spec §4.1). connectedPeerID may be empty to mean "no
// current hub".
func (s *Store) UpdateLocalPeerStatus(connectedPeerID, status string) ActivePeerInfo {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	if connectedPeerID != "" {
		s.local.ConnectedPeerID = connectedPeerID
	}
	s.local.Status = status
	s.local.LastHeartbeat = time.Now().UTC()
	return s.local
}

// LocalPeerStatus returns the current ActivePeerInfo snapshot.
func (s *Store) LocalPeerStatus() ActivePeerInfo {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	return s.local
}

// Len reports the current peer count.
func (s *Store) Len() int {
	return len(s.snapshot.Load().peers)
}

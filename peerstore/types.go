// Package peerstore implements the Peer List Store (spec §4.1): a
// bounded, health-aware set of known peers keyed by peer_id, the
// exclusive owner of Peer state (spec §3).
package peerstore

import "time"

// SyncState is an AdvertisedRegister's replication state as seen from a
// remote peer's advertisement, not to be confused with a local
// Subscription's own state machine (package subscription).
type SyncState string

const (
	SyncSubscribing    SyncState = "Subscribing"
	SyncSyncing        SyncState = "Syncing"
	SyncFullyReplicated SyncState = "FullyReplicated"
	SyncActive         SyncState = "Active"
	SyncError          SyncState = "Error"
)

// AdvertisedRegister is a register a peer claims to carry (spec §3).
type AdvertisedRegister struct {
	RegisterID               string
	SyncState                SyncState
	LatestDocketVersion      uint64
	LatestTransactionVersion uint64
	IsPublic                 bool
}

// Peer is a known remote node (spec §3).
type Peer struct {
	PeerID               string
	Address              string
	Port                 int
	Transports           []string // ordered preference
	AdvertisedRegisters  []AdvertisedRegister
	FirstSeen            time.Time
	LastSeen             time.Time
	FailureCount         int
	AvgLatencyMs         float64
	IsSeed               bool
}

// ActivePeerInfo tracks the node's own local connection status (spec §4.1
// "local status tracking").
type ActivePeerInfo struct {
	ConnectedPeerID string
	Status          string
	LastHeartbeat   time.Time
}

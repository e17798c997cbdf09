// Package discovery implements Peer Exchange / Discovery (spec §4.4):
// seed bootstrap, periodic peer-list gossip, and register
// advertisement broadcast.
package discovery

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/peerstore"
)

var logger = log.New("pkg", "discovery")

// PeerDigest is the compact peer-list representation exchanged between
// nodes (spec §4.4: "exchanges peer-list digests").
type PeerDigest struct {
	Peers []peerstore.Peer
}

// Advertisement carries the local node's public AdvertisedRegisters
// (spec §4.4).
type Advertisement struct {
	PeerID    string
	Registers []peerstore.AdvertisedRegister
}

// Transport is the subset of the Connection Pool discovery needs.
type Transport interface {
	Connect(ctx context.Context, peer p2p.PeerAddr)
	Send(ctx context.Context, peerID string, e *p2p.Envelope) error
	Broadcast(ctx context.Context, peerIDs []string, e *p2p.Envelope)
	RegisterStreamHandler(kind p2p.Kind, h p2p.Handler)
	ConnectedPeers() []string
}

// Codec serialises/deserialises PeerDigest and Advertisement payloads;
// kept pluggable so the transport-framing test doubles don't need a real
// RLP round trip.
type Codec interface {
	EncodeDigest(PeerDigest) ([]byte, error)
	DecodeDigest([]byte) (PeerDigest, error)
	EncodeAdvertisement(Advertisement) ([]byte, error)
	DecodeAdvertisement([]byte) (Advertisement, error)
}

// Discovery runs seed bootstrap and periodic peer exchange (spec §4.4).
type Discovery struct {
	store     *peerstore.Store
	transport Transport
	codec     Codec
	seeds     []p2p.PeerAddr
	selfID    string

	refreshInterval time.Duration

	advertised []peerstore.AdvertisedRegister
}

// New creates a Discovery driver.
func New(store *peerstore.Store, transport Transport, codec Codec, seeds []p2p.PeerAddr, selfID string, refreshInterval time.Duration) *Discovery {
	d := &Discovery{
		store:           store,
		transport:       transport,
		codec:           codec,
		seeds:           seeds,
		selfID:          selfID,
		refreshInterval: refreshInterval,
	}
	transport.RegisterStreamHandler(p2p.KindPeerExchangeRequest, d.handlePeerExchangeRequest)
	transport.RegisterStreamHandler(p2p.KindPeerExchangeResponse, d.handlePeerExchangeResponse)
	transport.RegisterStreamHandler(p2p.KindRegisterAdvertise, d.handleAdvertise)
	return d
}

// SetAdvertisedRegisters updates the set broadcast by BroadcastAdvertisement.
func (d *Discovery) SetAdvertisedRegisters(regs []peerstore.AdvertisedRegister) {
	d.advertised = regs
}

// BootstrapSeeds dials every configured seed first on startup; any
// successful seed connection primes the peer list (spec §4.4).
func (d *Discovery) BootstrapSeeds(ctx context.Context) {
	for _, seed := range d.seeds {
		d.store.AddOrUpdate(peerstore.Peer{PeerID: seed.PeerID, Address: seed.Addr, IsSeed: true, LastSeen: time.Now().UTC()})
		d.transport.Connect(ctx, seed)
	}
}

// OnConnected should be invoked by the caller when a new connection
// establishes; it eagerly exchanges peer lists per spec §4.4 ("Peer lists
// are also eagerly exchanged on new connection establishment").
func (d *Discovery) OnConnected(ctx context.Context, peerID string) {
	d.requestExchange(ctx, peerID)
	d.BroadcastAdvertisement(ctx, []string{peerID})
}

// Run starts the periodic gossip loop (default interval from spec §4.4:
// 15 min) until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	ticker := time.NewTicker(d.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.exchangeWithRandomPeer(ctx)
		}
	}
}

func (d *Discovery) exchangeWithRandomPeer(ctx context.Context) {
	peers := d.store.GetRandom(1)
	if len(peers) == 0 {
		logger.Warn("discovery: no healthy peer available for periodic exchange")
		return
	}
	d.requestExchange(ctx, peers[0].PeerID)
}

func (d *Discovery) requestExchange(ctx context.Context, peerID string) {
	body, err := d.codec.EncodeDigest(PeerDigest{Peers: d.localDigest()})
	if err != nil {
		logger.Error("discovery: encode digest failed", "err", err)
		return
	}
	if err := d.transport.Send(ctx, peerID, &p2p.Envelope{Kind: p2p.KindPeerExchangeRequest, Payload: body}); err != nil {
		logger.Warn("discovery: peer exchange request failed", "peer_id", peerID, "err", err)
	}
}

func (d *Discovery) localDigest() []peerstore.Peer {
	all := d.store.GetAll()
	out := make([]peerstore.Peer, len(all))
	for i, p := range all {
		out[i] = *p
	}
	return out
}

func (d *Discovery) handlePeerExchangeRequest(peerID string, e *p2p.Envelope) {
	digest, err := d.codec.DecodeDigest(e.Payload)
	if err != nil {
		logger.Warn("discovery: decode digest request failed", "peer_id", peerID, "err", err)
		return
	}
	d.mergeDigest(digest)

	body, err := d.codec.EncodeDigest(PeerDigest{Peers: d.localDigest()})
	if err != nil {
		return
	}
	if err := d.transport.Send(context.Background(), peerID, &p2p.Envelope{Kind: p2p.KindPeerExchangeResponse, Payload: body}); err != nil {
		logger.Warn("discovery: peer exchange response failed", "peer_id", peerID, "err", err)
	}
}

func (d *Discovery) handlePeerExchangeResponse(peerID string, e *p2p.Envelope) {
	digest, err := d.codec.DecodeDigest(e.Payload)
	if err != nil {
		logger.Warn("discovery: decode digest response failed", "peer_id", peerID, "err", err)
		return
	}
	d.mergeDigest(digest)
}

// mergeDigest folds a remote peer list into the local store subject to
// capacity (spec §4.4: "merges the response subject to capacity").
func (d *Discovery) mergeDigest(digest PeerDigest) {
	for _, p := range digest.Peers {
		if p.PeerID == d.selfID {
			continue
		}
		result := d.store.AddOrUpdate(p)
		if result == peerstore.Rejected {
			logger.Info("discovery: peer store at capacity, dropping remote peer", "peer_id", p.PeerID)
		}
	}
}

// BroadcastAdvertisement sends the local public AdvertisedRegisters to
// the given peers (spec §4.4: "A separate advertisement message
// broadcasts the local set of AdvertisedRegisters for public
// registers").
func (d *Discovery) BroadcastAdvertisement(ctx context.Context, peerIDs []string) {
	var public []peerstore.AdvertisedRegister
	for _, r := range d.advertised {
		if r.IsPublic {
			public = append(public, r)
		}
	}
	body, err := d.codec.EncodeAdvertisement(Advertisement{PeerID: d.selfID, Registers: public})
	if err != nil {
		logger.Error("discovery: encode advertisement failed", "err", err)
		return
	}
	d.transport.Broadcast(ctx, peerIDs, &p2p.Envelope{Kind: p2p.KindRegisterAdvertise, Payload: body})
}

func (d *Discovery) handleAdvertise(peerID string, e *p2p.Envelope) {
	adv, err := d.codec.DecodeAdvertisement(e.Payload)
	if err != nil {
		logger.Warn("discovery: decode advertisement failed", "peer_id", peerID, "err", err)
		return
	}
	p := d.store.Get(adv.PeerID)
	if p == nil {
		return
	}
	cp := *p
	cp.AdvertisedRegisters = adv.Registers
	d.store.AddOrUpdate(cp)
}

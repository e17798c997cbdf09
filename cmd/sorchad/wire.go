package main

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sorchaledger/sorcha/blueprint"
	"github.com/sorchaledger/sorcha/co"
	"github.com/sorchaledger/sorcha/config"
	"github.com/sorchaledger/sorcha/discovery"
	"github.com/sorchaledger/sorcha/eventsink"
	"github.com/sorchaledger/sorcha/health"
	"github.com/sorchaledger/sorcha/identity"
	"github.com/sorchaledger/sorcha/kv"
	"github.com/sorchaledger/sorcha/metrics"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/peerstore"
	"github.com/sorchaledger/sorcha/probe"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/remote"
	"github.com/sorchaledger/sorcha/replication"
	"github.com/sorchaledger/sorcha/subscription"
	"github.com/sorchaledger/sorcha/thor"
	"github.com/sorchaledger/sorcha/validator"
	"github.com/sorchaledger/sorcha/walletsign"
)

var logger = log.New("pkg", "sorchad")

// node owns every wired component and is the single place the
// composition root tears things down from (spec §9: "no ambient
// singletons").
type node struct {
	cfg config.Config

	db    *kv.LevelDBStore
	peers *peerstore.Store
	pool  *p2p.Pool

	registers *register.Store
	sink      *eventsink.WebSocketSink
	metrics   *metrics.Registry

	blueprints *blueprint.Cache
	identity   identity.Service
	wallet     walletsign.Client

	discover *discovery.Discovery
	subs     *subscription.Manager
	repl     *replication.Engine

	pipeline  *validator.Pipeline
	approval  *validator.ApprovalTransport
	consensus *validator.ConsensusEngine

	prober  *probe.Prober
	healthz *health.Checker

	goes co.Goes
}

// parseSeed splits "peer_id@host:port" into a p2p.PeerAddr.
func parseSeed(s string) (p2p.PeerAddr, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return p2p.PeerAddr{}, errors.Errorf("sorchad: malformed seed %q, want peer_id@host:port", s)
	}
	return p2p.PeerAddr{PeerID: parts[0], Addr: parts[1]}, nil
}

// wireNode constructs every component from cfg but starts nothing; run
// starts the background loops.
func wireNode(cfg config.Config, nodeID string, seeds []string) (*node, error) {
	db, err := kv.OpenLevelDB(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "sorchad: open data dir")
	}

	n := &node{
		cfg:     cfg,
		db:      db,
		metrics: metrics.New(),
		sink:    eventsink.NewWebSocketSink(),
	}

	n.peers = peerstore.NewStore(cfg.MaxPeers, cfg.PeerRefresh(), db.NewNamespace("peers"))

	n.pool = p2p.NewPool(p2p.Options{
		HeartbeatInterval:        cfg.Heartbeat(),
		MaxMissedHeartbeats:      cfg.MaxMissedHeartbeats,
		ConnectionTimeout:        cfg.ConnectionTimeout(),
		CircuitBreakerThreshold:  cfg.CircuitBreakerThreshold,
		CircuitBreakerResetAfter: cfg.CircuitBreakerReset(),
		EnableCompression:        cfg.EnableCompression,
	})

	n.registers = register.NewStore(db.NewNamespace("registers"), func(ns string) kv.Store {
		return db.NewNamespace("registers/" + ns)
	})

	httpTimeout := 10 * time.Second
	if cfg.IdentityServiceURL != "" {
		n.identity = remote.NewIdentityClient(cfg.IdentityServiceURL, httpTimeout)
	}
	var blueprintSource blueprint.Source
	if cfg.BlueprintServiceURL != "" {
		blueprintSource = remote.NewBlueprintClient(cfg.BlueprintServiceURL, httpTimeout)
	}
	n.blueprints = blueprint.NewCache(blueprintSource, 256)
	if cfg.WalletSignServiceURL != "" {
		n.wallet = remote.NewWalletSignClient(cfg.WalletSignServiceURL, httpTimeout)
	}

	seedAddrs := make([]p2p.PeerAddr, 0, len(seeds))
	for _, s := range seeds {
		addr, err := parseSeed(s)
		if err != nil {
			return nil, err
		}
		seedAddrs = append(seedAddrs, addr)
	}
	n.discover = discovery.New(n.peers, n.pool, discovery.JSONCodec{}, seedAddrs, nodeID, cfg.PeerRefresh())
	n.subs = subscription.NewManager(n.pool, n.registers)
	n.repl = replication.New(n.pool, n.registers, n.peers, cfg.PeriodicSyncInterval(), cfg.FanoutFactor, cfg.GossipRounds)
	n.pool.RegisterStreamHandler(p2p.KindTransactionNotify, func(peerID string, e *p2p.Envelope) {
		n.repl.OnGossipNotice(context.Background(), peerID, e.Payload)
	})

	n.pipeline = validator.New(n.registers, n.blueprints, n.identity, n.sink, n.metrics, validator.Options{
		UnverifiedPoolSoftCap:   cfg.UnverifiedPoolSoftCap,
		MaxTransactionSizeBytes: cfg.MaxTransactionSizeBytes,
		DocketBuildInterval:     cfg.DocketBuildInterval(),
		MaxDocketSize:           cfg.MaxDocketSize,
		MaxRetries:              cfg.MaxRetries,
		AutoApproveWhenEmpty:    cfg.AutoApproveWhenNoValidators,
	})
	n.pipeline.SetNotifier(n.repl)

	nodeWallet, err := thor.ParseAddress(cfg.NodeWallet)
	if err != nil && cfg.NodeWallet != "" {
		return nil, errors.Wrap(err, "sorchad: node_wallet_address")
	}

	var signFn validator.Signer
	if n.wallet != nil {
		signFn = func(ctx context.Context, message []byte) ([]byte, error) {
			sig, err := n.wallet.Sign(ctx, cfg.NodeWallet, message, false)
			if err != nil {
				return nil, err
			}
			return sig.Signature, nil
		}
	}
	n.approval = validator.NewApprovalTransport(n.pool, nodeWallet, signFn, nil)

	n.consensus = validator.NewConsensusEngine(
		func(registerID thor.RegisterID) []string {
			peers := n.peers.FullReplicaPeers(registerID.String())
			ids := make([]string, len(peers))
			for i, p := range peers {
				ids[i] = p.PeerID
			}
			return ids
		},
		n.approval.Request,
		cfg.ApprovalRoundTimeout(),
		cfg.AutoApproveWhenNoValidators,
		n.metrics.AutoApprovedDockets.Inc,
	)

	n.prober = probe.New(probe.Options{
		STUNServers:    cfg.STUNServers,
		HTTPEndpoints:  cfg.HTTPIPEndpoints,
		NATMechanism:   cfg.NATMechanism,
		ConfiguredAddr: cfg.ExternalAddr,
	})
	n.healthz = health.New(n.peers, n.subs, n.repl, cfg.MinHealthyPeers, cfg.NTPServer)

	n.metrics.MustRegister(prometheus.DefaultRegisterer)
	return n, nil
}

// run starts every background loop and blocks until ctx is cancelled.
func (n *node) run(ctx context.Context) error {
	if addr, err := n.prober.Discover(ctx); err != nil {
		logger.Warn("sorchad: external address discovery failed", "err", err)
	} else {
		logger.Info("sorchad: external address discovered", "addr", addr)
	}

	n.discover.BootstrapSeeds(ctx)

	n.goes.Go(func() { n.discover.Run(ctx) })
	n.goes.Go(func() { n.repl.RunCheckpointSweep(ctx) })
	n.goes.Go(func() { n.runHealthLoop(ctx) })
	n.goes.Go(func() { n.healthz.RunClockSkewMonitor(ctx, n.cfg.PeerRefresh()) })

	regs, err := n.registers.List()
	if err != nil {
		return errors.Wrap(err, "sorchad: list registers")
	}
	for _, r := range regs {
		registerID := r.RegisterID
		n.goes.Go(func() { n.pipeline.RunDocketBuilder(ctx, registerID, n.consensus) })
		if n.cfg.TrustedCheckpointPeerID != "" {
			n.subs.Subscribe(ctx, registerID, n.cfg.TrustedCheckpointPeerID, 0, subscription.ModeFullReplica)
		}
	}

	<-ctx.Done()
	return nil
}

// runHealthLoop periodically logs the aggregate health report so an
// operator tailing logs can see isolation and subscription lag without a
// separate query surface (spec-derived health reporting; no HTTP /healthz
// since REST is out of this repository's scope).
func (n *node) runHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PeerRefresh())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := n.healthz.Status()
			logger.Info("sorchad: health", "healthy", r.Healthy, "peer_count", r.PeerCount, "isolated", r.IsIsolated, "replication_queue_depth", r.ReplicationQueueDepth)
		}
	}
}

// close releases every resource the node opened. Safe to call once,
// after run has returned.
func (n *node) close() {
	n.goes.Wait()
	if err := n.db.Close(); err != nil {
		logger.Warn("sorchad: close data dir failed", "err", err)
	}
}

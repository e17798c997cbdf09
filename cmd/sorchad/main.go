// sorchad runs a single Sorcha node: the Validator Pipeline, Connection
// Pool, Peer List Store, Discovery, Subscription Manager, and
// Replication Engine wired together against one LevelDB data directory.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/sorchaledger/sorcha/co"
	"github.com/sorchaledger/sorcha/config"
)

var (
	version   string
	gitCommit string
)

func run(ctx *cli.Context) error {
	logHandler := log.NewGlogHandler(log.StreamHandler(os.Stderr, log.TerminalFormat(true)))
	logHandler.Verbosity(log.Lvl(ctx.Int("verbosity")))
	log.Root().SetHandler(logHandler)

	cfg := config.Default()
	if path := ctx.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return errors.Wrap(err, "-config")
		}
	}
	if v := ctx.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := ctx.String("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := ctx.String("node-wallet"); v != "" {
		cfg.NodeWallet = v
	}
	if v := ctx.String("identity-service"); v != "" {
		cfg.IdentityServiceURL = v
	}
	if v := ctx.String("blueprint-service"); v != "" {
		cfg.BlueprintServiceURL = v
	}
	if v := ctx.String("walletsign-service"); v != "" {
		cfg.WalletSignServiceURL = v
	}
	if v := ctx.String("nat"); v != "" {
		cfg.NATMechanism = v
	}
	if v := ctx.String("ntp-server"); v != "" {
		cfg.NTPServer = v
	}
	seeds := ctx.StringSlice("seed")
	if len(seeds) == 0 {
		seeds = cfg.Seeds
	}

	nodeID := ctx.String("node-id")
	if nodeID == "" {
		nodeID = uuid.New()
	}

	n, err := wireNode(cfg, nodeID, seeds)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen addr %q", cfg.ListenAddr)
	}
	router := mux.NewRouter()
	n.sink.RegisterRoutes(router)
	eventSrv := &http.Server{Handler: router, ReadHeaderTimeout: time.Second}
	n.goes.Go(func() { _ = eventSrv.Serve(listener) })
	logger.Info("event sink listening", "addr", listener.Addr().String())

	metricsAddr, stopMetrics, err := startMetricsServer(cfg.MetricsAddr)
	if err != nil {
		return err
	}
	logger.Info("metrics listening", "addr", metricsAddr)

	rootCtx, cancel := context.WithCancel(context.Background())

	var goes co.Goes
	goes.Go(func() {
		if err := n.run(rootCtx); err != nil {
			logger.Error("sorchad: node run failed", "err", err)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down, draining in-flight work", "deadline", cfg.ShutdownDrainDeadline())

	cancel()
	drained := make(chan struct{})
	go func() {
		goes.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.ShutdownDrainDeadline()):
		logger.Warn("sorchad: shutdown drain deadline exceeded, forcing exit")
	}

	_ = eventSrv.Close()
	stopMetrics()
	n.close()
	return nil
}

func main() {
	app := cli.App{
		Version: fmt.Sprintf("%s-%s", version, gitCommit),
		Name:    "sorchad",
		Usage:   "Sorcha node: peer exchange, replication, and transaction validation",
		Flags:   flags,
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"github.com/ethereum/go-ethereum/log"
	cli "gopkg.in/urfave/cli.v1"
)

var flags = []cli.Flag{
	cli.StringFlag{
		Name:  "config",
		Usage: "path to a YAML config file overlaid onto the built-in defaults",
	},
	cli.StringFlag{
		Name:  "data-dir",
		Usage: "directory for this node's LevelDB state (overrides config data_dir)",
	},
	cli.StringFlag{
		Name:  "listen-addr",
		Usage: "address the event sink HTTP server listens on (overrides config listen_addr)",
	},
	cli.StringFlag{
		Name:  "node-wallet",
		Usage: "this node's own validator wallet address (overrides config node_wallet_address)",
	},
	cli.StringFlag{
		Name:  "node-id",
		Usage: "this node's peer_id, used as the key into the peer list store",
	},
	cli.StringSliceFlag{
		Name:  "seed",
		Usage: "bootstrap peer in peer_id@host:port form, repeatable",
	},
	cli.StringFlag{
		Name:  "identity-service",
		Usage: "base URL of the tenant identity service (overrides config identity_service_url)",
	},
	cli.StringFlag{
		Name:  "blueprint-service",
		Usage: "base URL of the blueprint authoring service (overrides config blueprint_service_url)",
	},
	cli.StringFlag{
		Name:  "walletsign-service",
		Usage: "base URL of the wallet custody service (overrides config walletsign_service_url)",
	},
	cli.StringFlag{
		Name:  "nat",
		Usage: "nat port mapping mechanism (any|none|upnp|pmp|extip:<IP>) (overrides config nat_mechanism)",
	},
	cli.StringFlag{
		Name:  "ntp-server",
		Usage: "ntp server for the clock skew health check, empty to disable (overrides config ntp_server)",
	},
	cli.IntFlag{
		Name:  "verbosity",
		Value: int(log.LvlInfo),
		Usage: "log verbosity (0-9)",
	},
}

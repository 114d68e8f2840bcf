// Package main provides boltzliquid, a tool to create, watch, claim and
// refund HTLC swaps on Liquid.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli"

	"github.com/vulpemventures/boltz-core-liquid/internal/backend"
	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
	"github.com/vulpemventures/boltz-core-liquid/internal/config"
	"github.com/vulpemventures/boltz-core-liquid/internal/storage"
	"github.com/vulpemventures/boltz-core-liquid/internal/swap"
	"github.com/vulpemventures/boltz-core-liquid/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const (
	envVarDataDir = "BOLTZLIQUID_DATADIR"
	envVarNetwork = "BOLTZLIQUID_NETWORK"
)

func main() {
	app := cli.NewApp()
	app.Name = "boltzliquid"
	app.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	app.Usage = "create, watch, claim and refund Liquid HTLC swaps"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "datadir",
			Value:  config.DefaultDataDir,
			Usage:  "base directory of the config file and the swap database",
			EnvVar: envVarDataDir,
		},
		cli.StringFlag{
			Name:   "network, n",
			Value:  string(chain.Regtest),
			Usage:  "liquid, testnet or regtest",
			EnvVar: envVarNetwork,
		},
		cli.StringFlag{
			Name:  "loglevel",
			Usage: "overrides the log level of the config file",
		},
	}
	app.Commands = []cli.Command{
		scriptCommand,
		detectCommand,
		createCommand,
		registerCommand,
		listCommand,
		showCommand,
		claimCommand,
		refundCommand,
		checkCommand,
		watchCommand,
		broadcastCommand,
		fundCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[boltzliquid] %v\n", err)
		os.Exit(1)
	}
}

// environment is everything a command needs after the config was loaded.
type environment struct {
	cfg     *config.Config
	params  *chain.Params
	log     *logging.Logger
	store   *storage.Storage
	backend backend.Backend

	logFile io.Closer
}

// loadEnvironment loads the config of the selected network, sets up logging
// and opens the swap database.
func loadEnvironment(ctx *cli.Context) (*environment, error) {
	network, err := chain.ParseNetwork(ctx.GlobalString("network"))
	if err != nil {
		return nil, err
	}

	// Each network keeps its own config and database.
	dataDir := filepath.Join(ctx.GlobalString("datadir"), string(network))

	cfg, err := config.LoadConfig(dataDir, network)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level := ctx.GlobalString("loglevel"); level != "" {
		cfg.Logging.Level = level
	}

	env := &environment{cfg: cfg}

	logCfg := &logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		env.logFile = f
		logCfg.Output = f
	}
	env.log = logging.New(logCfg)
	logging.SetDefault(env.log)
	swap.SetLogger(env.log.Component("swap"))

	env.params, err = cfg.Params()
	if err != nil {
		env.close()
		return nil, err
	}

	env.store, err = storage.New(&storage.Config{DataDir: dataDir})
	if err != nil {
		env.close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	env.log.Debug("Environment loaded", "network", network, "datadir", dataDir,
		"database", env.store.Path())
	return env, nil
}

// connect creates and connects the configured backend.
func (e *environment) connect(ctx *cli.Context) error {
	b, err := backend.New(e.cfg.BackendConfig())
	if err != nil {
		return err
	}
	if err := b.Connect(commandContext(ctx)); err != nil {
		return err
	}
	e.backend = b
	e.log.Debug("Backend connected", "type", b.Type())
	return nil
}

func (e *environment) close() {
	if e.backend != nil {
		e.backend.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.logFile != nil {
		e.logFile.Close()
	}
}

// coordinator builds a Coordinator over the environment. keys and
// destination may be empty for read only commands.
func (e *environment) coordinator(keys swap.KeyFunc, destination string) *swap.Coordinator {
	return swap.NewCoordinator(&swap.CoordinatorConfig{
		Store:       e.store,
		Backend:     e.backend,
		Params:      e.params,
		Swap:        e.cfg.Swap,
		Keys:        keys,
		Destination: destination,
		Logger:      e.log.Component("coordinator"),
	})
}

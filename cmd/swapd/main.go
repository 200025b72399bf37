// Package main provides the swapd daemon - the atomic swap engine wired to
// its node, secondary-chain, storage, and peer-transport backends.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/libp2p/go-libp2p"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/mwc-swap/swapcore/internal/api"
	"github.com/mwc-swap/swapcore/internal/backend"
	"github.com/mwc-swap/swapcore/internal/config"
	"github.com/mwc-swap/swapcore/internal/store"
	"github.com/mwc-swap/swapcore/internal/transport/libp2pwire"
	"github.com/mwc-swap/swapcore/pkg/clock"
	"github.com/mwc-swap/swapcore/pkg/helpers"
	"github.com/mwc-swap/swapcore/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.swapd", "Data directory")
		configFile   = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr   = flag.String("listen", "/ip4/0.0.0.0/tcp/9657", "Listen address (multiaddr)")
		apiAddr      = flag.String("api", "127.0.0.1:8757", "JSON-RPC API address")
		nodeRPC      = flag.String("node-rpc", "http://127.0.0.1:3413/v2/foreign", "Primary node foreign API URL")
		nodeUser     = flag.String("node-user", "", "Primary node API user")
		nodePass     = flag.String("node-pass", "", "Primary node API password")
		esploraURL   = flag.String("esplora", "https://blockstream.info/api", "Secondary chain Esplora API URL")
		tickInterval = flag.Duration("tick-interval", 30*time.Second, "How often to re-evaluate every session")
		testnet      = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)
	if *testnet {
		effectiveDataDir = filepath.Join(effectiveDataDir, "testnet")
	}
	if err := os.MkdirAll(effectiveDataDir, 0700); err != nil {
		log.Fatal("Failed to create data directory", "path", effectiveDataDir, "error", err)
	}

	cfg := loadConfig(log, effectiveDataDir, *configFile)
	if *testnet {
		cfg.Network = config.Testnet
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	sessionStore, err := store.New(store.Config{DataDir: effectiveDataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer sessionStore.Close()
	log.Info("Storage initialized", "path", effectiveDataDir)

	// Keychain
	seed, err := loadOrCreateSeed(filepath.Join(effectiveDataDir, "wallet.seed"))
	if err != nil {
		log.Fatal("Failed to load wallet seed", "error", err)
	}
	chainParams := &chaincfg.MainNetParams
	if *testnet {
		chainParams = &chaincfg.TestNet3Params
	}
	keychain, err := backend.NewHDKeychain(seed, chainParams)
	if err != nil {
		log.Fatal("Failed to initialize keychain", "error", err)
	}
	log.Info("Keychain initialized")

	// Chain backends
	node := backend.NewPrimaryNode(*nodeRPC, *nodeUser, *nodePass)
	secondary := backend.NewEsploraClient(*esploraURL)
	log.Info("Chain backends initialized", "node", *nodeRPC, "esplora", *esploraURL)

	// Peer transport
	identity, err := loadOrCreateIdentity(filepath.Join(effectiveDataDir, "identity.key"))
	if err != nil {
		log.Fatal("Failed to load peer identity", "error", err)
	}
	host, err := libp2p.New(
		libp2p.Identity(identity),
		libp2p.ListenAddrStrings(*listenAddr),
	)
	if err != nil {
		log.Fatal("Failed to create libp2p host", "error", err)
	}
	defer host.Close()

	transport, err := libp2pwire.New(host)
	if err != nil {
		log.Fatal("Failed to initialize peer transport", "error", err)
	}

	// Engine + RPC
	hub := api.NewWSHub()
	go hub.Run(ctx.Done())

	engine := api.NewEngine(api.EngineConfig{
		Store:     sessionStore,
		Node:      node,
		Secondary: secondary,
		Transport: transport,
		Keychain:  keychain,
		Config:    cfg,
		Clock:     clock.New(),
		Events:    hub,
	})

	transport.SetHandler(func(ctx context.Context, peerID string, payload []byte) {
		if _, err := engine.ProcessEnvelope(ctx, peerID, payload); err != nil {
			log.Warn("Inbound envelope rejected", "peer", peerID, "error", err)
		}
	})

	loaded, err := engine.LoadPending(ctx)
	if err != nil {
		log.Warn("Failed to load pending sessions", "error", err)
	} else if loaded > 0 {
		log.Info("Pending sessions loaded", "count", loaded)
	}

	server := api.NewServer(engine, hub)
	if err := server.Start(*apiAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, host.ID().String(), *apiAddr, *listenAddr)

	// Schedule re-evaluation: every session's guards and deadlines are
	// polled here, since the FSM itself never runs background threads.
	go func() {
		ticker := time.NewTicker(*tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				engine.TickAll(ctx)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")
	cancel()

	if err := server.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

// loadConfig reads the YAML config if one exists, falling back to defaults
// for a fresh data directory.
func loadConfig(log *logging.Logger, dataDir, explicit string) *config.SwapEngineConfig {
	path := explicit
	if path == "" {
		path = filepath.Join(dataDir, "config.yaml")
	}

	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			log.Fatal("Config file not found", "path", path)
		}
		log.Info("No config file, using defaults", "path", path)
		return config.DefaultSwapEngineConfig(config.Mainnet)
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal("Failed to load config", "path", path, "error", err)
	}
	log.Info("Config loaded", "path", path)
	return cfg
}

// loadOrCreateSeed reads a hex-encoded 32-byte wallet seed, generating and
// persisting a fresh one on first run.
func loadOrCreateSeed(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return hex.DecodeString(strings.TrimSpace(string(data)))
	}

	seed, err := helpers.GenerateSecureRandom(32)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return nil, err
	}
	return seed, nil
}

// loadOrCreateIdentity reads the persisted libp2p identity key, generating
// one on first run so the peer ID is stable across restarts.
func loadOrCreateIdentity(path string) (p2pcrypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		return p2pcrypto.UnmarshalPrivateKey(data)
	}

	priv, _, err := p2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	data, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, err
	}
	return priv, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.SwapEngineConfig, peerID, apiAddr, listenAddr string) {
	networkLabel := "mainnet"
	if cfg.Network == config.Testnet {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  swapd atomic swap engine (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", peerID)
	log.Infof("  P2P:     %s", listenAddr)
	log.Infof("  API:     http://%s", apiAddr)
	log.Infof("  WS:      ws://%s/ws", apiAddr)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/boat-builder/viva/config"
	"github.com/boat-builder/viva/runner"
	"github.com/boat-builder/viva/server"
	"github.com/boat-builder/viva/store"
	"github.com/boat-builder/viva/transcribe"
)

func main() {
	// Define command line flags
	startCmd := flag.NewFlagSet("start", flag.ExitOnError)

	configPath := startCmd.String("config", config.DefaultConfigFile, "Path to the YAML config file")
	addr := startCmd.String("addr", "", "Listen address (overrides config)")
	loopURL := startCmd.String("loop", "", "Agent-run service URL (overrides config)")
	storeDriver := startCmd.String("store", "", "Store driver: sqlite or postgres (overrides config)")
	storeDSN := startCmd.String("dsn", "", "Store DSN (overrides config)")

	// Check if any command is provided
	if len(os.Args) < 2 {
		fmt.Println("Expected 'start' subcommand")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startCmd.Parse(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Expected 'start' subcommand")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		logger.Error("loading configuration failed", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *loopURL != "" {
		cfg.Loop.URL = *loopURL
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
	}
	if *storeDSN != "" {
		cfg.Store.DSN = *storeDSN
	}

	if err := config.ValidateAuth(config.Provider(cfg.Agent.Provider), config.APIKey()); err != nil {
		logger.Error("credential check failed", "provider", cfg.Agent.Provider, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		logger.Error("opening store failed", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	remote := runner.New(cfg.Loop.URL, cfg.Loop.Timeout)
	remote.SetLogger(logger)

	hub := server.NewHub(logger)
	manager := server.NewManager(remote, st, hub, cfg, logger)
	defer manager.Close()

	srv := server.New(manager, hub, logger)
	if key := config.TranscriptionKey(); key != "" {
		srv.SetTranscriber(transcribe.New(key))
	} else {
		logger.Warn("no transcription key configured, speech input disabled")
	}

	logger.Info("starting session server",
		"addr", cfg.Server.Addr,
		"loop", cfg.Loop.URL,
		"store", cfg.Store.Driver,
		"model", cfg.Agent.Model,
	)
	if err := http.ListenAndServe(cfg.Server.Addr, srv); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

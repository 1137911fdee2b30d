package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/vaultpilot/vrm/internal/config"
	"github.com/vaultpilot/vrm/internal/engine"
	"github.com/vaultpilot/vrm/internal/host"
	"github.com/vaultpilot/vrm/internal/logger"
	"github.com/vaultpilot/vrm/internal/recurring"
	"github.com/vaultpilot/vrm/internal/state"
	"github.com/vaultpilot/vrm/internal/vault"
	"github.com/vaultpilot/vrm/internal/web"
)

// main is the entry point for the VRM service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("VRM Core Logic Starting...")

	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Chain Connectivity ---
	client, err := ethclient.Dial(config.NodeRPC)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", config.NodeRPC).Msg("JSON-RPC connection error")
	}
	defer client.Close()
	log.Info().Str("endpoint", config.NodeRPC).Int64("chainId", config.ChainID).Msg("JSON-RPC connected")

	gateway, err := vault.NewEVMGateway(client)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault gateway")
	}

	executionHost, err := host.NewEVMHost(client, config.ChainID, config.ExecutorKeyHex, config.GasLimitCeiling)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize execution host")
	}
	log.Info().Str("executor", executionHost.ExecutorAddress().Hex()).Msg("Execution host ready")

	// --- 3. Engine and Scheduler Initialization ---
	registry := state.Registry{}

	eng, err := engine.New(engine.Config{
		Registry:      registry,
		Snapshots:     state.SnapshotStore{},
		Policies:      state.PolicyStore{},
		Receipts:      state.ReceiptStore{},
		VaultGateway:  gateway,
		ExecutionHost: executionHost,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rotation engine")
	}

	scheduler, err := recurring.New(recurring.Config{
		Schedules: state.ScheduleStore{},
		Accounts:  registry,
		Events:    state.ReceiptStore{},
		Host:      executionHost,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create payment scheduler")
	}

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, eng, scheduler, registry)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting VRM API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Periodic Snapshot Pass ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshotCron := cron.New()
	_, err = snapshotCron.AddFunc(config.SnapshotCron, func() {
		destinations, err := registry.ListDestinations()
		if err != nil {
			log.Error().Err(err).Msg("Snapshot pass failed to list destinations")
			return
		}
		addresses := make([]common.Address, 0, len(destinations))
		for _, destination := range destinations {
			if destination.Enabled {
				addresses = append(addresses, destination.Address)
			}
		}
		if err := eng.RecordSnapshots(ctx, addresses); err != nil {
			log.Error().Err(err).Msg("Snapshot pass failed")
			return
		}
		log.Info().Int("destinations", len(addresses)).Msg("Snapshot pass completed")
	})
	if err != nil {
		log.Fatal().Err(err).Str("cron", config.SnapshotCron).Msg("Invalid snapshot cron expression")
	}
	snapshotCron.Start()
	defer snapshotCron.Stop()
	log.Info().Str("cron", config.SnapshotCron).Msg("Snapshot scheduler started")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, stopping VRM")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

// Rampart: guarded memory and string primitives with violation telemetry.
//
// This is the main entry point for the rampart daemon, which soaks the
// guard primitives with scenario-driven workloads, records every caught
// violation in an audit store, and serves the results over Prometheus
// metrics and JSON-RPC.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fortiblox/rampart/pkg/audit"
	"github.com/fortiblox/rampart/pkg/metrics"
	"github.com/fortiblox/rampart/pkg/rpc"
	"github.com/fortiblox/rampart/pkg/runner"
	"github.com/fortiblox/rampart/pkg/scenario"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "dev"
	BuildTime = "unknown"
)

// Configuration flags
var (
	configFile       = flag.String("config", "/root/.config/rampart/config.json", "Path to JSON configuration file")
	scenarioFile     = flag.String("scenario", "", "Path to TOML scenario file (empty = built-in default)")
	writeScenario    = flag.String("write-scenario", "", "Write a starter scenario file to the given path and exit")
	writeDashboard   = flag.String("write-dashboard", "", "Write a Grafana dashboard JSON to the given path and exit")
	dataDir          = flag.String("data-dir", "", "Data directory for the audit store (empty = in-memory)")
	rpcAddr          = flag.String("rpc-addr", "", "JSON-RPC server listen address")
	enableRPC        = flag.Bool("enable-rpc", false, "Enable JSON-RPC server")
	enableMetrics    = flag.Bool("enable-metrics", false, "Enable Prometheus metrics server")
	metricsAddr      = flag.String("metrics-addr", "", "Metrics server listen address")
	importArchive    = flag.String("import-audit", "", "Import an audit archive into the store before the run")
	exportArchive    = flag.String("export-audit", "", "Export the audit store to an archive after the run")
	stopOnUnexpected = flag.Bool("stop-on-unexpected", false, "Stop on the first operation that diverges from its prediction")
	showVersion      = flag.Bool("version", false, "Print version and exit")
	showStats        = flag.Bool("stats", false, "Show statistics periodically")
)

// Config represents the JSON configuration file structure.
type Config struct {
	Scenario ScenarioConfig `json:"scenario"`
	RPC      RPCConfig      `json:"rpc"`
	Metrics  MetricsConfig  `json:"metrics"`
	Audit    AuditConfig    `json:"audit"`
	General  GeneralConfig  `json:"general"`
}

// ScenarioConfig holds workload settings.
type ScenarioConfig struct {
	Path             string `json:"path"`
	StopOnUnexpected bool   `json:"stop_on_unexpected"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	ServerEnabled bool   `json:"server_enabled"`
	ServerAddr    string `json:"server_addr"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// AuditConfig holds audit archive settings.
type AuditConfig struct {
	ImportPath string `json:"import_path"`
	ExportPath string `json:"export_path"`
}

// GeneralConfig holds general application settings.
type GeneralConfig struct {
	DataDir string `json:"data_dir"`
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		RPC: RPCConfig{
			ServerEnabled: false,
			ServerAddr:    ":8899",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// loadConfig loads configuration from the specified JSON file.
// If the file doesn't exist, it returns the default configuration.
// CLI flags override config file values when explicitly set.
func loadConfig(configPath string) (Config, error) {
	cfg := defaultConfig()

	// Try to read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults", configPath)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	log.Printf("Loaded configuration from %s", configPath)
	return cfg, nil
}

// applyConfigWithCLIOverrides applies config values and lets CLI flags override them.
// This function checks if CLI flags were explicitly set and uses those values,
// otherwise it uses values from the config file.
func applyConfigWithCLIOverrides(cfg Config) {
	// Helper to check if a flag was explicitly set on command line
	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagSet[f.Name] = true
	})

	// Scenario settings
	if !flagSet["scenario"] {
		*scenarioFile = cfg.Scenario.Path
	}
	if !flagSet["stop-on-unexpected"] {
		*stopOnUnexpected = cfg.Scenario.StopOnUnexpected
	}

	// RPC settings
	if !flagSet["enable-rpc"] {
		*enableRPC = cfg.RPC.ServerEnabled
	}
	if !flagSet["rpc-addr"] {
		*rpcAddr = cfg.RPC.ServerAddr
	}

	// Metrics settings
	if !flagSet["enable-metrics"] {
		*enableMetrics = cfg.Metrics.Enabled
	}
	if !flagSet["metrics-addr"] {
		*metricsAddr = cfg.Metrics.Addr
	}

	// Audit archive settings
	if !flagSet["import-audit"] {
		*importArchive = cfg.Audit.ImportPath
	}
	if !flagSet["export-audit"] {
		*exportArchive = cfg.Audit.ExportPath
	}

	// General settings
	if !flagSet["data-dir"] {
		*dataDir = cfg.General.DataDir
	}
}

// openStore selects the audit store backend: badger under the data
// directory when one is configured, in-memory otherwise.
func openStore() (audit.Store, error) {
	if *dataDir == "" || *dataDir == ":memory:" {
		log.Println("Using in-memory audit store")
		return audit.NewMemoryStore(), nil
	}

	path := filepath.Join(*dataDir, "audit")
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := audit.NewBadgerStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	log.Printf("Opened badger audit store at %s", path)
	return store, nil
}

// importAuditArchive loads an audit archive into the store.
func importAuditArchive(store audit.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := audit.Import(store, f)
	if err != nil {
		return err
	}

	log.Printf("Imported %d audit records from %s", n, path)
	return nil
}

// exportAuditArchive writes the store contents to an audit archive.
func exportAuditArchive(store audit.Store, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := audit.Export(store, f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Printf("Exported %d audit records to %s", n, path)
	return nil
}

// publishRunState snapshots runner progress into the RPC handlers.
func publishRunState(h *rpc.Handlers, run *runner.Runner, scn *scenario.Scenario) {
	res := run.Progress()
	arena := run.Arena()

	h.SetState(&rpc.RunState{
		Scenario:         res.Scenario,
		Seed:             res.Seed,
		Running:          run.IsRunning(),
		Iterations:       res.Iterations,
		TargetIterations: scn.Iterations,
		Batches:          res.Batches,
		Expected:         res.Expected,
		Unexpected:       res.Unexpected,
		TryErrors:        res.TryErrors,
		Verified:         res.Verified,
		OpsPerSecond:     res.OpsPerSecond(),
		PerOp:            res.PerOp,
		PerKind:          res.PerKind,
		ArenaInUse:       uint64(arena.InUse()),
		ArenaCap:         uint64(arena.Cap()),
	})
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Rampart %s (%s)\n", Version, GitCommit)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Println()
		fmt.Println("Guarded memory primitives with violation telemetry")
		fmt.Println("https://github.com/fortiblox/rampart")
		os.Exit(0)
	}

	// Setup logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *writeScenario != "" {
		if err := scenario.WriteTemplate(*writeScenario); err != nil {
			log.Fatalf("Failed to write scenario template: %v", err)
		}
		log.Printf("Wrote starter scenario to %s", *writeScenario)
		os.Exit(0)
	}

	if *writeDashboard != "" {
		if err := metrics.WriteDashboardFile(*writeDashboard, metrics.DefaultDashboardConfig()); err != nil {
			log.Fatalf("Failed to write dashboard: %v", err)
		}
		log.Printf("Wrote Grafana dashboard to %s", *writeDashboard)
		os.Exit(0)
	}

	log.Printf("Starting Rampart %s", Version)
	log.Println()
	log.Println("  ____                                          _")
	log.Println(" |  _ \\   __ _  _ __ ___   _ __    __ _  _ __ | |_")
	log.Println(" | |_) | / _` || '_ ` _ \\ | '_ \\  / _` || '__|| __|")
	log.Println(" |  _ < | (_| || | | | | || |_) || (_| || |   | |_")
	log.Println(" |_| \\_\\ \\__,_||_| |_| |_|| .__/  \\__,_||_|    \\__|")
	log.Println("                          |_|")
	log.Println()
	log.Println(" Guarded memory primitives with violation telemetry")
	log.Println()

	// Load configuration from file
	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply config values, allowing CLI flags to override
	applyConfigWithCLIOverrides(cfg)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Load the scenario
	var scn *scenario.Scenario
	if *scenarioFile != "" {
		scn, err = scenario.Load(*scenarioFile)
		if err != nil {
			log.Fatalf("Failed to load scenario: %v", err)
		}
		log.Printf("Loaded scenario %q from %s", scn.Name, *scenarioFile)
	} else {
		scn = scenario.Default()
		log.Printf("Using built-in scenario %q", scn.Name)
	}

	// Initialize the audit store
	store, err := openStore()
	if err != nil {
		log.Fatalf("Failed to initialize audit store: %v", err)
	}

	if *importArchive != "" {
		if err := importAuditArchive(store, *importArchive); err != nil {
			log.Fatalf("Failed to import audit archive: %v", err)
		}
	}

	// Metrics are collected unconditionally; serving them is optional.
	metricsCollector := metrics.NewMetrics()

	// Create the runner
	run, err := runner.NewRunner(scn, store, metricsCollector)
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	// Health checks and background collectors
	health := metrics.NewHealthChecker(metricsCollector)
	if pinger, ok := store.(metrics.StorePinger); ok {
		health.RegisterStoreCheck(pinger)
	}

	collectors := metrics.NewCollectorManager()
	collectors.Add(metrics.NewRuntimeCollector(metricsCollector, 10*time.Second))
	collectors.Add(metrics.NewStoreCollector(metricsCollector, store, *dataDir, 30*time.Second))
	collectors.Add(metrics.NewArenaCollector(metricsCollector, func() uint64 {
		return uint64(run.Arena().InUse())
	}, 10*time.Second))

	// Log configuration
	log.Println()
	log.Println("Configuration:")
	log.Printf("  Config file:     %s", *configFile)
	log.Printf("  Scenario:        %s (seed %d)", scn.Name, scn.Seed)
	log.Printf("  Iterations:      %d (batches of %d)", scn.Iterations, scn.BatchSize)
	log.Printf("  Buffer pool:     %d buffers of %d-%d bytes", scn.Buffers, scn.MinCapacity, scn.MaxCapacity)
	log.Printf("  Operations:      %s", strings.Join(scn.ActiveOperations(), ", "))
	log.Printf("  Violation rate:  %.2f", scn.ViolationRate)
	log.Printf("  Abort fraction:  %.2f", scn.AbortFraction)
	log.Printf("  Verify:          %v", scn.Verify)
	if *dataDir != "" {
		log.Printf("  Data directory:  %s", *dataDir)
	}
	log.Println()

	// Start RPC server if enabled
	var rpcServer *rpc.Server
	if *enableRPC {
		rpcServer = rpc.NewServer(*rpcAddr, store)
		rpcServer.Handlers().SetVersion(Version, GitCommit)
		go func() {
			log.Printf("JSON-RPC server listening on %s", *rpcAddr)
			if err := rpcServer.Start(ctx); err != nil {
				log.Printf("RPC server error: %v", err)
			}
		}()
	}

	// Start metrics server if enabled
	var metricsServer *metrics.Server
	if *enableMetrics {
		metricsServer = metrics.NewServer(
			metrics.WithAddr(*metricsAddr),
			metrics.WithMetrics(metricsCollector),
			metrics.WithHealthChecker(health),
		)
		if err := metricsServer.Start(); err != nil {
			log.Fatalf("Failed to start metrics server: %v", err)
		}
		log.Printf("Prometheus metrics server listening on %s", *metricsAddr)
	}

	health.Start(ctx)
	collectors.Start()
	health.SetReady(true)

	// Wire run callbacks
	options := runner.DefaultOptions()
	options.Logger = log.Default()
	options.StopOnUnexpected = *stopOnUnexpected
	options.OnBatchComplete = func(stats runner.BatchStats) {
		health.UpdateBatchTime()
		if rpcServer != nil {
			publishRunState(rpcServer.Handlers(), run, scn)
		}
	}
	options.OnUnexpected = func(op string, err error) {
		log.Printf("UNEXPECTED %s: %v", op, err)
	}
	run.SetOptions(options)

	// Stats ticker
	var statsTicker *time.Ticker
	if *showStats {
		statsTicker = time.NewTicker(30 * time.Second)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-statsTicker.C:
					res := run.Progress()
					log.Println()
					log.Println("=== Soak Statistics ===")
					log.Printf("  Iterations:     %d / %d", res.Iterations, scn.Iterations)
					log.Printf("  Batches:        %d", res.Batches)
					log.Printf("  Ops/sec:        %.0f", res.OpsPerSecond())
					log.Printf("  Violations:     %d (expected: %d, unexpected: %d)",
						res.Violations(), res.Expected, res.Unexpected)
					log.Printf("  Try errors:     %d", res.TryErrors)
					log.Printf("  Verified:       %d", res.Verified)
					log.Printf("  Audit classes:  %d (%d observations)", store.Count(), store.Total())
					log.Println("=======================")
					log.Println()
				}
			}
		}()
	}

	// Run the soak in a goroutine
	log.Println("Starting soak run...")

	type runOutcome struct {
		result *runner.Result
		err    error
	}
	runDone := make(chan runOutcome, 1)
	go func() {
		result, err := run.Run(ctx)
		runDone <- runOutcome{result: result, err: err}
	}()

	// Wait for shutdown signal or run completion
	var outcome runOutcome
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
		outcome = <-runDone

	case outcome = <-runDone:
	}

	// Stop stats ticker
	if statsTicker != nil {
		statsTicker.Stop()
	}

	// Graceful shutdown
	log.Println("Shutting down...")
	health.SetReady(false)
	collectors.Stop()
	health.Stop()

	// Stop RPC server, with the final state published first
	if rpcServer != nil {
		publishRunState(rpcServer.Handlers(), run, scn)
		log.Println("Stopping RPC server...")
		if err := rpcServer.Stop(); err != nil {
			log.Printf("Error stopping RPC server: %v", err)
		}
	}

	// Stop metrics server
	if metricsServer != nil {
		log.Println("Stopping metrics server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Printf("Error stopping metrics server: %v", err)
		}
		shutdownCancel()
	}

	exitCode := 0
	if outcome.err != nil && outcome.err != context.Canceled {
		log.Printf("Soak run failed: %v", outcome.err)
		exitCode = 1
	}

	// Print final stats
	if result := outcome.result; result != nil {
		log.Println()
		log.Println("=== Final Statistics ===")
		log.Printf("  Scenario:       %s (seed %d)", result.Scenario, result.Seed)
		log.Printf("  Runtime:        %s", result.Duration.Round(time.Millisecond))
		log.Printf("  Iterations:     %d in %d batches", result.Iterations, result.Batches)
		log.Printf("  Ops/sec:        %.0f", result.OpsPerSecond())
		log.Printf("  Violations:     %d (expected: %d, unexpected: %d)",
			result.Violations(), result.Expected, result.Unexpected)
		log.Printf("  Try errors:     %d", result.TryErrors)
		log.Printf("  Verified:       %d", result.Verified)
		log.Printf("  Audit classes:  %d (%d observations)", store.Count(), store.Total())
		log.Println("========================")
		log.Println()

		if !result.Clean() && exitCode == 0 {
			log.Printf("Run diverged from prediction %d times", result.Unexpected)
			exitCode = 2
		}
	}

	// Export the audit store if requested
	if *exportArchive != "" {
		if err := exportAuditArchive(store, *exportArchive); err != nil {
			log.Printf("Failed to export audit archive: %v", err)
			if exitCode == 0 {
				exitCode = 1
			}
		}
	}

	// Close the audit store
	if err := store.Close(); err != nil {
		log.Printf("Error closing audit store: %v", err)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}

	log.Println("Rampart stopped gracefully")
}

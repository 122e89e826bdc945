package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/voxbridge/internal/bridge"
	"github.com/mattjoyce/voxbridge/internal/config"
	"github.com/mattjoyce/voxbridge/internal/doctor"
	"github.com/mattjoyce/voxbridge/internal/inspect"
	"github.com/mattjoyce/voxbridge/internal/lock"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/runlog"
	"github.com/mattjoyce/voxbridge/internal/storage"
	"github.com/mattjoyce/voxbridge/internal/tui/watch"
	"github.com/mattjoyce/voxbridge/internal/world"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "engine":
		os.Exit(runEngineNoun(args))

	case "start":
		os.Exit(runStart(args))
	case "route":
		os.Exit(runRoute(args))
	case "watch":
		os.Exit(runWatch(args))
	case "doctor":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("voxbridge version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`voxbridge - Speech engine bridge for a simulated game host

Usage:
  voxbridge <noun> <action> [flags]

Core Resources (Nouns):
  system    Bridge lifecycle
  config    Configuration and validation
  engine    Speech engine run history

System Commands:
  system start        Run the host loop, engine and admin API in foreground
  system status       Show whether a bridge holds the state lock

Config Commands:
  config check        Validate config, engine install and world file
  config show         Print the resolved configuration
  config digest       Print the BLAKE3 digest of the config sources

Engine Commands:
  engine runs         List recent engine runs
  engine inspect <id> Show one engine run

Tools:
  route <to>          Compute a route over the world graph
  watch               Live dashboard over the admin API

General:
  version             Show version information
  help                Show this help message

Use 'voxbridge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "digest":
		if hasHelpFlag(actionArgs) {
			printConfigDigestHelp()
			return 0
		}
		return runConfigDigest(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runEngineNoun(args []string) int {
	if len(args) < 1 {
		printEngineNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEngineNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "runs":
		if hasHelpFlag(actionArgs) {
			printEngineRunsHelp()
			return 0
		}
		return runEngineRuns(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printEngineInspectHelp()
			return 0
		}
		return runInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown engine action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: voxbridge system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: voxbridge config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show, digest")
}

func printEngineNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: voxbridge engine <action>")
	fmt.Fprintln(w, "Actions: runs, inspect")
}

func printSystemStartHelp() {
	fmt.Println("Usage: voxbridge system start [--config PATH]")
	fmt.Println("Run the bridge in the foreground until SIGINT or SIGTERM.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: voxbridge system status [--config PATH]")
	fmt.Println("Report whether another bridge holds the state lock.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: voxbridge config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration, the engine install and the world file.")
	fmt.Println("Exit status is 1 on errors and 2 on warnings with --strict.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: voxbridge config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration with includes merged.")
}

func printConfigDigestHelp() {
	fmt.Println("Usage: voxbridge config digest [--config PATH]")
	fmt.Println("Print a digest that changes whenever any config source file changes.")
}

func printEngineRunsHelp() {
	fmt.Println("Usage: voxbridge engine runs [--config PATH] [--limit N] [--json]")
	fmt.Println("List recent speech engine runs, newest first.")
}

func printEngineInspectHelp() {
	fmt.Println("Usage: voxbridge engine inspect <run_id> [--config PATH] [--json]")
	fmt.Println("Show one speech engine run.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("voxbridge starting", "version", version, "config", *configPath)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	b, err := bridge.New(cfg, bridge.Options{Runs: runlog.New(db)})
	if err != nil {
		logger.Error("failed to assemble bridge", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("voxbridge running (press Ctrl+C to stop)", "engine", cfg.Engine.Executable, "api", cfg.API.Enabled)
	if err := b.Run(ctx); err != nil {
		logger.Error("voxbridge failed", "error", err)
		return 1
	}
	logger.Info("voxbridge stopped")
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	path := getPIDLockPath(cfg)
	l, err := lock.AcquirePIDLock(path)
	if err == nil {
		_ = l.Release()
		fmt.Println("voxbridge is not running")
		return 3
	}
	if !errors.Is(err, lock.ErrLocked) {
		fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
		return 1
	}
	pid, err := lock.ReadPID(path)
	if err != nil {
		fmt.Printf("voxbridge is running (lock %s)\n", path)
		return 0
	}
	fmt.Printf("voxbridge is running (pid %d, lock %s)\n", pid, path)
	return 0
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	wf, worldErr := bridge.LoadWorld(cfg)
	result := doctor.New(cfg, bridge.RequestTypes(), wf, worldErr).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runConfigDigest(args []string) int {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	digest, err := config.Digest(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Digest failed: %v\n", err)
		return 1
	}
	fmt.Println(digest)
	return 0
}

func runEngineRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Number of runs to show")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	store, closeDB, err := openRunStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return 1
	}
	defer closeDB()

	runs, err := store.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []runlog.Run{}
		}
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(runs) == 0 {
		fmt.Println("No engine runs recorded.")
		return 0
	}

	now := time.Now()
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		if r.Killed {
			exit += " (killed)"
		}
		rows = append(rows, []string{
			r.ID,
			strconv.Itoa(r.PID),
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration(now).Round(time.Second).String(),
			exit,
		})
	}
	fmt.Println(renderTable([]string{"RUN ID", "PID", "STARTED", "DURATION", "EXIT"}, rows, 1, 3))
	return 0
}

func runInspect(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	// The run ID may come before or after the flags.
	var runID string
	var remainingArgs []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			remainingArgs = append(remainingArgs, arg)
			if i+1 < len(args) {
				i++
				remainingArgs = append(remainingArgs, args[i])
			}
		case !strings.HasPrefix(arg, "-") && runID == "":
			runID = arg
		default:
			remainingArgs = append(remainingArgs, arg)
		}
	}
	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if runID == "" {
		fmt.Fprintf(os.Stderr, "Usage: voxbridge engine inspect <run_id> [--config PATH] [--json]\n")
		return 1
	}

	store, closeDB, err := openRunStore(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return 1
	}
	defer closeDB()

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), store, runID, time.Now())
		report += "\n"
	} else {
		report, err = inspect.BuildReport(context.Background(), store, runID, time.Now())
	}
	if errors.Is(err, runlog.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No engine run with id %s\n", runID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(report)
	return 0
}

func runRoute(args []string) int {
	var configPath, worldPath, from string

	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (optional)")
	fs.StringVar(&worldPath, "world", "", "Path to a world file (default: config world or built-in)")
	fs.StringVar(&from, "from", "", "Start location (default: player start)")

	var to string
	var remainingArgs []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			remainingArgs = append(remainingArgs, arg)
			if !strings.Contains(arg, "=") && i+1 < len(args) {
				i++
				remainingArgs = append(remainingArgs, args[i])
			}
			continue
		}
		if to == "" {
			to = arg
		}
	}
	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if to == "" {
		fmt.Fprintf(os.Stderr, "Usage: voxbridge route <to> [--from LOCATION] [--world PATH | --config PATH]\n")
		return 1
	}

	wf, err := loadWorldForTool(configPath, worldPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "World load error: %v\n", err)
		return 1
	}

	sim := world.New(wf)
	if from == "" {
		from = sim.CurrentLocation()
	}
	route, found, err := navgraph.New(sim).FindRouteTo(from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Route failed: %v\n", err)
		return 1
	}
	if !found {
		fmt.Printf("No route from %s to %s\n", from, to)
		return 1
	}
	fmt.Println(strings.Join(route, " -> "))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "", "Admin API base URL (default: from config)")
	apiKey := fs.String("api-key", os.Getenv("VOXBRIDGE_API_KEY"), "Bearer token")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *apiURL == "" {
		cfg, err := loadConfigForTool(*configPath)
		if err != nil {
			*apiURL = "http://" + config.Defaults().API.Listen
		} else {
			*apiURL = "http://" + cfg.API.Listen
			if *apiKey == "" {
				*apiKey = cfg.API.Auth.APIKey
			}
		}
	}

	if fd := os.Stdout.Fd(); !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		fmt.Fprintln(os.Stderr, "watch needs an interactive terminal")
		return 1
	}
	if err := watch.Run(*apiURL, *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func loadWorldForTool(configPath, worldPath string) (*world.File, error) {
	if worldPath != "" {
		return world.LoadFile(worldPath)
	}
	if configPath == "" {
		return world.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return bridge.LoadWorld(cfg)
}

func openRunStore(configPath string) (*runlog.Store, func(), error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return runlog.New(db), func() { _ = db.Close() }, nil
}

func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.State.Path
	dbBase := filepath.Base(dbPath)
	name := strings.TrimSuffix(dbBase, filepath.Ext(dbBase))
	return filepath.Join(filepath.Dir(dbPath), name+".pid")
}

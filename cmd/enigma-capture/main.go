package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"EnigmaNetz/Enigma-Go-Capture/config"
	"EnigmaNetz/Enigma-Go-Capture/internal/analyzer"
	"EnigmaNetz/Enigma-Go-Capture/internal/capture"
	"EnigmaNetz/Enigma-Go-Capture/internal/diagnostics"
	"EnigmaNetz/Enigma-Go-Capture/internal/events"
	"EnigmaNetz/Enigma-Go-Capture/internal/history"
	"EnigmaNetz/Enigma-Go-Capture/internal/logger"
	"EnigmaNetz/Enigma-Go-Capture/internal/shutdown"
	"EnigmaNetz/Enigma-Go-Capture/internal/version"
)

func printHelp() {
	fmt.Print(`Enigma Capture - Live Packet Capture Tool

Usage: enigma-capture [--config <file>] <command> [arguments]

Commands:
  capture <interface|auto> [duration_seconds] [output_filename]
                  Capture packets into a PCAP file. duration_seconds defaults to
                  capture.duration_seconds (30); 0 runs until STOP or a signal.
  analyze <pcap> [--json]
                  Summarize a capture file
  interfaces [--json]
                  List capture devices
  history [n]     Show the last n capture sessions (default 10)
  collect-logs    Zip logs, recent captures, config and host info for support
  --version, -v   Print version and exit
  --help, -h      Show this help message and exit

Control:
  While capturing, progress events are written to stdout as one JSON object
  per line. Writing STOP to stdin, or sending SIGINT/SIGTERM, finalizes the
  capture file. The exit code is 0 when the file was verified on disk.

Configuration:
  Loaded from /etc/enigma-capture/config.json or config.json in the working
  directory. TOML (.toml) and YAML (.yaml, .yml) files are accepted with
  --config. Without a config file, defaults are used.

Example:
  enigma-capture capture auto 60
    Captures from the default-route interface for 60 seconds into temp/.

  enigma-capture capture eth0 0 "my capture.pcap"
    Captures from eth0 until stopped.
`)
}

func main() {
	args := os.Args[1:]
	configPath := ""
	if len(args) >= 2 && (args[0] == "--config" || args[0] == "-c") {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "--help", "-h", "help":
		printHelp()
		return
	case "--version", "-v":
		fmt.Println(version.Version)
		return
	}

	cfg, loadedPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.InitializeLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()
	log.Debug("Loaded config: %+v", cfg)

	var code int
	switch args[0] {
	case "capture":
		code = runCapture(cfg, args[1:])
	case "analyze":
		code = runAnalyze(args[1:])
	case "interfaces":
		code = runInterfaces(args[1:])
	case "history":
		code = runHistory(cfg, args[1:])
	case "collect-logs":
		code = runCollectLogs(cfg, loadedPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		printHelp()
		code = 1
	}
	log.Close()
	os.Exit(code)
}

// loadConfig loads an explicit config file, or the first default path that
// exists, or the built-in defaults. The returned path is empty for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadConfig(path)
		return cfg, path, err
	}
	for _, p := range config.DefaultConfigPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cfg, err := config.LoadConfig(p)
		return cfg, p, err
	}
	return config.Default(), "", nil
}

func runCapture(cfg *config.Config, args []string) int {
	log := logger.GetLogger()
	emitter := events.NewEmitter(os.Stdout)
	defer emitter.Flush()

	iface := cfg.Capture.Interface
	if len(args) > 0 && args[0] != "" {
		iface = strings.Trim(args[0], `"'`)
	}
	duration := time.Duration(cfg.Capture.DurationSeconds) * time.Second
	if len(args) > 1 {
		secs, err := strconv.Atoi(args[1])
		if err != nil || secs < 0 {
			emitter.Error(fmt.Sprintf("invalid duration %q: must be a non-negative number of seconds", args[1]))
			return 1
		}
		duration = time.Duration(secs) * time.Second
	}
	output := ""
	if len(args) > 2 {
		output = args[2]
	}

	resolved, err := capture.ResolveInterface(iface)
	if err != nil {
		log.Error("[main] Interface selection failed: %v", err)
		if errors.Is(err, capture.ErrAttachFailure) {
			emitter.DriverError("No packet capture interface available", err.Error())
		}
		emitter.Error(fmt.Sprintf("failed to select capture interface: %v", err))
		return 1
	}
	if err := config.ValidateInterfaceName(resolved); err != nil {
		emitter.Error(fmt.Sprintf("invalid interface %q: %v", iface, err))
		return 1
	}
	if resolved != iface {
		log.Info("[main] Selected interface %s", resolved)
	}

	session := capture.NewSession(capture.CaptureOptions{
		Interface:     resolved,
		OutputPath:    config.ResolveOutputPath(cfg.Capture.OutputDir, resolved, output, time.Now()),
		WorkDir:       cfg.Capture.OutputDir,
		Filter:        cfg.Capture.Filter,
		Duration:      duration,
		SnapLen:       cfg.Capture.SnapLen,
		Promiscuous:   *cfg.Capture.Promiscuous,
		FlushEvery:    cfg.Capture.FlushEvery,
		StatsEvery:    cfg.Capture.StatsEvery,
		StopGrace:     cfg.StopGrace(),
		VerifyTimeout: cfg.VerifyTimeout(),
	}, capture.LiveOpener, emitter)

	ctx := context.Background()
	controller := shutdown.New(session, emitter,
		shutdown.WithControl(os.Stdin),
		shutdown.WithPollInterval(cfg.ControlPollInterval()))

	type outcome struct {
		result capture.CaptureResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := controller.Run(ctx)
		done <- outcome{res, err}
	}()

	if err := session.Start(ctx); err != nil {
		log.Error("[main] Capture failed to start: %v", err)
	}
	out := <-done
	if out.err != nil {
		log.Error("[main] Capture ended abnormally: %v", out.err)
	}

	recordHistory(cfg, out.result, emitter)
	if out.result.State == capture.StateStopped && cfg.Capture.AnalyzeOnComplete {
		summarize(out.result.PCAPFile, emitter)
	}
	return out.result.ExitCode()
}

func recordHistory(cfg *config.Config, result capture.CaptureResult, emitter *events.Emitter) {
	if cfg.History.Disabled || result.SessionID == "" {
		return
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.GetLogger().Warn("[main] History unavailable: %v", err)
		emitter.Warning("session history not recorded: %v", err)
		return
	}
	defer store.Close()
	if err := store.Record(history.FromResult(result)); err != nil {
		logger.GetLogger().Warn("[main] Failed to record session: %v", err)
		emitter.Warning("session history not recorded: %v", err)
	}
}

func summarize(path string, emitter *events.Emitter) {
	report, err := analyzer.AnalyzeFile(path)
	if err != nil {
		emitter.Warning("analysis failed: %v", err)
		return
	}
	var b strings.Builder
	if err := report.WriteText(&b); err != nil {
		emitter.Warning("analysis failed: %v", err)
		return
	}
	emitter.Info("%s", b.String())
}

func runAnalyze(args []string) int {
	asJSON := false
	path := ""
	for _, a := range args {
		if a == "--json" {
			asJSON = true
			continue
		}
		path = strings.Trim(a, `"'`)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: enigma-capture analyze <pcap> [--json]")
		return 1
	}

	report, err := analyzer.AnalyzeFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		return 1
	}
	if asJSON {
		err = report.WriteJSON(os.Stdout)
	} else {
		err = report.WriteText(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		return 1
	}
	return 0
}

func runInterfaces(args []string) int {
	devs, err := capture.ListInterfaces()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list interfaces: %v\n", err)
		fmt.Fprintf(os.Stderr, "Install a packet capture driver: %s\n", events.DriverDownloadURL)
		return 1
	}
	if len(args) > 0 && args[0] == "--json" {
		if err := json.NewEncoder(os.Stdout).Encode(devs); err != nil {
			return 1
		}
		return 0
	}

	renderInterfaces(os.Stdout, devs)
	return 0
}

func runHistory(cfg *config.Config, args []string) int {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "Invalid count %q\n", args[0])
			return 1
		}
		limit = n
	}
	if cfg.History.Disabled {
		fmt.Fprintln(os.Stderr, "Session history is disabled (history.disabled is set)")
		return 1
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.List(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Println("No capture sessions recorded")
		return 0
	}
	renderHistory(os.Stdout, entries)
	return 0
}

func runCollectLogs(cfg *config.Config, configFile string) int {
	zipName := fmt.Sprintf("enigma-capture-logs-%s.zip", time.Now().Format("20060102-150405"))
	historyFile := cfg.History.Path
	if cfg.History.Disabled {
		historyFile = ""
	}
	err := diagnostics.CollectBundle(zipName, diagnostics.BundleSources{
		LogFile:     cfg.Logging.File,
		CaptureDir:  cfg.Capture.OutputDir,
		ConfigFile:  configFile,
		HistoryFile: historyFile,
		Interface:   cfg.Capture.Interface,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to collect logs: %v\n", err)
		return 1
	}
	fmt.Printf("Logs collected into %s\n", zipName)
	return 0
}

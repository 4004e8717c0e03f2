package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/keilerkonzept/graphtop/internal/monitor"
	"github.com/keilerkonzept/graphtop/internal/sim"
	"github.com/keilerkonzept/graphtop/internal/telemetry"
	"github.com/keilerkonzept/graphtop/internal/window"
)

type Config struct {
	// graph
	ScenarioPath      string
	DiscoveryInterval time.Duration
	StatsInterval     time.Duration
	RPCTimeout        time.Duration
	WindowCapacity    int

	// render
	FPS              int
	ViewSplit        int
	HideUnmeasurable bool
	SearchEnabled    bool
	Query            string
	LogScale         bool
	PerfEnabled      bool
	AltScreen        bool

	// busiest topics
	K            int
	Width        int
	Depth        int
	Decay        float64
	DecayLUTSize int
	TickSize     time.Duration
	WindowSize   time.Duration
	FullRefresh  time.Duration
	PartialSize  int

	// output
	LogFile     string
	LogLevel    string
	MetricsAddr string
	Dump        bool
	Warmup      time.Duration
}

var config = Config{
	DiscoveryInterval: monitor.DefaultDiscoveryInterval,
	StatsInterval:     monitor.DefaultStatsInterval,
	RPCTimeout:        monitor.DefaultRPCTimeout,
	WindowCapacity:    window.DefaultCapacity,

	FPS:              30,
	ViewSplit:        65,
	HideUnmeasurable: true,
	SearchEnabled:    true,
	PerfEnabled:      true,
	AltScreen:        true,

	K:            10,
	Width:        1024,
	Depth:        3,
	Decay:        0.9,
	DecayLUTSize: 8192,
	TickSize:     time.Second,
	WindowSize:   30 * time.Second,
	FullRefresh:  2 * time.Second,

	LogLevel: "info",
	Warmup:   3 * time.Second,
}

func main() {
	flag.StringVar(&config.ScenarioPath, "scenario", config.ScenarioPath, "Simulated graph scenario (YAML; empty = built-in)")
	flag.DurationVar(&config.DiscoveryInterval, "discovery", config.DiscoveryInterval, "Graph discovery interval")
	flag.DurationVar(&config.StatsInterval, "stats", config.StatsInterval, "Rate/delay recomputation interval")
	flag.DurationVar(&config.RPCTimeout, "rpc-timeout", config.RPCTimeout, "Timeout for each graph query")
	flag.IntVar(&config.WindowCapacity, "capacity", config.WindowCapacity, "Samples kept per topic for rate and delay")

	flag.IntVar(&config.FPS, "fps", config.FPS, "Dashboard refresh rate (frames per second)")
	flag.IntVar(&config.ViewSplit, "view-split", config.ViewSplit, "Split the view at this % of the total screen width [20,80]")
	flag.BoolVar(&config.HideUnmeasurable, "hide-unmeasurable", config.HideUnmeasurable, "Hide topics whose rate and delay are both N/A")
	flag.BoolVar(&config.SearchEnabled, "search", config.SearchEnabled, "Enable the search box")
	flag.StringVar(&config.Query, "filter", config.Query, "Initial case-insensitive name filter")
	flag.BoolVar(&config.LogScale, "log-scale", config.LogScale, "Use a logarithmic Y axis for the busiest-topics plot")
	flag.BoolVar(&config.PerfEnabled, "perf", config.PerfEnabled, "Show engine performance stats")
	flag.BoolVar(&config.AltScreen, "alt-screen", config.AltScreen, "Use the terminal alternate screen buffer (recommended inside IDE terminals)")

	flag.IntVar(&config.K, "k", config.K, "Track the K busiest topics")
	flag.IntVar(&config.Width, "width", config.Width, "Sketch width")
	flag.IntVar(&config.Depth, "depth", config.Depth, "Sketch depth")
	flag.Float64Var(&config.Decay, "decay", config.Decay, "Counter decay probability on collisions")
	flag.IntVar(&config.DecayLUTSize, "decay-lut-size", config.DecayLUTSize, "Sketch decay look-up table size")
	flag.DurationVar(&config.WindowSize, "window", config.WindowSize, "Busiest-topics window size")
	flag.DurationVar(&config.TickSize, "tick", config.TickSize, "Busiest-topics tick size (time bucket precision)")
	flag.DurationVar(&config.FullRefresh, "full-refresh", config.FullRefresh, "How often to re-rank the busiest topics from scratch (0 = always)")
	flag.IntVar(&config.PartialSize, "partial-size", config.PartialSize, "How many ranked topics to refresh between full re-ranks (0 = all visible)")

	flag.StringVar(&config.LogFile, "log-file", config.LogFile, "Write logs to this file (default: discard in dashboard mode, stderr in dump mode)")
	flag.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9464)")
	flag.BoolVar(&config.Dump, "dump", config.Dump, "Print one JSON snapshot after -warmup and exit")
	flag.DurationVar(&config.Warmup, "warmup", config.Warmup, "How long to measure before -dump prints")

	flag.Parse()

	if err := validateAndNormalizeConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "graphtop:", err)
		os.Exit(2)
	}
	if !config.Dump && !term.IsTerminal(os.Stdout.Fd()) {
		config.Dump = true
	}

	logger, closeLog, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphtop:", err)
		os.Exit(2)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("exiting", "error", err)
		fmt.Fprintln(os.Stderr, "graphtop:", err)
		closeLog()
		os.Exit(1)
	}
}

func validateAndNormalizeConfig() error {
	if config.DiscoveryInterval <= 0 {
		return fmt.Errorf("-discovery must be > 0")
	}
	if config.StatsInterval <= 0 {
		return fmt.Errorf("-stats must be > 0")
	}
	if config.RPCTimeout <= 0 {
		return fmt.Errorf("-rpc-timeout must be > 0")
	}
	if config.RPCTimeout >= config.DiscoveryInterval {
		return fmt.Errorf("-rpc-timeout must be shorter than -discovery (got %s >= %s)", config.RPCTimeout, config.DiscoveryInterval)
	}
	if config.WindowCapacity < 2 {
		return fmt.Errorf("-capacity must be >= 2")
	}
	if config.FPS < 1 {
		return fmt.Errorf("-fps must be >= 1")
	}
	if config.K < 1 {
		return fmt.Errorf("-k must be >= 1")
	}
	if config.Width < 1 {
		return fmt.Errorf("-width must be >= 1")
	}
	if config.Depth < 1 {
		return fmt.Errorf("-depth must be >= 1")
	}
	if config.Decay < 0 || config.Decay > 1 {
		return fmt.Errorf("-decay must be in [0,1]")
	}
	if config.DecayLUTSize < 1 {
		return fmt.Errorf("-decay-lut-size must be >= 1")
	}
	if config.TickSize <= 0 {
		return fmt.Errorf("-tick must be > 0")
	}
	if config.WindowSize < config.TickSize {
		return fmt.Errorf("-window must be >= -tick")
	}
	if config.WindowSize%config.TickSize != 0 {
		return fmt.Errorf("-window must be a multiple of -tick (got window=%s tick=%s)", config.WindowSize, config.TickSize)
	}
	if config.FullRefresh < 0 {
		return fmt.Errorf("-full-refresh must be >= 0")
	}
	if config.PartialSize < 0 {
		return fmt.Errorf("-partial-size must be >= 0")
	}
	if config.Warmup < 0 {
		return fmt.Errorf("-warmup must be >= 0")
	}
	if _, err := parseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("-log-level: %w", err)
	}
	config.ViewSplit = min(80, max(20, config.ViewSplit))
	config.Query = strings.TrimSpace(config.Query)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// newLogger builds the process logger. The dashboard owns the terminal, so
// without -log-file its logs are dropped.
func newLogger() (*slog.Logger, func(), error) {
	level, _ := parseLevel(config.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = io.Discard
	closeFn := func() {}
	switch {
	case config.LogFile != "":
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	case config.Dump:
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
}

// run wires the graph backend, monitor, busiest-topic sketch and optional
// metrics endpoint, then hands the terminal to the dashboard or dump mode.
func run(ctx context.Context, logger *slog.Logger) error {
	scenario := sim.Default()
	if config.ScenarioPath != "" {
		var err error
		if scenario, err = sim.Load(config.ScenarioPath); err != nil {
			return fmt.Errorf("graph backend: %w", err)
		}
	}
	backend := sim.New(scenario)
	logger.Info("graph backend ready", "component", "main",
		"scenario", cmp.Or(config.ScenarioPath, "built-in"),
		"nodes", len(scenario.Nodes), "topics", len(scenario.Topics))

	busiest := newBusiestTopics(config.K, config.WindowSize, config.TickSize,
		config.Width, config.Depth, config.Decay, config.DecayLUTSize)

	mon, err := monitor.New(backend, backend, monitor.Options{
		DiscoveryInterval: config.DiscoveryInterval,
		StatsInterval:     config.StatsInterval,
		RPCTimeout:        config.RPCTimeout,
		Capacity:          config.WindowCapacity,
		Logger:            logger,
		OnDelivery:        busiest.observe,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return busiest.run(gctx) })
	if config.MetricsAddr != "" {
		exporter, err := telemetry.NewExporter(prometheus.NewRegistry())
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("metrics: %w", err)
		}
		g.Go(func() error { return exportLoop(gctx, exporter, mon, config.StatsInterval) })
		g.Go(func() error { return serveMetrics(gctx, logger, config.MetricsAddr, exporter.Handler()) })
	}

	if config.Dump {
		err = dump(gctx, os.Stdout, mon)
	} else {
		err = runDashboard(gctx, mon, busiest)
	}
	cancel()
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func runDashboard(ctx context.Context, mon *monitor.Monitor, busiest *busiestTopics) error {
	m := newModel(mon, busiest)
	if config.Query != "" {
		m.search.SetValue(config.Query)
	}
	opts := []tui.ProgramOption{tui.WithInputTTY(), tui.WithContext(ctx)}
	if config.AltScreen {
		opts = append(opts, tui.WithAltScreen())
	}
	_, err := tui.NewProgram(m, opts...).Run()
	if errors.Is(err, tui.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// dump measures for the warmup period, then writes one snapshot as JSON.
func dump(ctx context.Context, w io.Writer, mon *monitor.Monitor) error {
	select {
	case <-ctx.Done():
	case <-time.After(config.Warmup):
	}
	mon.ComputeStats()
	snap := mon.Snapshot(monitor.Filter{Query: config.Query, HideUnmeasurable: config.HideUnmeasurable})
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// exportLoop mirrors a fresh unfiltered snapshot into the exporter.
func exportLoop(ctx context.Context, e *telemetry.Exporter, mon *monitor.Monitor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Update(mon.Snapshot(monitor.Filter{}))
		}
	}
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "component", "telemetry", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/config"
	"github.com/basket/revclaw/internal/embed"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memlog"
	"github.com/basket/revclaw/internal/memory"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s review [-pr <file>]      Route a pull request, run the selected review
                              agents, and persist what they find
  %s route [-pr <file>]       Print the routing decision without reviewing
                              Flags: -json for JSON output
  %s memory <action>          Inspect or repair the review memory
                              Actions: search, export, status, browse,
                              backfill, rebuild, reset
  %s watch                    Rebuild the index whenever the log changes
                              (e.g. after git pull); runs until interrupted
  %s status                   Show memory health and configuration

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  REVCLAW_HOME            Data directory (default: ~/.revclaw)
  REVCLAW_REPO_DIR        Reviewed repository root (default: .)
  OLLAMA_BASE_URL         Embedding backend endpoint
  GOOGLE_API_KEY          Reviewer model key (Gemini provider)

EXAMPLES:
  Review a pull request:  %s review -pr pr.json
  Dry-run the router:     %s route -pr pr.json -json
  Search past findings:   %s memory search "sql injection"
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "review":
		os.Exit(runReviewCommand(ctx, args[1:]))
	case "route":
		os.Exit(runRouteCommand(ctx, args[1:]))
	case "memory":
		os.Exit(runMemoryCommand(ctx, args[1:]))
	case "watch":
		os.Exit(runWatchCommand(ctx, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "version":
		fmt.Println(Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// runtime bundles the components every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	events *bus.Bus
	store  *memory.Store
	tele   *otelPkg.Telemetry

	log   *memlog.Log
	index *memindex.Index

	closers []func()
}

// openRuntime loads config and opens the memory stack. With quiet set, logs
// go to the log file only so command output stays clean.
func openRuntime(ctx context.Context, quiet bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger, events: bus.New(), tele: otelPkg.NopTelemetry()}
	rt.closers = append(rt.closers, func() { closer.Close() })

	// Telemetry failure never blocks a command; the nop bundle stays in place.
	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without export", "error", err)
	} else {
		tele, terr := otelPkg.NewTelemetry(provider)
		if terr != nil {
			logger.Warn("telemetry instruments failed, continuing without export", "error", terr)
		} else {
			rt.tele = tele
		}
		rt.closers = append(rt.closers, func() { _ = provider.Shutdown(context.Background()) })
	}

	log, err := memlog.Open(cfg.LogPath(), logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open append log: %w", err)
	}
	log.SetTelemetry(rt.tele)
	rt.log = log

	index, err := memindex.Open(cfg.IndexPath(), logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open index: %w", err)
	}
	rt.index = index
	rt.closers = append(rt.closers, func() { index.Close() })

	rt.store = memory.New(log, index, newEmbedder(cfg.Embedding), logger, rt.events)
	rt.store.SetTelemetry(rt.tele)
	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func newEmbedder(cfg config.EmbeddingConfig) embed.Embedder {
	if cfg.Provider != "ollama" {
		return embed.Disabled{}
	}
	return embed.NewOllama(cfg.BaseURL, cfg.Model, cfg.Dimensions,
		time.Duration(cfg.TimeoutSeconds)*time.Second)
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// loadDotEnv reads KEY=VALUE lines into the environment. Existing variables
// win over file values.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}

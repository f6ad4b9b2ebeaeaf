// Command overwatch runs the background-agent daemon and its operator tools.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "", "run", "daemon":
		return withSetup(os.Stdout, func(ctx context.Context, cfg *config.Config) error {
			return runDaemon(ctx, cfg)
		})
	case "gaps":
		return withSetup(os.Stderr, func(ctx context.Context, cfg *config.Config) error {
			return runGaps(ctx, cfg, args)
		})
	case "replay-state":
		return withSetup(os.Stderr, func(ctx context.Context, cfg *config.Config) error {
			return runReplayState(ctx, cfg, args)
		})
	case "events":
		return withSetup(os.Stderr, func(ctx context.Context, cfg *config.Config) error {
			return runEvents(ctx, cfg, args)
		})
	case "cleanup":
		return withSetup(os.Stderr, func(ctx context.Context, cfg *config.Config) error {
			return runCleanup(ctx, cfg, args)
		})
	case "index":
		return withSetup(os.Stderr, func(ctx context.Context, cfg *config.Config) error {
			return runIndex(ctx, cfg, args)
		})
	case "mcp":
		// stdout carries the MCP transport.
		return withSetup(os.Stderr, func(ctx context.Context, cfg *config.Config) error {
			return runMCP(ctx, cfg)
		})
	case "version", "--version", "-v":
		fmt.Println("overwatch", version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// withSetup loads config, installs the default logger writing to logOut,
// and cancels the context on SIGINT or SIGTERM.
func withSetup(logOut io.Writer, fn func(context.Context, *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.NewWithWriter(cfg.Logging, logOut)
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, cfg)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: overwatch [command] [options]

Commands:
  run                       Run the daemon (default)
  gaps                      Report missing sequence ranges in the event log
  replay-state [agent]      Show replay cursors (all agents when omitted)
  events                    Query the event log (--topic, --source, --since, --limit)
  cleanup --days N          Delete events older than N days
  index                     Print the current context index
  mcp                       Serve the context over MCP on stdio
  version                   Print the version

Commands that print data accept --json; output is JSON when stdout is not a terminal.
Configuration is read from overwatch.yaml and OVERWATCH_* environment variables.
`)
}

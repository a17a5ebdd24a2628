// Command netmapper-crawler runs the crawl worker pool and, on the
// master role, the cron that restarts crawl cycles and emits snapshots.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" -o netmapper-crawler ./cmd/crawler
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// osExit wraps os.Exit so tests can intercept process termination.
var osExit = os.Exit

// exitSentinel is the panic value used by test overrides of osExit.
// The int value is the exit code.
type exitSentinel int

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
		return
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("netmapper-crawler %s (%s) built %s\n", version, commit, buildDate)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println("Usage: netmapper-crawler <command> [options]")
	fmt.Println()
	fmt.Println("  run --config path --role master|slave    Start the crawler")
	fmt.Println("  config validate [--config path]          Validate config")
	fmt.Println("  config show     [--config path]          Show resolved config")
	fmt.Println("  config rollback [--config path]          Restore last-known-good config")
	fmt.Println("  version                                  Show version information")
	fmt.Println()
	fmt.Println("Without --config, netmapper-crawler searches ./crawler.yaml, /etc/netmapper/crawler.yaml")
}

// runWithContext exists only so run_test.go can exercise runRun's
// bootstrapping without making it wait on an OS signal forever.
var runWithContext = func(ctx context.Context, cfgPath string, role string) error {
	return serve(ctx, cfgPath, role)
}

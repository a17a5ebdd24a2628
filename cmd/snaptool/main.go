// Command netmapper-snaptool inspects the crawl snapshot files the
// crawler cron writes to crawl_dir and the pinger cron consumes: list
// what is there, inspect one file's contents, or prune old ones.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" -o netmapper-snaptool ./cmd/snaptool
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
	case "list":
		runList(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "prune":
		runPrune(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("netmapper-snaptool %s (%s) built %s\n", version, commit, buildDate)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println("Usage: netmapper-snaptool <command> [options]")
	fmt.Println()
	fmt.Println("  list    --dir path | --config path             List snapshot files, oldest first")
	fmt.Println("  inspect --dir path | --config path [--file f]   Print snapshot entries (default: latest)")
	fmt.Println("  prune   --dir path | --config path --keep n     Remove all but the n most recent snapshots")
	fmt.Println("  version                                         Show version information")
	fmt.Println()
	fmt.Println("--dir names crawl_dir directly; --config resolves crawl_dir from a crawler config file.")
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/snapshot"
)

// resolveCrawlDir returns dirFlag if set, otherwise loads a crawler
// config (via configFlag, falling back to the usual search path) and
// returns its crawl_dir.
func resolveCrawlDir(dirFlag, configFlag string) (string, error) {
	if dirFlag != "" {
		return dirFlag, nil
	}
	cfgFile, err := config.FindConfigFile(configFlag, "crawler")
	if err != nil {
		return "", fmt.Errorf("config error: %w", err)
	}
	cfg, err := config.LoadCrawlerConfig(cfgFile)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.CrawlDir == "" {
		return "", fmt.Errorf("%s: crawl_dir is not set", cfgFile)
	}
	return cfg.CrawlDir, nil
}

func runList(args []string) {
	if err := doList(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doList(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dirFlag := fs.String("dir", "", "crawl_dir to scan")
	configFlag := fs.String("config", "", "path to crawler config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, err := resolveCrawlDir(*dirFlag, *configFlag)
	if err != nil {
		return err
	}

	paths, err := snapshot.List(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	if len(paths) == 0 {
		fmt.Fprintf(stdout, "No snapshot files in %s\n", dir)
		return nil
	}

	for _, path := range paths {
		entries, err := snapshot.Load(path)
		if err != nil {
			fmt.Fprintf(stdout, "%s\tERROR: %v\n", path, err)
			continue
		}
		ts, err := snapshot.TimestampOf(path)
		age := "?"
		if err == nil {
			age = time.Since(time.Unix(ts, 0)).Round(time.Second).String()
		}
		fmt.Fprintf(stdout, "%s\t%d nodes\tage %s\n", path, len(entries), age)
	}
	return nil
}

func runInspect(args []string) {
	if err := doInspect(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doInspect(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dirFlag := fs.String("dir", "", "crawl_dir to scan")
	configFlag := fs.String("config", "", "path to crawler config file")
	fileFlag := fs.String("file", "", "snapshot file to inspect (default: most recent)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *fileFlag
	if path == "" {
		dir, err := resolveCrawlDir(*dirFlag, *configFlag)
		if err != nil {
			return err
		}
		latest, ok, err := snapshot.Latest(dir)
		if err != nil {
			return fmt.Errorf("latest snapshot in %s: %w", dir, err)
		}
		if !ok {
			return fmt.Errorf("no snapshot files in %s", dir)
		}
		path = latest
	}

	entries, err := snapshot.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	fmt.Fprintf(stdout, "# %s (%d nodes)\n", path, len(entries))
	for _, e := range entries {
		fmt.Fprintf(stdout, "%-40s port=%-6d services=0x%x height=%-9d ua=%q\n",
			e.Host, e.Port, e.Services, e.Height, e.UserAgent)
	}
	return nil
}

func runPrune(args []string) {
	if err := doPrune(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doPrune(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dirFlag := fs.String("dir", "", "crawl_dir to scan")
	configFlag := fs.String("config", "", "path to crawler config file")
	keepFlag := fs.Int("keep", 10, "number of most recent snapshots to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keepFlag < 0 {
		return fmt.Errorf("--keep must be >= 0")
	}

	dir, err := resolveCrawlDir(*dirFlag, *configFlag)
	if err != nil {
		return err
	}

	removed, err := snapshot.Prune(dir, *keepFlag)
	if err != nil {
		return fmt.Errorf("prune %s: %w", dir, err)
	}
	if len(removed) == 0 {
		fmt.Fprintf(stdout, "Nothing to prune in %s (keep=%d)\n", dir, *keepFlag)
		return nil
	}
	for _, path := range removed {
		fmt.Fprintf(stdout, "Removed %s\n", path)
	}
	fmt.Fprintf(stdout, "Pruned %d snapshot file(s), kept %d\n", len(removed), *keepFlag)
	return nil
}

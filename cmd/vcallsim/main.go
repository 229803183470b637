// vcallsim drives a synthetic polymorphic workload through a dispatch cache
// and reports how its call sites settled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vcall/config"
	"github.com/chazu/vcall/dispatch"
	"github.com/chazu/vcall/snapshot"
	"github.com/chazu/vcall/tracedb"
	"github.com/chazu/vcall/typesys"
)

func main() {
	configPath := flag.String("config", "", "Path to vcall.toml (default: search upward from the working directory)")
	verbosity := flag.Int("verbosity", -1, "Log verbosity 0-3 (overrides the config file)")
	threads := flag.Int("threads", 4, "Number of goroutines executing call sites")
	calls := flag.Int("calls", 100000, "Calls per goroutine")
	monoSites := flag.Int("mono-sites", 8, "Call sites that only ever see one receiver type")
	polySites := flag.Int("poly-sites", 8, "Call sites that cycle through receiver types")
	types := flag.Int("types", 5, "Number of receiver classes")
	snapshotPath := flag.String("snapshot", "", "Write a CBOR snapshot of the cache to this file")
	tracePath := flag.String("trace", "", "Append the run to this SQLite trace database")
	interactive := flag.Bool("i", false, "Start the interactive inspector after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcallsim [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs call sites against a dispatch cache and prints how they settled.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vcallsim -threads 8 -types 12           # heavy polymorphism\n")
		fmt.Fprintf(os.Stderr, "  vcallsim -snapshot run.cbor -trace runs.db\n")
		fmt.Fprintf(os.Stderr, "  vcallsim -i                             # inspect stubs after the run\n")
	}
	flag.Parse()

	os.Exit(run(options{
		configPath:   *configPath,
		verbosity:    *verbosity,
		threads:      *threads,
		calls:        *calls,
		monoSites:    *monoSites,
		polySites:    *polySites,
		types:        *types,
		snapshotPath: *snapshotPath,
		tracePath:    *tracePath,
		interactive:  *interactive,
	}))
}

type options struct {
	configPath   string
	verbosity    int
	threads      int
	calls        int
	monoSites    int
	polySites    int
	types        int
	snapshotPath string
	tracePath    string
	interactive  bool
}

// run executes one simulation and returns the process exit code. Returning
// instead of exiting lets the deferred Close unmap the stub heap.
func run(opts options) int {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.verbosity >= 0 {
		cfg.Log.Verbosity = opts.verbosity
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	classes := typesys.NewClassTable()
	cache, err := dispatch.New(classes, cfg.DispatchOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cache.Close()

	w, err := newWorkload(classes, cache, opts.types, opts.monoSites, opts.polySites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := w.run(opts.threads, opts.calls); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	printReport(os.Stdout, cache, w, classes)

	if opts.snapshotPath != "" || opts.tracePath != "" {
		snap := snapshot.Take(cache, w.namedCells())
		if opts.snapshotPath != "" {
			if err := snapshot.WriteFile(opts.snapshotPath, snap); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			fmt.Printf("Snapshot written to %s (%d stubs, %d buckets)\n", opts.snapshotPath, len(snap.Stubs), len(snap.Buckets))
		}
		if opts.tracePath != "" {
			if err := writeTrace(opts.tracePath, snap); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
		}
	}

	if opts.interactive {
		if err := runInspector(cache, w); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func writeTrace(path string, snap *snapshot.Snapshot) error {
	db, err := tracedb.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.WriteSnapshot(context.Background(), snap)
	if err != nil {
		return err
	}
	fmt.Printf("Trace run %d appended to %s\n", runID, path)
	return nil
}

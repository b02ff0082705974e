// Command benchmark replays a labeled transaction corpus against a running
// Kestrel server and reports how its verdicts compare with the labels.
//
// Usage:
//
//	go run ./cmd/benchmark -csv transactions.csv -url http://localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/opensource-finance/kestrel/internal/corpus"
)

type options struct {
	csvPath    string
	baseURL    string
	limit      int
	workers    int
	fraudOnly  bool
	sampleRate float64
	verbose    bool
	jsonOut    bool
	timeout    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.csvPath, "csv", "", "Path to labeled transaction CSV")
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "Kestrel base URL")
	flag.IntVar(&opts.limit, "limit", 10000, "Maximum transactions to replay (0 = all)")
	flag.IntVar(&opts.workers, "workers", 10, "Concurrent requests")
	flag.BoolVar(&opts.fraudOnly, "fraud-only", false, "Only replay fraud transactions")
	flag.Float64Var(&opts.sampleRate, "sample", 1.0, "Fraction of non-fraud transactions to keep (0.0-1.0)")
	flag.BoolVar(&opts.verbose, "verbose", false, "Print every verdict")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print the summary as JSON")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")
	flag.Parse()

	if opts.csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: benchmark -csv transactions.csv [-url http://localhost:8080]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	client := newClient(opts.baseURL, opts.timeout)
	if err := client.ready(ctx); err != nil {
		return fmt.Errorf("kestrel at %s is not serving (train and start it first): %w", opts.baseURL, err)
	}

	rows, dropped, err := selectRows(opts)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no transactions selected from %s", opts.csvPath)
	}

	start := time.Now()
	results := replay(ctx, client, rows, opts.workers, opts.verbose)
	rep := summarize(results, time.Since(start))
	rep.Dropped = dropped

	if opts.jsonOut {
		return rep.writeJSON(os.Stdout)
	}
	rep.print(os.Stdout, opts)
	return nil
}

// selectRows reads the corpus and applies the -fraud-only, -sample and
// -limit flags. Non-fraud sampling is deterministic per row position.
func selectRows(opts options) ([]corpus.Row, int, error) {
	all, dropped, err := corpus.LoadHistorical(opts.csvPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", opts.csvPath, err)
	}

	var rows []corpus.Row
	legit := 0
	for _, r := range all {
		if !r.Fraud {
			if opts.fraudOnly {
				continue
			}
			legit++
			if opts.sampleRate < 1 && float64(legit%100)/100 >= opts.sampleRate {
				continue
			}
		}
		rows = append(rows, r)
		if opts.limit > 0 && len(rows) >= opts.limit {
			break
		}
	}
	return rows, dropped, nil
}

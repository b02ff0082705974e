package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// confusion counts verdicts against labels.
type confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

// band is one slice of the risk score range.
type band struct {
	Label string `json:"label"`
	Total int    `json:"total"`
	Fraud int    `json:"fraud"`
}

type report struct {
	Replayed  int            `json:"replayed"`
	Errors    int            `json:"errors"`
	Dropped   int            `json:"dropped"`
	Metrics   domain.Metrics `json:"metrics"`
	Confusion confusion      `json:"confusion"`
	Bands     []band         `json:"riskBands"`
	Patterns  map[string]int `json:"patterns"`
	Duration  time.Duration  `json:"durationNs"`
	AvgMs     float64        `json:"avgLatencyMs"`
	P95Ms     float64        `json:"p95LatencyMs"`
}

var bandEdges = []int{20, 40, 60, 80, 101}

func summarize(results []result, elapsed time.Duration) report {
	rep := report{
		Replayed: len(results),
		Duration: elapsed,
		Patterns: make(map[string]int),
		Bands:    make([]band, len(bandEdges)),
	}
	lo := 0
	for i, hi := range bandEdges {
		rep.Bands[i].Label = fmt.Sprintf("%d-%d", lo, min(hi-1, 100))
		lo = hi
	}

	outcomes := make([]model.Outcome, 0, len(results))
	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			rep.Errors++
			continue
		}
		flagged := r.Verdict.Prediction == domain.VerdictFraud
		outcomes = append(outcomes, model.Outcome{
			Probability: float64(r.Verdict.RiskScore) / 100,
			Flagged:     flagged,
			Fraud:       r.Row.Fraud,
		})
		latencies = append(latencies, r.Latency)
		rep.Patterns[r.Verdict.Pattern]++

		switch {
		case flagged && r.Row.Fraud:
			rep.Confusion.TP++
		case flagged:
			rep.Confusion.FP++
		case r.Row.Fraud:
			rep.Confusion.FN++
		default:
			rep.Confusion.TN++
		}

		for i, hi := range bandEdges {
			if r.Verdict.RiskScore < hi {
				rep.Bands[i].Total++
				if r.Row.Fraud {
					rep.Bands[i].Fraud++
				}
				break
			}
		}
	}

	rep.Metrics = model.Summarize(outcomes)
	if n := len(latencies); n > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		rep.AvgMs = float64(sum.Microseconds()) / float64(n) / 1000
		p95 := latencies[(n*95+99)/100-1]
		rep.P95Ms = float64(p95.Microseconds()) / 1000
	}
	return rep
}

func (r report) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r report) print(w io.Writer, opts options) {
	p := message.NewPrinter(language.English)
	rule := strings.Repeat("=", 64)

	p.Fprintln(w, rule)
	p.Fprintf(w, "Kestrel benchmark  %s  ->  %s\n", opts.csvPath, opts.baseURL)
	p.Fprintln(w, rule)
	p.Fprintf(w, "Replayed %d transactions (%d errors, %d incomplete rows dropped) in %v\n",
		r.Replayed, r.Errors, r.Dropped, r.Duration.Round(time.Millisecond))
	if secs := r.Duration.Seconds(); secs > 0 {
		p.Fprintf(w, "Throughput %.1f tx/s, latency avg %.2f ms, p95 %.2f ms\n",
			float64(r.Replayed-r.Errors)/secs, r.AvgMs, r.P95Ms)
	}

	p.Fprintln(w, "\nConfusion matrix")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tpredicted FRAUD\tpredicted NOT FRAUD\t")
	p.Fprintf(tw, "actual FRAUD\t%d\t%d\t\n", r.Confusion.TP, r.Confusion.FN)
	p.Fprintf(tw, "actual NOT FRAUD\t%d\t%d\t\n", r.Confusion.FP, r.Confusion.TN)
	tw.Flush()

	m := r.Metrics
	p.Fprintln(w, "\nDetection")
	p.Fprintf(w, "  precision %.4f  recall %.4f  f1 %.4f  accuracy %.4f  roc_auc %.4f\n",
		m.Precision, m.Recall, m.F1, m.Accuracy, m.ROCAUC)

	p.Fprintln(w, "\nRisk score bands")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BAND\tROWS\tFRAUD\tFRAUD RATE")
	for _, b := range r.Bands {
		rate := 0.0
		if b.Total > 0 {
			rate = 100 * float64(b.Fraud) / float64(b.Total)
		}
		p.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\n", b.Label, b.Total, b.Fraud, rate)
	}
	tw.Flush()

	if len(r.Patterns) > 0 {
		p.Fprintln(w, "\nPatterns")
		names := make([]string, 0, len(r.Patterns))
		for name := range r.Patterns {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if a, b := r.Patterns[names[i]], r.Patterns[names[j]]; a != b {
				return a > b
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			p.Fprintf(w, "  %6d  %s\n", r.Patterns[name], name)
		}
	}
}

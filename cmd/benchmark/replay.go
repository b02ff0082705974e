package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// verdict is the subset of the /predict response the benchmark reads.
type verdict struct {
	Prediction string `json:"prediction"`
	RiskScore  int    `json:"risk_score"`
	Pattern    string `json:"pattern"`
}

// result is one replayed row. Err is set when the request failed.
type result struct {
	Row     corpus.Row
	Verdict verdict
	Latency time.Duration
	Err     error
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *client) ready(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.base, "ready")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /ready: status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) predict(ctx context.Context, tx domain.Transaction) (verdict, error) {
	var v verdict
	body, err := json.Marshal(tx)
	if err != nil {
		return v, err
	}
	endpoint, err := url.JoinPath(c.base, "predict")
	if err != nil {
		return v, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return v, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return v, fmt.Errorf("POST /predict: status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&v)
	return v, err
}

// replay sends every row to /predict with at most workers requests in
// flight. Results keep the order of rows. Request errors are recorded per
// row and never abort the run; cancelling ctx stops new requests.
func replay(ctx context.Context, c *client, rows []corpus.Row, workers int, verbose bool) []result {
	if workers <= 0 {
		workers = 1
	}
	results := make([]result, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range rows {
		if gctx.Err() != nil {
			results[i] = result{Row: row, Err: gctx.Err()}
			continue
		}
		g.Go(func() error {
			start := time.Now()
			v, err := c.predict(gctx, row.Tx)
			results[i] = result{Row: row, Verdict: v, Latency: time.Since(start), Err: err}
			if verbose {
				printVerdict(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func printVerdict(r result) {
	if r.Err != nil {
		fmt.Printf("ERR  user %-6d %v\n", r.Row.Tx.User, r.Err)
		return
	}
	mark := "ok "
	if (r.Verdict.Prediction == domain.VerdictFraud) != r.Row.Fraud {
		mark = "MISS"
	}
	fmt.Printf("%-4s user %-6d %-16s %5s %12.2f fraud=%-5v -> %-9s risk=%3d %s\n",
		mark, r.Row.Tx.User, r.Row.Tx.City, r.Row.Tx.Time, r.Row.Tx.Amount,
		r.Row.Fraud, r.Verdict.Prediction, r.Verdict.RiskScore, r.Verdict.Pattern)
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const corpusCSV = `User,Card,Year,Month,Day,Time,Amount,City,Is Fraud?
1,0,2021,3,4,12:00,40.00,Austin,No
1,0,2021,3,5,02:10,2500.00,Austin,Yes
2,0,2021,3,6,13:30,55.00,Dallas,No
2,0,2021,3,7,,60.00,Dallas,No
3,0,2021,3,8,03:00,1800.00,Reno,Yes
3,0,2021,3,9,14:00,1200.00,Reno,No
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte(corpusCSV), 0o644))
	return path
}

// fakeKestrel flags every amount above 1000.
func fakeKestrel(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		var tx domain.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v := verdict{Prediction: domain.VerdictNotFraud, RiskScore: 10, Pattern: "routine"}
		if tx.Amount > 1000 {
			v = verdict{Prediction: domain.VerdictFraud, RiskScore: 85, Pattern: "large amount"}
		}
		_ = json.NewEncoder(w).Encode(v)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSelectRows(t *testing.T) {
	path := writeCSV(t)

	rows, dropped, err := selectRows(options{csvPath: path, sampleRate: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, 1, dropped)

	rows, _, err = selectRows(options{csvPath: path, sampleRate: 1, fraudOnly: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.True(t, r.Fraud)
	}

	rows, _, err = selectRows(options{csvPath: path, sampleRate: 1, limit: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, _, err = selectRows(options{csvPath: path, sampleRate: 0})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "sample 0 keeps only fraud")
}

func TestReplayAndSummarize(t *testing.T) {
	srv := fakeKestrel(t)
	c := newClient(srv.URL, time.Second)
	ctx := context.Background()
	require.NoError(t, c.ready(ctx))

	rows, _, err := selectRows(options{csvPath: writeCSV(t), sampleRate: 1})
	require.NoError(t, err)

	results := replay(ctx, c, rows, 3, false)
	require.Len(t, results, len(rows))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, rows[i].Tx, r.Row.Tx, "results keep row order")
	}

	rep := summarize(results, time.Second)
	assert.Equal(t, 5, rep.Replayed)
	assert.Zero(t, rep.Errors)
	assert.Equal(t, confusion{TP: 2, FP: 1, TN: 2, FN: 0}, rep.Confusion)
	assert.InDelta(t, 2.0/3, rep.Metrics.Precision, 1e-9)
	assert.InDelta(t, 1.0, rep.Metrics.Recall, 1e-9)
	assert.Equal(t, map[string]int{"routine": 2, "large amount": 3}, rep.Patterns)
	assert.Equal(t, 2, rep.Bands[0].Total)
	assert.Equal(t, 3, rep.Bands[4].Total)
	assert.Equal(t, 2, rep.Bands[4].Fraud)
	assert.Equal(t, "80-100", rep.Bands[4].Label)
}

func TestReplayRecordsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no generation is being served"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := newClient(srv.URL, time.Second)
	assert.Error(t, c.ready(context.Background()))

	rows, _, err := selectRows(options{csvPath: writeCSV(t), sampleRate: 1})
	require.NoError(t, err)

	rep := summarize(replay(context.Background(), c, rows, 2, false), time.Second)
	assert.Equal(t, 5, rep.Errors)
	assert.Zero(t, rep.Metrics.Support)
}

// Package batch evaluates a CSV of transactions and writes the flagged rows.
package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Output columns appended to each flagged row.
const (
	PredictionColumn = "Prediction"
	PatternColumn    = "Pattern"
)

// Assessor scores one transaction.
type Assessor interface {
	Assess(ctx context.Context, tx domain.Transaction) (*domain.Decision, error)
}

// Summary counts what happened to the input rows.
type Summary struct {
	Rows    int `json:"rows"`
	Flagged int `json:"flagged"`
	Skipped int `json:"skipped"`
}

// Process reads transactions from r and writes every row judged FRAUD to w
// with its original columns plus Prediction and Pattern. Incomplete or
// unparsable rows are skipped.
func Process(ctx context.Context, a Assessor, r io.Reader, w io.Writer) (Summary, error) {
	var sum Summary

	tr, err := corpus.NewTransactionReader(r)
	if err != nil {
		return sum, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(tr.Columns(), PredictionColumn, PatternColumn)); err != nil {
		return sum, fmt.Errorf("write header: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		tx, rec, ok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && rec == nil {
			return sum, err
		}
		sum.Rows++
		if !ok {
			sum.Skipped++
			continue
		}

		dec, err := a.Assess(ctx, tx)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				sum.Skipped++
				continue
			}
			return sum, err
		}
		if dec.Prediction != domain.VerdictFraud {
			continue
		}

		sum.Flagged++
		if err := cw.Write(append(rec, dec.Prediction, dec.Pattern)); err != nil {
			return sum, fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return sum, fmt.Errorf("flush output: %w", err)
	}
	return sum, nil
}

// ProcessFile runs Process from inPath to outPath. Output goes to a
// temporary file renamed into place on success.
func ProcessFile(ctx context.Context, a Assessor, inPath, outPath string) (Summary, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	tmp := outPath + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return Summary{}, fmt.Errorf("create output: %w", err)
	}

	sum, err := Process(ctx, a, in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return sum, err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return sum, fmt.Errorf("publish output: %w", err)
	}

	slog.Info("batch processed",
		"input", inPath,
		"output", outPath,
		"rows", sum.Rows,
		"flagged", sum.Flagged,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

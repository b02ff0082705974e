package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// amountAssessor flags transactions above a threshold.
type amountAssessor struct {
	threshold float64
	err       error
}

func (a amountAssessor) Assess(ctx context.Context, tx domain.Transaction) (*domain.Decision, error) {
	if a.err != nil {
		return nil, a.err
	}
	if _, err := domain.ParseClock(tx.Time); err != nil {
		return nil, errors.Join(domain.ErrInvalidInput, err)
	}
	fraud := tx.Amount > a.threshold
	pattern := "Transaction appears normal based on amount, city, and user patterns"
	if fraud {
		pattern = "ML classifier detected suspicious patterns in transaction features"
	}
	return &domain.Decision{Prediction: domain.VerdictLabel(fraud), Pattern: pattern}, nil
}

const input = `User,Card,Year,Month,Day,Time,Amount,City
1,0,2024,1,2,10:00,50,Austin
2,0,2024,1,2,23:10,9000,Reno
3,0,2024,1,2,11:00,,Austin
4,0,2024,1,2,99:00,7000,Austin
5,0,2024,1,3,1:30,12000,"Salt Lake City"
`

func TestProcess(t *testing.T) {
	var out bytes.Buffer
	sum, err := Process(context.Background(), amountAssessor{threshold: 1000}, strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, Summary{Rows: 5, Flagged: 2, Skipped: 2}, sum)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "User,Card,Year,Month,Day,Time,Amount,City,Prediction,Pattern", lines[0])
	assert.Equal(t, "2,0,2024,1,2,23:10,9000,Reno,FRAUD,ML classifier detected suspicious patterns in transaction features", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], `5,0,2024,1,3,1:30,12000,Salt Lake City,FRAUD,`))
}

func TestProcessMissingColumn(t *testing.T) {
	var out bytes.Buffer
	_, err := Process(context.Background(), amountAssessor{}, strings.NewReader("User,Amount\n1,2\n"), &out)
	assert.Error(t, err)
}

func TestProcessNotServing(t *testing.T) {
	var out bytes.Buffer
	_, err := Process(context.Background(), amountAssessor{err: domain.ErrNotServing}, strings.NewReader(input), &out)
	assert.ErrorIs(t, err, domain.ErrNotServing)
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "new.csv")
	outPath := filepath.Join(dir, "flagged.csv")
	require.NoError(t, os.WriteFile(in, []byte(input), 0o644))

	sum, err := ProcessFile(context.Background(), amountAssessor{threshold: 1000}, in, outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Flagged)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Reno,FRAUD")

	_, err = os.Stat(outPath + ".partial")
	assert.True(t, os.IsNotExist(err))

	t.Run("FailureLeavesNoOutput", func(t *testing.T) {
		failed := filepath.Join(dir, "failed.csv")
		_, err := ProcessFile(context.Background(), amountAssessor{err: domain.ErrNotServing}, in, failed)
		require.Error(t, err)
		_, err = os.Stat(failed)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(failed + ".partial")
		assert.True(t, os.IsNotExist(err))
	})
}

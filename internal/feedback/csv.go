// Package feedback persists reviewed feedback for retraining.
package feedback

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Log file names under the CSV store directory.
const (
	FeedbackFile   = "feedback.csv"
	MitigationFile = "mitigation_feedback.csv"
)

// csvLog is one append-only CSV file. Appends are serialized by mu.
type csvLog struct {
	mu     sync.Mutex
	path   string
	header []string
}

func (l *csvLog) append(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", l.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(l.header); err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", l.path, err)
		}
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", l.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", l.path, err)
	}
	return f.Close()
}

// open returns the log file for reading, or nil if it does not exist yet.
func (l *csvLog) open() (*os.File, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}

var _ domain.FeedbackStore = (*CSVStore)(nil)

// CSVStore keeps each feedback kind in its own CSV file under a directory.
type CSVStore struct {
	labels      *csvLog
	mitigations *csvLog
}

// NewCSVStore creates the directory if needed.
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feedback dir: %w", err)
	}
	return &CSVStore{
		labels:      &csvLog{path: filepath.Join(dir, FeedbackFile), header: corpus.FeedbackHeader},
		mitigations: &csvLog{path: filepath.Join(dir, MitigationFile), header: corpus.MitigationHeader},
	}, nil
}

func (s *CSVStore) AppendFeedback(ctx context.Context, rec domain.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.labels.append(corpus.EncodeFeedback(rec))
}

func (s *CSVStore) AppendMitigationFeedback(ctx context.Context, rec domain.MitigationFeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.mitigations.append(corpus.EncodeMitigation(rec))
}

// ListFeedback reads the label log. A missing file is an empty log.
func (s *CSVStore) ListFeedback(ctx context.Context) ([]domain.FeedbackRecord, error) {
	f, err := s.labels.open()
	if err != nil || f == nil {
		return nil, err
	}
	defer f.Close()

	recs, err := corpus.ReadFeedback(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.labels.path, err)
	}
	return recs, nil
}

// ListMitigationFeedback reads the mitigation log. A missing file is an empty log.
func (s *CSVStore) ListMitigationFeedback(ctx context.Context) ([]domain.MitigationFeedbackRecord, error) {
	f, err := s.mitigations.open()
	if err != nil || f == nil {
		return nil, err
	}
	defer f.Close()

	recs, err := corpus.ReadMitigation(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.mitigations.path, err)
	}
	return recs, nil
}

func (s *CSVStore) Close() error {
	return nil
}

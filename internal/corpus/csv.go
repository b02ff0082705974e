package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("missing column")

var txColumns = []string{"User", "City", "Year", "Month", "Day", "Time", "Amount"}

// header maps column name → index.
type header struct {
	idx   map[string]int
	names []string
}

func readHeader(r *csv.Reader, required ...string) (*header, error) {
	names, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: %w", err)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := &header{idx: make(map[string]int, len(names)), names: make([]string, len(names))}
	for i, n := range names {
		n = strings.TrimSpace(strings.TrimPrefix(n, "\ufeff"))
		h.names[i] = n
		h.idx[n] = i
	}
	for _, col := range required {
		if !h.has(col) {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}
	return h, nil
}

func (h *header) has(col string) bool {
	_, ok := h.idx[col]
	return ok
}

func (h *header) get(rec []string, col string) string {
	i, ok := h.idx[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// complete reports whether every named column is present and non-empty.
func (h *header) complete(rec []string, cols ...string) bool {
	for _, c := range cols {
		if h.get(rec, c) == "" {
			return false
		}
	}
	return true
}

func (h *header) transaction(rec []string) (domain.Transaction, error) {
	var tx domain.Transaction
	var err error

	ints := []struct {
		col string
		dst *int
	}{
		{"User", &tx.User}, {"Year", &tx.Year}, {"Month", &tx.Month}, {"Day", &tx.Day},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(h.get(rec, f.col)); err != nil {
			return tx, fmt.Errorf("column %s: %w", f.col, err)
		}
	}
	if tx.Amount, err = strconv.ParseFloat(h.get(rec, "Amount"), 64); err != nil {
		return tx, fmt.Errorf("column Amount: %w", err)
	}
	tx.City = h.get(rec, "City")
	tx.Time = h.get(rec, "Time")
	return tx, nil
}

func parseLabel(v string) (bool, error) {
	switch v {
	case domain.LabelYes, "1":
		return true, nil
	case domain.LabelNo, "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: label %q", domain.ErrInvalidInput, v)
	}
}

// ReadHistorical parses the labeled corpus. Rows with any empty required
// field are dropped and counted; a row that is present but unparsable is
// an error.
func ReadHistorical(r io.Reader) (rows []Row, dropped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	h, err := readHeader(cr, txColumns...)
	if err != nil {
		return nil, 0, err
	}
	label := ""
	for _, c := range labelColumns {
		if h.has(c) {
			label = c
			break
		}
	}
	if label == "" {
		return nil, 0, fmt.Errorf("%w: %q", ErrMissingColumn, labelColumns[0])
	}
	required := append(append([]string{}, txColumns...), label)

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}
		if !h.complete(rec, required...) {
			dropped++
			continue
		}
		tx, err := h.transaction(rec)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}
		fraud, err := parseLabel(h.get(rec, label))
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, Row{Tx: tx, Fraud: fraud, Source: Historical})
	}
	return rows, dropped, nil
}

// LoadHistorical reads the labeled corpus from path.
func LoadHistorical(path string) ([]Row, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	rows, dropped, err := ReadHistorical(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return rows, dropped, nil
}

// TransactionReader streams unlabeled transactions while keeping each
// source record so callers can write rows back out unchanged.
type TransactionReader struct {
	cr   *csv.Reader
	h    *header
	line int
}

// NewTransactionReader reads the header and checks the transaction columns.
func NewTransactionReader(r io.Reader) (*TransactionReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	h, err := readHeader(cr, txColumns...)
	if err != nil {
		return nil, err
	}
	return &TransactionReader{cr: cr, h: h, line: 1}, nil
}

// Columns returns the header in file order.
func (t *TransactionReader) Columns() []string {
	return append([]string(nil), t.h.names...)
}

// Next returns the next transaction and its raw record. It returns io.EOF
// at the end of input. Incomplete rows report ok=false.
func (t *TransactionReader) Next() (tx domain.Transaction, rec []string, ok bool, err error) {
	rec, err = t.cr.Read()
	t.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return tx, nil, false, io.EOF
		}
		return tx, nil, false, fmt.Errorf("line %d: %w", t.line, err)
	}
	if !t.h.complete(rec, txColumns...) {
		return tx, rec, false, nil
	}
	tx, err = t.h.transaction(rec)
	if err != nil {
		return tx, rec, false, fmt.Errorf("line %d: %w", t.line, err)
	}
	return tx, rec, true, nil
}

func formatTx(tx domain.Transaction) []string {
	return []string{
		strconv.Itoa(tx.User),
		tx.City,
		strconv.Itoa(tx.Year),
		strconv.Itoa(tx.Month),
		strconv.Itoa(tx.Day),
		tx.Time,
		strconv.FormatFloat(tx.Amount, 'f', -1, 64),
	}
}

// EncodeFeedback renders a record in FeedbackHeader order.
func EncodeFeedback(r domain.FeedbackRecord) []string {
	return append(formatTx(r.Transaction), r.IsFraud)
}

// EncodeMitigation renders a record in MitigationHeader order.
func EncodeMitigation(r domain.MitigationFeedbackRecord) []string {
	return append(formatTx(r.Transaction), r.Mitigation, r.Outcome)
}

// ReadFeedback parses a feedback log written with FeedbackHeader.
func ReadFeedback(r io.Reader) ([]domain.FeedbackRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	h, err := readHeader(cr, FeedbackHeader...)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var out []domain.FeedbackRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		tx, err := h.transaction(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fr := domain.FeedbackRecord{Transaction: tx, IsFraud: h.get(rec, "Is_Fraud")}
		if err := fr.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, fr)
	}
}

// ReadMitigation parses a mitigation log written with MitigationHeader.
func ReadMitigation(r io.Reader) ([]domain.MitigationFeedbackRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	h, err := readHeader(cr, MitigationHeader...)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var out []domain.MitigationFeedbackRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		tx, err := h.transaction(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		mr := domain.MitigationFeedbackRecord{
			Transaction: tx,
			Mitigation:  h.get(rec, "Mitigation"),
			Outcome:     h.get(rec, "Outcome"),
		}
		if err := mr.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, mr)
	}
}

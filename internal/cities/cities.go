// Package cities holds the city rarity table: the fraction of historical
// transactions seen in each merchant city.
package cities

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RareThreshold is the frequency below which a known city is considered rare.
const RareThreshold = 0.001

// Table maps city → frequency in [0,1]. It is immutable after construction.
type Table struct {
	freq map[string]float64
}

// Build computes frequencies (count/total) from the city of every
// historical transaction. An empty input yields an empty table.
func Build(cities []string) *Table {
	counts := make(map[string]int, 64)
	for _, c := range cities {
		counts[c]++
	}

	freq := make(map[string]float64, len(counts))
	total := float64(len(cities))
	for c, n := range counts {
		freq[c] = float64(n) / total
	}
	return &Table{freq: freq}
}

// FromFrequencies builds a table from previously computed frequencies.
func FromFrequencies(freq map[string]float64) (*Table, error) {
	out := make(map[string]float64, len(freq))
	for c, f := range freq {
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("city %q: frequency %v out of range", c, f)
		}
		out[c] = f
	}
	return &Table{freq: out}, nil
}

// Frequency returns the city's frequency, or 0 for an unseen city.
func (t *Table) Frequency(city string) float64 {
	return t.freq[city]
}

// Lookup returns the frequency and whether the city was seen.
func (t *Table) Lookup(city string) (float64, bool) {
	f, ok := t.freq[city]
	return f, ok
}

// IsRare is true only for a seen city below RareThreshold.
// Unseen cities are not rare.
func (t *Table) IsRare(city string) bool {
	f, ok := t.freq[city]
	return ok && f < RareThreshold
}

// Len returns the number of distinct cities.
func (t *Table) Len() int {
	return len(t.freq)
}

// Frequencies returns a copy of the table contents.
func (t *Table) Frequencies() map[string]float64 {
	out := make(map[string]float64, len(t.freq))
	for c, f := range t.freq {
		out[c] = f
	}
	return out
}

// Cities returns the known cities in lexical order.
func (t *Table) Cities() []string {
	out := make([]string, 0, len(t.freq))
	for c := range t.freq {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the table as a city → frequency object.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.freq)
}

// UnmarshalJSON decodes a city → frequency object.
func (t *Table) UnmarshalJSON(data []byte) error {
	var freq map[string]float64
	if err := json.Unmarshal(data, &freq); err != nil {
		return err
	}
	tbl, err := FromFrequencies(freq)
	if err != nil {
		return err
	}
	t.freq = tbl.freq
	return nil
}

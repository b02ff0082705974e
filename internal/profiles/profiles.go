// Package profiles holds per-user historical amount statistics and the
// amount anomaly check built on them.
package profiles

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AnomalyFactor is the multiple of a user's mean amount above which an
// amount is flagged.
const AnomalyFactor = 3.0

// Store maps user → profile. It is immutable after construction; a
// retraining pass produces a new Store.
type Store struct {
	byUser map[int]domain.UserAmountProfile
}

// Build computes mean, sample standard deviation and count for every user
// present in txs. Users with a single row get a standard deviation of 0.
func Build(txs []domain.Transaction) *Store {
	type acc struct {
		n    int
		sum  float64
		vals []float64
	}
	accs := make(map[int]*acc)
	for _, tx := range txs {
		a, ok := accs[tx.User]
		if !ok {
			a = &acc{}
			accs[tx.User] = a
		}
		a.n++
		a.sum += tx.Amount
		a.vals = append(a.vals, tx.Amount)
	}

	byUser := make(map[int]domain.UserAmountProfile, len(accs))
	for user, a := range accs {
		mean := a.sum / float64(a.n)
		var std float64
		if a.n > 1 {
			var ss float64
			for _, v := range a.vals {
				d := v - mean
				ss += d * d
			}
			std = math.Sqrt(ss / float64(a.n-1))
		}
		byUser[user] = domain.UserAmountProfile{
			UserID:      user,
			Mean:        mean,
			StdDev:      std,
			SampleCount: a.n,
		}
	}
	return &Store{byUser: byUser}
}

// FromProfiles builds a store from previously computed profiles.
func FromProfiles(ps []domain.UserAmountProfile) (*Store, error) {
	byUser := make(map[int]domain.UserAmountProfile, len(ps))
	for _, p := range ps {
		if p.SampleCount <= 0 {
			return nil, fmt.Errorf("user %d: sample count must be positive", p.UserID)
		}
		if _, dup := byUser[p.UserID]; dup {
			return nil, fmt.Errorf("user %d: duplicate profile", p.UserID)
		}
		byUser[p.UserID] = p
	}
	return &Store{byUser: byUser}, nil
}

// Stats returns the user's profile. Unseen users have none.
func (s *Store) Stats(user int) (domain.UserAmountProfile, bool) {
	p, ok := s.byUser[user]
	return p, ok
}

// CheckAmountFraud is false for a user without a profile; otherwise it
// reports whether |amount| exceeds AnomalyFactor × the user's mean.
func (s *Store) CheckAmountFraud(user int, amount float64) bool {
	p, ok := s.byUser[user]
	if !ok {
		return false
	}
	return math.Abs(amount) > AnomalyFactor*p.Mean
}

// Len returns the number of profiled users.
func (s *Store) Len() int {
	return len(s.byUser)
}

// Profiles returns all profiles ordered by user.
func (s *Store) Profiles() []domain.UserAmountProfile {
	out := make([]domain.UserAmountProfile, 0, len(s.byUser))
	for _, p := range s.byUser {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// MarshalJSON encodes the store as a user-ordered profile list.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Profiles())
}

// UnmarshalJSON decodes a profile list.
func (s *Store) UnmarshalJSON(data []byte) error {
	var ps []domain.UserAmountProfile
	if err := json.Unmarshal(data, &ps); err != nil {
		return err
	}
	st, err := FromProfiles(ps)
	if err != nil {
		return err
	}
	s.byUser = st.byUser
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Transaction represents an incoming card transaction to be decided.
// It is immutable once received and lives for the duration of one decision.
type Transaction struct {
	User   int     `json:"User"`
	City   string  `json:"City"`
	Year   int     `json:"Year"`
	Month  int     `json:"Month"`
	Day    int     `json:"Day"`
	Time   string  `json:"Time"` // "H:MM" or "HH:MM"
	Amount float64 `json:"Amount"`
}

// TransactionFields are the JSON members every transaction body must carry.
var TransactionFields = []string{"User", "City", "Year", "Month", "Day", "Time", "Amount"}

// Required members of the feedback bodies, on top of TransactionFields.
var (
	FeedbackFields           = append(append([]string{}, TransactionFields...), "Is_Fraud")
	MitigationFeedbackFields = append(append([]string{}, TransactionFields...), "Mitigation", "Outcome")
)

// RequireFields returns ErrInvalidInput naming the first of required that
// is absent or null in obj. Names match case-insensitively, as
// encoding/json matches them.
func RequireFields(obj map[string]json.RawMessage, required []string) error {
	for _, name := range required {
		found := false
		for key, v := range obj {
			if strings.EqualFold(key, name) && strings.TrimSpace(string(v)) != "null" {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
		}
	}
	return nil
}

// Validate checks the request-level constraints of a transaction.
// Time parsing is left to the preprocessor.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.City) == "" {
		return fmt.Errorf("%w: City is required", ErrInvalidInput)
	}
	if strings.TrimSpace(t.Time) == "" {
		return fmt.Errorf("%w: Time is required", ErrInvalidInput)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: Amount must be non-negative", ErrInvalidInput)
	}
	return nil
}

// validateLogged is Validate plus a strict Time parse, for records that are
// appended to a feedback log and later trained on.
func (t Transaction) validateLogged() error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := ParseClock(t.Time); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// Clock is an hour and minute parsed from a transaction's Time field.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock strictly parses "H:MM" / "HH:MM".
// A missing separator, extra parts, non-numeric parts or out-of-range values
// return ErrInvalidTime.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Clock{}, fmt.Errorf("%w: hour %q", ErrInvalidTime, parts[0])
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Clock{}, fmt.Errorf("%w: minute %q", ErrInvalidTime, parts[1])
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q out of range", ErrInvalidTime, s)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// FeatureVector is the ordered model input derived from a Transaction.
// Field order is the column order used for training and prediction.
type FeatureVector struct {
	User         float64
	Year         float64
	Month        float64
	Day          float64
	Hour         float64
	Minute       float64
	CityEncoded  float64
	AmountScaled float64
}

// FeatureCount is the length of FeatureVector.Values.
const FeatureCount = 8

// FeatureNames lists the columns in FeatureVector order.
var FeatureNames = [FeatureCount]string{
	"User", "Year", "Month", "Day", "Hour", "Minute", "City_encoded", "Amount_scaled",
}

// Values returns the vector in column order.
func (v FeatureVector) Values() [FeatureCount]float64 {
	return [FeatureCount]float64{
		v.User, v.Year, v.Month, v.Day, v.Hour, v.Minute, v.CityEncoded, v.AmountScaled,
	}
}

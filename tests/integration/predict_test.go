//go:build integration
// +build integration

// Package integration provides end-to-end tests for a running Kestrel server.
//
// These tests verify the COMPLETE decision and feedback loop:
//
//	Transaction → Classifier + Amount profile + City rarity → Fusion → Risk → Mitigation
//	Feedback → Retrain (async) → New generation → Promote → Reload
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must have a promoted generation:
//
//	kestrel train && kestrel serve
//
// UNDERSTANDING THE DOMAIN:
//
// 1. SIGNALS: three independent fraud signals per transaction
//   - Classifier: probability from the trained model (fraud if p ≥ 0.5)
//   - Amount anomaly: amount more than 3× the user's historical mean
//   - City rarity: city seen in less than 0.1% of historical transactions
//
// 2. POLICY: how signals become one verdict (ml_first, amount_first,
// city_first, majority, balanced). The server's policy is fixed at startup.
//
// 3. RISK SCORE: 0..100 from p×70 + amount deviation×20 + 10 at night.
//
// 4. GENERATION: immutable bundle of classifier, scaler, rarity table and
// profiles. Retraining publishes a new one; promotion and reload serve it.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// Transaction is the body of POST /predict.
type Transaction struct {
	User   int     `json:"User"`
	City   string  `json:"City"`
	Year   int     `json:"Year"`
	Month  int     `json:"Month"`
	Day    int     `json:"Day"`
	Time   string  `json:"Time"`
	Amount float64 `json:"Amount"`
}

// Analysis is the verbose decision breakdown.
type Analysis struct {
	MLPrediction    bool    `json:"mlPrediction"`
	AmountFraud     bool    `json:"amountFraud"`
	CityFraud       bool    `json:"cityFraud"`
	CityRiskScore   float64 `json:"cityRiskScore"`
	Policy          string  `json:"policy"`
	FinalPrediction bool    `json:"finalPrediction"`
	DecisionReason  string  `json:"decisionReason"`
}

// PredictResponse is the response from POST /predict?verbose=true.
type PredictResponse struct {
	Prediction   string    `json:"prediction"`
	RiskScore    int       `json:"risk_score"`
	Mitigation   string    `json:"mitigation"`
	Pattern      string    `json:"pattern"`
	DecisionID   string    `json:"decision_id"`
	GenerationID string    `json:"generation_id"`
	Analysis     *Analysis `json:"analysis"`
}

// ============================================================================
// Helpers
// ============================================================================

func post(t *testing.T, config TestConfig, path string, body any) (int, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(config.BaseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func predict(t *testing.T, config TestConfig, tx Transaction) PredictResponse {
	t.Helper()

	status, body := post(t, config, "/predict?verbose=true", tx)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result PredictResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

// ============================================================================
// SCENARIO 1: Daytime transaction from a new user
// ============================================================================

func TestNewUserDaytime(t *testing.T) {
	/*
	   SCENARIO: a user with no history pays 50 at 14:30

	   EXPECTED BEHAVIOR:
	   - No profile → amount signal false, deviation neutral (1) → +20 risk
	   - 14:30 is daytime → no night bonus
	   - Verdict depends on the classifier, but the response is well formed
	*/
	config := getTestConfig()

	result := predict(t, config, Transaction{User: 987654321, City: "Austin", Year: 2024, Month: 3, Day: 9, Time: "14:30", Amount: 50})

	if result.Prediction != "FRAUD" && result.Prediction != "NOT FRAUD" {
		t.Errorf("Unexpected prediction %q", result.Prediction)
	}
	if result.RiskScore < 20 || result.RiskScore > 90 {
		t.Errorf("Expected risk in [20, 90] for a daytime new user, got %d", result.RiskScore)
	}
	if result.Analysis == nil || result.Analysis.AmountFraud {
		t.Errorf("New user must not trip the amount signal: %+v", result.Analysis)
	}
	if result.Mitigation == "" {
		t.Error("Expected a mitigation suggestion")
	}

	t.Logf("✓ New user: prediction=%s risk=%d pattern=%q", result.Prediction, result.RiskScore, result.Pattern)
}

// ============================================================================
// SCENARIO 2: Verdict and analysis agree
// ============================================================================

func TestVerdictMatchesAnalysis(t *testing.T) {
	config := getTestConfig()

	result := predict(t, config, Transaction{User: 1, City: "Austin", Year: 2024, Month: 3, Day: 9, Time: "23:45", Amount: 5000})

	if result.Analysis == nil {
		t.Fatal("Expected analysis in verbose mode")
	}
	if (result.Prediction == "FRAUD") != result.Analysis.FinalPrediction {
		t.Errorf("Prediction %q disagrees with analysis %+v", result.Prediction, result.Analysis)
	}
	if result.RiskScore < 10 {
		t.Errorf("Night transaction must carry the time bonus, got risk %d", result.RiskScore)
	}
	if result.GenerationID == "" || result.DecisionID == "" {
		t.Error("Expected generation_id and decision_id in verbose mode")
	}
}

// ============================================================================
// SCENARIO 3: Malformed time is rejected, not guessed
// ============================================================================

func TestMalformedTimeRejected(t *testing.T) {
	config := getTestConfig()

	status, body := post(t, config, "/predict", Transaction{User: 1, City: "Austin", Year: 2024, Month: 3, Day: 9, Time: "noon", Amount: 10})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed time, got %d: %s", status, string(body))
	}
}

// ============================================================================
// SCENARIO 4: Feedback loop
// ============================================================================

func TestFeedbackAndRetrain(t *testing.T) {
	/*
	   SCENARIO: an analyst confirms fraud, records a successful mitigation,
	   and requests a retrain.

	   EXPECTED BEHAVIOR:
	   - Both feedback appends return 200 with a message
	   - Invalid enum values are rejected with 400
	   - POST /retrain returns 202; the worker publishes an unpromoted generation
	*/
	config := getTestConfig()

	tx := map[string]any{"User": 4242, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "2:10", "Amount": 9000.0}

	fb := map[string]any{"Is_Fraud": "Yes"}
	for k, v := range tx {
		fb[k] = v
	}
	if status, body := post(t, config, "/feedback", fb); status != http.StatusOK {
		t.Fatalf("Feedback failed: %d %s", status, string(body))
	}

	fb["Is_Fraud"] = "Probably"
	if status, _ := post(t, config, "/feedback", fb); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid Is_Fraud, got %d", status)
	}

	partial := map[string]any{"City": "Reno", "Time": "2:10", "Is_Fraud": "Yes"}
	if status, _ := post(t, config, "/feedback", partial); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for feedback without User and Amount, got %d", status)
	}

	mf := map[string]any{"Mitigation": "Freeze the card.", "Outcome": "Success"}
	for k, v := range tx {
		mf[k] = v
	}
	if status, body := post(t, config, "/mitigation_feedback", mf); status != http.StatusOK {
		t.Fatalf("Mitigation feedback failed: %d %s", status, string(body))
	}

	status, body := post(t, config, "/retrain", map[string]any{})
	if status != http.StatusAccepted {
		t.Fatalf("Expected 202 from /retrain, got %d: %s", status, string(body))
	}

	t.Logf("✓ Feedback recorded and retrain queued: %s", string(body))
}

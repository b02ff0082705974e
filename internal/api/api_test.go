package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profiles"
	"github.com/opensource-finance/kestrel/internal/repository"
)

type fixedAdvisor struct{}

func (fixedAdvisor) Suggest(ctx context.Context, req advisor.Request) advisor.Suggestion {
	return advisor.Suggestion{Text: "Call the cardholder.", Source: advisor.SourceRemote}
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

type testEnv struct {
	server      *Server
	detector    *detector.Detector
	generations *artifact.Manager
	feedback    *feedback.CSVStore
	bus         *bus.ChannelBus
}

func testGeneration(id string) *artifact.Generation {
	m := &model.Logistic{Kind: model.Kind, Bias: -20}
	for j := range m.Std {
		m.Std[j] = 1
	}
	return &artifact.Generation{
		ID:         id,
		Classifier: m,
		Scaler:     features.FitScaler([]float64{10, 100, 1000}),
		Cities:     cities.Build([]string{"Austin", "Austin", "Austin", "Reno"}),
		Profiles: profiles.Build([]domain.Transaction{
			{User: 1, City: "Austin", Time: "10:00", Amount: 100},
		}),
		Manifest: artifact.Manifest{ID: id, Source: domain.SourceTrain, CreatedAt: time.Now().UTC()},
	}
}

// createTestServer wires a server over a temporary sqlite registry, an
// artifact store and CSV feedback logs. No generation is published.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := repository.New(ctx, domain.RepositoryConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "kestrel.db")})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := artifact.NewStore(filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	generations := artifact.NewManager(store, repo)

	fb, err := feedback.NewCSVStore(filepath.Join(dir, "feedback"))
	if err != nil {
		t.Fatalf("NewCSVStore failed: %v", err)
	}

	events := bus.NewChannelBus(10)
	t.Cleanup(func() { events.Close() })

	det := detector.New(fusion.Balanced, fixedAdvisor{})

	server := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080}, Deps{
		Detector:    det,
		Recorder:    feedback.NewRecorder(fb, events),
		Generations: generations,
		Bus:         events,
		Checks:      map[string]Pinger{"repository": repo, "event_bus": events},
		Version:     "test-v1",
	})

	return &testEnv{server: server, detector: det, generations: generations, feedback: fb, bus: events}
}

// serve publishes and promotes a generation, then reloads the detector.
func (e *testEnv) serve(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.generations.Publish(ctx, testGeneration(id)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if _, err := e.generations.Promote(ctx, id); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if _, err := e.detector.Reload(ctx, e.generations); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

var validTx = map[string]any{
	"User": 99, "City": "Austin", "Year": 2024, "Month": 3, "Day": 9, "Time": "14:30", "Amount": 50.0,
}

func TestPredictEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("NotServing", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", validTx)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	env.serve(t, "g1")

	t.Run("Decision", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", validTx)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]any
		decode(t, rr, &resp)
		if resp["prediction"] != domain.VerdictNotFraud {
			t.Errorf("expected NOT FRAUD, got %v", resp["prediction"])
		}
		if resp["mitigation"] != "Call the cardholder." {
			t.Errorf("unexpected mitigation: %v", resp["mitigation"])
		}
		if _, ok := resp["risk_score"]; !ok {
			t.Error("expected risk_score in response")
		}
		if _, ok := resp["analysis"]; ok {
			t.Error("analysis must only be returned in verbose mode")
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
	})

	t.Run("Verbose", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict?verbose=true", validTx)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp PredictResponse
		decode(t, rr, &resp)
		if resp.GenerationID != "g1" {
			t.Errorf("expected generation g1, got %q", resp.GenerationID)
		}
		if resp.DecisionID == "" {
			t.Error("expected decision_id in verbose response")
		}
		if resp.Analysis == nil || resp.Analysis.Policy != "balanced" {
			t.Errorf("expected balanced analysis, got %+v", resp.Analysis)
		}
	})

	t.Run("MalformedTime", func(t *testing.T) {
		tx := map[string]any{"User": 1, "City": "Austin", "Year": 2024, "Month": 3, "Day": 9, "Time": "25:99", "Amount": 10.0}
		rr := env.do(http.MethodPost, "/predict", tx)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestFeedbackEndpoints(t *testing.T) {
	env := createTestServer(t)
	ctx := context.Background()

	t.Run("Feedback", func(t *testing.T) {
		body := map[string]any{
			"User": 7, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "23:10", "Amount": 9000.0, "Is_Fraud": "Yes",
		}
		rr := env.do(http.MethodPost, "/feedback", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["message"] != "Feedback recorded successfully." {
			t.Errorf("unexpected message: %q", resp["message"])
		}

		recs, err := env.feedback.ListFeedback(ctx)
		if err != nil {
			t.Fatalf("ListFeedback failed: %v", err)
		}
		if len(recs) != 1 || recs[0].User != 7 || !recs[0].Fraud() {
			t.Errorf("unexpected feedback log: %+v", recs)
		}
	})

	t.Run("InvalidLabel", func(t *testing.T) {
		body := map[string]any{
			"User": 7, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "23:10", "Amount": 9000.0, "Is_Fraud": "maybe",
		}
		rr := env.do(http.MethodPost, "/feedback", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Mitigation", func(t *testing.T) {
		body := map[string]any{
			"User": 7, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "23:10", "Amount": 9000.0,
			"Mitigation": "Block the card.", "Outcome": "Success",
		}
		rr := env.do(http.MethodPost, "/mitigation_feedback", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["message"] != "Mitigation feedback recorded successfully." {
			t.Errorf("unexpected message: %q", resp["message"])
		}
	})

	t.Run("InvalidOutcome", func(t *testing.T) {
		body := map[string]any{
			"User": 7, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "23:10", "Amount": 9000.0,
			"Mitigation": "Block the card.", "Outcome": "Partial",
		}
		rr := env.do(http.MethodPost, "/mitigation_feedback", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestGenerationEndpoints(t *testing.T) {
	env := createTestServer(t)
	env.serve(t, "g1")
	if _, err := env.generations.Publish(context.Background(), testGeneration("g2")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	t.Run("List", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/generations", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Generations []domain.GenerationInfo `json:"generations"`
			Count       int                     `json:"count"`
			Serving     string                  `json:"serving"`
		}
		decode(t, rr, &resp)
		if resp.Count != 2 || resp.Serving != "g1" {
			t.Errorf("unexpected listing: %+v", resp)
		}
	})

	t.Run("PromoteUnknown", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/generations/nope/promote", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("PromoteThenReload", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/generations/g2/promote", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		// Promotion alone does not change what is served.
		if env.detector.GenerationID() != "g1" {
			t.Errorf("expected g1 still serving, got %q", env.detector.GenerationID())
		}

		rr = env.do(http.MethodPost, "/generations/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["generation_id"] != "g2" || resp["previous"] != "g1" {
			t.Errorf("unexpected reload response: %v", resp)
		}
	})

	t.Run("Rollback", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/generations/rollback", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Generation domain.GenerationInfo `json:"generation"`
		}
		decode(t, rr, &resp)
		if resp.Generation.ID != "g1" {
			t.Errorf("expected rollback to g1, got %q", resp.Generation.ID)
		}
	})

	t.Run("RollbackExhausted", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/generations/rollback", nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRetrainEndpoint(t *testing.T) {
	env := createTestServer(t)

	received := make(chan domain.RetrainRequest, 1)
	_, err := env.bus.Subscribe(context.Background(), domain.TopicRetrainRequested, func(ctx context.Context, msg *domain.Message) error {
		var req domain.RetrainRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return err
		}
		received <- req
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	rr := env.do(http.MethodPost, "/retrain", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decode(t, rr, &resp)

	select {
	case req := <-received:
		if req.RequestID != resp["request_id"] {
			t.Errorf("request id mismatch: %q vs %q", req.RequestID, resp["request_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retrain request was not published")
	}
}

func TestHealthAndReady(t *testing.T) {
	env := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Status  string            `json:"status"`
			Version string            `json:"version"`
			Checks  map[string]string `json:"checks"`
		}
		decode(t, rr, &resp)
		if resp.Status != "healthy" || resp.Version != "test-v1" || resp.Checks["repository"] != "up" {
			t.Errorf("unexpected health: %+v", resp)
		}
	})

	t.Run("Degraded", func(t *testing.T) {
		h := NewHandler(Deps{Detector: env.detector, Checks: map[string]Pinger{"redis": failingPinger{}}})
		rr := httptest.NewRecorder()
		h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp map[string]any
		decode(t, rr, &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected degraded, got %v", resp["status"])
		}
	})

	t.Run("NotReady", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		env.serve(t, "g1")
		rr := env.do(http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !bytes.Contains(rr.Body.Bytes(), []byte("kestrel_http_requests_total")) {
			t.Error("expected kestrel_http_requests_total in metrics output")
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	preflight := func(srv *Server, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("AnyOrigin", func(t *testing.T) {
		env := createTestServer(t)
		rr := preflight(env.server, "https://analyst.example")

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://analyst.example" {
			t.Errorf("unexpected allow-origin: %q", got)
		}
	})

	t.Run("Allowlist", func(t *testing.T) {
		srv := NewServer(domain.ServerConfig{CORSOrigins: []string{"https://ops.example"}}, Deps{})

		if rr := preflight(srv, "https://ops.example"); rr.Code != http.StatusNoContent {
			t.Errorf("listed origin: expected 204, got %d", rr.Code)
		}
		rr := preflight(srv, "https://evil.example")
		if rr.Code != http.StatusForbidden {
			t.Errorf("unlisted origin: expected 403, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin must not be echoed, got %q", got)
		}
	})
}

func TestRecoverMiddleware(t *testing.T) {
	env := createTestServer(t)
	env.server.Router().Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("model exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-boom")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if got := rr.Header().Get(RequestIDHeader); got != "req-boom" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), "internal server error") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

// without returns a copy of body with field removed.
func without(body map[string]any, field string) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k != field {
			out[k] = v
		}
	}
	return out
}

func TestRequiredFields(t *testing.T) {
	env := createTestServer(t)
	env.serve(t, "g1")
	ctx := context.Background()

	feedbackBody := map[string]any{
		"User": 7, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "23:10", "Amount": 9000.0, "Is_Fraud": "Yes",
	}
	mitigationBody := map[string]any{
		"User": 7, "City": "Reno", "Year": 2024, "Month": 1, "Day": 2, "Time": "23:10", "Amount": 9000.0,
		"Mitigation": "Block the card.", "Outcome": "Success",
	}

	endpoints := []struct {
		path   string
		body   map[string]any
		fields []string
	}{
		{"/predict", validTx, domain.TransactionFields},
		{"/feedback", feedbackBody, domain.FeedbackFields},
		{"/mitigation_feedback", mitigationBody, domain.MitigationFeedbackFields},
	}
	for _, ep := range endpoints {
		for _, field := range ep.fields {
			t.Run(ep.path+"/Missing"+field, func(t *testing.T) {
				rr := env.do(http.MethodPost, ep.path, without(ep.body, field))
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
				}
				var resp map[string]string
				decode(t, rr, &resp)
				if !strings.Contains(resp["error"], field) {
					t.Errorf("expected error to name %s, got %q", field, resp["error"])
				}
			})
		}
	}

	t.Run("NullField", func(t *testing.T) {
		body := without(validTx, "User")
		body["User"] = nil
		if rr := env.do(http.MethodPost, "/predict", body); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("WrongType", func(t *testing.T) {
		body := without(validTx, "Amount")
		body["Amount"] = "lots"
		if rr := env.do(http.MethodPost, "/predict", body); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NotAnObject", func(t *testing.T) {
		if rr := env.do(http.MethodPost, "/predict", "[1,2,3]"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MalformedTimeFeedback", func(t *testing.T) {
		body := without(feedbackBody, "Time")
		body["Time"] = "noon"
		if rr := env.do(http.MethodPost, "/feedback", body); rr.Code != http.StatusBadRequest {
			t.Errorf("feedback: expected status 400, got %d", rr.Code)
		}

		body = without(mitigationBody, "Time")
		body["Time"] = "noon"
		if rr := env.do(http.MethodPost, "/mitigation_feedback", body); rr.Code != http.StatusBadRequest {
			t.Errorf("mitigation: expected status 400, got %d", rr.Code)
		}
	})

	// Nothing rejected above reached either log.
	recs, err := env.feedback.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty feedback log, got %+v", recs)
	}
	mits, err := env.feedback.ListMitigationFeedback(ctx)
	if err != nil {
		t.Fatalf("ListMitigationFeedback failed: %v", err)
	}
	if len(mits) != 0 {
		t.Errorf("expected empty mitigation log, got %+v", mits)
	}
}

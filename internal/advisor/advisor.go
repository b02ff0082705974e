// Package advisor suggests a mitigation action for a scored transaction,
// asking an external text generation service and falling back to a local
// rule table on any failure.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Suggestion sources.
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonDisabled = "disabled"
	ReasonRequest  = "request"
	ReasonTimeout  = "timeout"
	ReasonStatus   = "status"
	ReasonPayload  = "payload"
	ReasonEmpty    = "empty"
)

const maxResponseBytes = 1 << 20

// Request is what the advisor knows about a scored transaction.
type Request struct {
	RiskScore int
	Amount    float64
	Time      string
	City      string
}

func (r Request) hour() int {
	c, err := domain.ParseClock(r.Time)
	if err != nil {
		return -1
	}
	return c.Hour
}

// Suggestion is the advisor's answer.
type Suggestion struct {
	Text   string
	Source string
	// Reason is set for fallback suggestions.
	Reason string
}

// Advisor calls the text generation endpoint once per request with a bounded
// timeout. It never retries.
type Advisor struct {
	url      string
	token    string
	client   *http.Client
	fallback *FallbackTable
	printer  *message.Printer
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Advisor) { a.client = c }
}

// New creates an advisor from configuration.
func New(cfg domain.AdvisorConfig, opts ...Option) (*Advisor, error) {
	table, err := NewFallbackTable(cfg.FallbackRules)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &Advisor{
		url:      cfg.URL,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
		fallback: table,
		printer:  message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Prompt renders the text sent to the generation service.
func (a *Advisor) Prompt(req Request) string {
	return a.printer.Sprintf(
		"Suggest a mitigation for a transaction with risk score %d, amount %.0f, at %s in %s. Be concise and actionable.",
		req.RiskScore, req.Amount, req.Time, req.City,
	)
}

// Suggest returns a mitigation. It never fails: every remote error is
// absorbed into a fallback suggestion.
func (a *Advisor) Suggest(ctx context.Context, req Request) Suggestion {
	if a.url == "" {
		return a.fallbackFor(req, ReasonDisabled, nil)
	}

	text, reason, err := a.remote(ctx, req)
	if err != nil {
		return a.fallbackFor(req, reason, err)
	}
	return Suggestion{Text: text, Source: SourceRemote}
}

// Fallback returns the local table's action for req.
func (a *Advisor) Fallback(req Request) string {
	return a.fallback.Action(req)
}

func (a *Advisor) fallbackFor(req Request, reason string, err error) Suggestion {
	metrics.AdvisorFallbacksTotal.WithLabelValues(reason).Inc()
	if err != nil {
		slog.Warn("advisor fallback",
			"reason", reason,
			"risk_score", req.RiskScore,
			"error", err,
		)
	}
	return Suggestion{Text: a.fallback.Action(req), Source: SourceFallback, Reason: reason}
}

func (a *Advisor) remote(ctx context.Context, req Request) (string, string, error) {
	body, err := json.Marshal(map[string]any{
		"inputs":  a.Prompt(req),
		"options": map[string]any{"wait_for_model": true},
	})
	if err != nil {
		return "", ReasonRequest, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", ReasonRequest, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", ReasonTimeout, err
		}
		return "", ReasonRequest, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return "", ReasonTimeout, err
		}
		return "", ReasonRequest, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ReasonStatus, fmt.Errorf("advisor returned status %d", resp.StatusCode)
	}

	text, ok := ParseGenerated(raw)
	if !ok {
		return "", ReasonPayload, fmt.Errorf("unrecognized advisor payload")
	}
	if text == "" {
		return "", ReasonEmpty, errors.New("advisor returned empty text")
	}
	return text, "", nil
}

// ParseGenerated extracts the first line of generated text from one of
// [{"generated_text": ...}], {"generated_text": ...} or [{"text": ...}].
// ok is false for any other shape.
func ParseGenerated(raw []byte) (string, bool) {
	if !gjson.ValidBytes(raw) {
		return "", false
	}
	doc := gjson.ParseBytes(raw)

	var field gjson.Result
	switch {
	case doc.IsArray():
		first := doc.Get("0")
		if !first.IsObject() {
			return "", false
		}
		field = first.Get("generated_text")
		if !field.Exists() {
			field = first.Get("text")
		}
	case doc.IsObject():
		field = doc.Get("generated_text")
	default:
		return "", false
	}

	if !field.Exists() || field.Type != gjson.String {
		return "", false
	}
	line, _, _ := strings.Cut(field.String(), "\n")
	return strings.TrimSpace(line), true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

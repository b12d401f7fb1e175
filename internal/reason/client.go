package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ticket-triage/backend/internal/triage"
)

// Classifier is the boundary to the external reasoning service. Its
// internals (prompting, retrieval, multi-step reasoning) are consumed
// here as an opaque HTTP contract.
type Classifier interface {
	Classify(ctx context.Context, ticket triage.SanitizedTicket) (triage.ClassificationResult, error)
	Health(ctx context.Context) error
}

// Config holds reasoning service connection parameters.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// ErrNotConfigured is returned when no reasoning endpoint is set.
var ErrNotConfigured = errors.New("reason: endpoint not configured")

// Client implements Classifier over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient constructs a reasoning client if the configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}, nil
}

// Classify submits the sanitized ticket and decodes the classification
// result. Unreachable or non-2xx responses are transient failures left
// to the queue's retry mechanism; an undecodable body is permanent.
func (c *Client) Classify(ctx context.Context, ticket triage.SanitizedTicket) (triage.ClassificationResult, error) {
	body, err := json.Marshal(ticket)
	if err != nil {
		return triage.ClassificationResult{}, triage.Permanent(fmt.Errorf("marshal ticket: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process_ticket", bytes.NewReader(body))
	if err != nil {
		return triage.ClassificationResult{}, triage.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return triage.ClassificationResult{}, triage.Transient(fmt.Errorf("reasoning request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return triage.ClassificationResult{}, triage.Transient(fmt.Errorf("reasoning status %d", resp.StatusCode))
	}

	var result triage.ClassificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return triage.ClassificationResult{}, triage.Permanent(fmt.Errorf("decode classification: %w", err))
	}

	sanitizeResult(&result, ticket)
	return result, nil
}

// Health probes the reasoning service liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reasoning health status %d", resp.StatusCode)
	}
	return nil
}

// sanitizeResult clamps scores and backfills identity fields so a sparse
// upstream response still correlates with the ticket it answered.
func sanitizeResult(result *triage.ClassificationResult, ticket triage.SanitizedTicket) {
	if result.TicketID == "" {
		result.TicketID = ticket.TicketID
	}
	if result.IssueKey == "" {
		result.IssueKey = ticket.IssueKey
	}
	result.Confidence = clampConfidence(result.Confidence)
	result.Classification.Confidence = clampConfidence(result.Classification.Confidence)
	if result.Confidence == 0 {
		result.Confidence = result.Classification.Confidence
	}
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ticket-triage/backend/internal/intake"
	"ticket-triage/backend/internal/queue"
	"ticket-triage/backend/internal/redact"
	"ticket-triage/backend/internal/store"
	"ticket-triage/backend/internal/triage"
)

type stubClassifier struct {
	healthErr error
}

func (s *stubClassifier) Classify(context.Context, triage.SanitizedTicket) (triage.ClassificationResult, error) {
	return triage.ClassificationResult{}, errors.New("not used")
}
func (s *stubClassifier) Health(context.Context) error { return s.healthErr }

func newTestServer(t *testing.T, classifier *stubClassifier) (*Server, *queue.Memory, *store.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "triage.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	transport := queue.NewMemory(queue.MemoryConfig{})
	ingestor := intake.NewIngestor(redact.NewEngine(nil), transport, nil)

	server, err := NewServer(Config{}, db, ingestor, classifier, transport)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server, transport, db
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	router, err := server.Router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func webhookBody(key, summary, description string) map[string]any {
	return map[string]any{
		"webhookEvent": "jira:issue_created",
		"issue": map[string]any{
			"id":  "10001",
			"key": key,
			"fields": map[string]any{
				"summary":     summary,
				"description": description,
				"priority":    map[string]string{"name": "Medium"},
				"reporter": map[string]string{
					"displayName":  "Reporter",
					"emailAddress": "r@company.com",
				},
			},
		},
	}
}

func TestWebhookAccepted(t *testing.T) {
	server, transport, _ := newTestServer(t, &stubClassifier{})

	rec := doRequest(t, server, http.MethodPost, "/api/webhook",
		webhookBody("HELP-1", "Login broken", "Contact me at a@b.com"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp WebhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IssueKey != "HELP-1" || resp.Status != "accepted" {
		t.Fatalf("unexpected response %+v", resp)
	}

	pending, _ := transport.Depth(queue.LaneSanitized)
	if pending != 1 {
		t.Fatalf("ticket not queued: %d pending", pending)
	}
}

func TestWebhookInvalidPayload(t *testing.T) {
	server, transport, _ := newTestServer(t, &stubClassifier{})

	tests := []struct {
		name string
		body any
	}{
		{"missing issue", map[string]any{"webhookEvent": "jira:issue_created"}},
		{"missing key", map[string]any{"issue": map[string]any{"fields": map[string]any{"summary": "x"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, server, http.MethodPost, "/api/webhook", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
		})
	}
	if pending, _ := transport.Depth(queue.LaneSanitized); pending != 0 {
		t.Fatalf("invalid payload queued: %d", pending)
	}
}

func TestHealthDegradedWhenReasoningDown(t *testing.T) {
	server, _, _ := newTestServer(t, &stubClassifier{healthErr: errors.New("connection refused")})

	rec := doRequest(t, server, http.MethodGet, "/api/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.ReasoningStatus != "unreachable" {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestHealthOK(t *testing.T) {
	server, _, _ := newTestServer(t, &stubClassifier{})
	rec := doRequest(t, server, http.MethodGet, "/api/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func seedDecision(t *testing.T, db *store.Database, eventID, ticketID, action string) {
	t.Helper()
	entry := &store.DecisionEntry{
		EventID:    eventID,
		TicketID:   ticketID,
		IssueKey:   "HELP-" + ticketID,
		Timestamp:  time.Now().UTC(),
		Department: "IT",
		Action:     action,
		Confidence: 0.9,
	}
	entry.SetPolicyReasons([]string{"low confidence"})
	entry.SetCitations(nil)
	if err := db.AppendDecision(entry); err != nil {
		t.Fatalf("seed decision: %v", err)
	}
}

func TestListAndPendingDecisions(t *testing.T) {
	server, _, db := newTestServer(t, &stubClassifier{})
	seedDecision(t, db, "ev-1", "1", store.ActionAutoUpdate)
	seedDecision(t, db, "ev-2", "2", store.ActionHumanReview)

	rec := doRequest(t, server, http.MethodGet, "/api/decisions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp DecisionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 decisions got %d", resp.Total)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/decisions/pending", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].EventID != "ev-2" {
		t.Fatalf("pending filter broken: %+v", resp)
	}
}

func TestTicketDecisionLookup(t *testing.T) {
	server, _, db := newTestServer(t, &stubClassifier{})
	seedDecision(t, db, "ev-1", "42", store.ActionAutoUpdate)

	rec := doRequest(t, server, http.MethodGet, "/api/decisions/ticket/42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/decisions/ticket/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestReviewEndpoint(t *testing.T) {
	server, _, db := newTestServer(t, &stubClassifier{})
	seedDecision(t, db, "ev-r", "7", store.ActionHumanReview)

	rec := doRequest(t, server, http.MethodPost, "/api/decisions/ev-r/review",
		ReviewRequest{Reviewer: "alex", Note: "confirmed routing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var dto DecisionDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.ReviewedBy != "alex" || dto.ReviewedAt == nil {
		t.Fatalf("review not attached: %+v", dto)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/decisions/ev-r/review",
		ReviewRequest{Reviewer: "sam"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second review expected 409 got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/decisions/missing/review",
		ReviewRequest{Reviewer: "sam"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing entry expected 404 got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/decisions/ev-r/review",
		ReviewRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing reviewer expected 400 got %d", rec.Code)
	}
}

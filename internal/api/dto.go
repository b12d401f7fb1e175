package api

import (
	"encoding/json"
	"strings"
	"time"

	"ticket-triage/backend/internal/store"
)

// WebhookResponse acknowledges an accepted webhook event.
type WebhookResponse struct {
	Status         string   `json:"status"`
	IssueKey       string   `json:"issue_key"`
	RedactionFlags []string `json:"redaction_flags"`
}

// DecisionDTO is the API representation of a persisted decision entry.
type DecisionDTO struct {
	EventID          string         `json:"event_id"`
	TicketID         string         `json:"ticket_id"`
	IssueKey         string         `json:"issue_key"`
	Timestamp        time.Time      `json:"timestamp"`
	InputHash        string         `json:"input_hash,omitempty"`
	Department       string         `json:"department,omitempty"`
	Team             string         `json:"team,omitempty"`
	Action           string         `json:"action"`
	PolicyReasons    []string       `json:"policy_reasons"`
	Citations        []string       `json:"citations"`
	GeneratedComment string         `json:"generated_comment,omitempty"`
	ModelUsed        string         `json:"model_used,omitempty"`
	Confidence       float64        `json:"confidence"`
	LatencyMs        int64          `json:"latency_ms"`
	ReviewedBy       string         `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNote       string         `json:"review_note,omitempty"`
	Classification   map[string]any `json:"classification,omitempty"`
}

// DecisionsResponse is the paginated decision listing payload.
type DecisionsResponse struct {
	Items []DecisionDTO `json:"items"`
	Total int64         `json:"total"`
}

// ReviewRequest records a human reviewer outcome against a pending entry.
type ReviewRequest struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

// HealthResponse reports pipeline liveness including the reasoning
// dependency.
type HealthResponse struct {
	Status          string `json:"status"`
	ReasoningStatus string `json:"reasoning_status"`
	PendingReviews  int64  `json:"pending_reviews"`
	QueuedTickets   int    `json:"queued_tickets"`
	InflightTickets int    `json:"inflight_tickets"`
}

// FromModel converts a store.DecisionEntry into the DTO representation.
func FromModel(e store.DecisionEntry) DecisionDTO {
	return DecisionDTO{
		EventID:          e.EventID,
		TicketID:         e.TicketID,
		IssueKey:         e.IssueKey,
		Timestamp:        e.Timestamp,
		InputHash:        e.InputHash,
		Department:       e.Department,
		Team:             e.Team,
		Action:           e.Action,
		PolicyReasons:    emptyIfNil(e.PolicyReasons()),
		Citations:        emptyIfNil(e.Citations()),
		GeneratedComment: strings.TrimSpace(e.GeneratedComment),
		ModelUsed:        e.ModelUsed,
		Confidence:       round2(e.Confidence),
		LatencyMs:        e.LatencyMs,
		ReviewedBy:       e.ReviewedBy,
		ReviewedAt:       e.ReviewedAt,
		ReviewNote:       e.ReviewNote,
		Classification:   decodeClassification(e.ClassificationJSON),
	}
}

func decodeClassification(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SanitizedTicket is a ticket after redaction, safe to hand to the
// reasoning service. Created once by the webhook intake and immutable
// from then on.
type SanitizedTicket struct {
	TicketID           string    `json:"ticket_id"`
	IssueKey           string    `json:"issue_key"`
	Summary            string    `json:"summary"`
	Description        string    `json:"description"`
	IssueType          string    `json:"issue_type,omitempty"`
	Priority           string    `json:"priority,omitempty"`
	Reporter           string    `json:"reporter,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	RedactionFlags     []string  `json:"redaction_flags"`
	SanitizedInputHash string    `json:"sanitized_input_hash,omitempty"`
}

// Classification carries the routing suggestion produced by the
// reasoning service.
type Classification struct {
	Department        string  `json:"department,omitempty"`
	Team              string  `json:"team,omitempty"`
	SuggestedPriority string  `json:"suggested_priority,omitempty"`
	SuggestedAssignee string  `json:"suggested_assignee,omitempty"`
	Confidence        float64 `json:"confidence"`
}

// ClassificationResult is the reasoning service's full response for a
// single ticket. Read-only for the pipeline.
type ClassificationResult struct {
	TicketID         string         `json:"ticket_id"`
	IssueKey         string         `json:"issue_key"`
	Classification   Classification `json:"classification"`
	GeneratedComment string         `json:"generated_comment,omitempty"`
	Citations        []string       `json:"citations,omitempty"`
	PolicyFlags      []string       `json:"policy_flags,omitempty"`
	Confidence       float64        `json:"confidence"`
	ModelUsed        string         `json:"model_used,omitempty"`
	LatencyMs        int64          `json:"latency_ms,omitempty"`
}

// PolicyVerdict is the governance decision for one ticket. Recomputing
// it from identical inputs yields an identical verdict.
type PolicyVerdict struct {
	RequiresHumanReview bool     `json:"requires_human_review"`
	Reasons             []string `json:"reasons,omitempty"`
}

// PendingReview is the record queued on the enriched lane when a
// verdict requires a human decision.
type PendingReview struct {
	Ticket  SanitizedTicket      `json:"ticket"`
	Result  ClassificationResult `json:"result"`
	Verdict PolicyVerdict        `json:"verdict"`
}

// ContentHash fingerprints sanitized text for audit correlation. It is
// not a security boundary, only a stable join key for the decision log.
func ContentHash(summary, description string) string {
	sum := sha256.Sum256([]byte(summary + "\n" + description))
	return hex.EncodeToString(sum[:])
}

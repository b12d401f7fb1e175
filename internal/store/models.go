package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Actions recorded on a decision entry.
const (
	ActionAutoUpdate   = "auto_update"
	ActionHumanReview  = "human_review"
	ActionUpdateFailed = "update_failed"
)

// DecisionEntry is one immutable triage outcome. The original fields are
// written exactly once; only the reviewer-outcome fields may be filled
// in later, and only once.
type DecisionEntry struct {
	EventID            string    `gorm:"primaryKey;size:64"`
	TicketID           string    `gorm:"size:64;index"`
	IssueKey           string    `gorm:"size:32;index"`
	Timestamp          time.Time `gorm:"index"`
	InputHash          string    `gorm:"size:64;index"`
	Department         string    `gorm:"size:64;index"`
	Team               string    `gorm:"size:64"`
	ClassificationJSON string    `gorm:"type:text"`
	CitationsJSON      string    `gorm:"type:text"`
	PolicyReasonsJSON  string    `gorm:"type:text"`
	GeneratedComment   string    `gorm:"type:text"`
	Action             string    `gorm:"size:32;index"`
	ModelUsed          string    `gorm:"size:64"`
	Confidence         float64
	LatencyMs          int64
	ReviewedBy         string `gorm:"size:64"`
	ReviewedAt         *time.Time
	ReviewNote         string    `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
}

// SetClassification persists the classification snapshot as JSON.
func (e *DecisionEntry) SetClassification(v any) {
	payload, _ := json.Marshal(v)
	e.ClassificationJSON = string(payload)
}

// SetCitations saves the citation identifiers as JSON.
func (e *DecisionEntry) SetCitations(citations []string) {
	if citations == nil {
		citations = []string{}
	}
	payload, _ := json.Marshal(citations)
	e.CitationsJSON = string(payload)
}

// Citations returns the decoded citation list.
func (e *DecisionEntry) Citations() []string {
	return decodeStrings(e.CitationsJSON)
}

// SetPolicyReasons saves the verdict's triggering reasons as JSON.
func (e *DecisionEntry) SetPolicyReasons(reasons []string) {
	if reasons == nil {
		reasons = []string{}
	}
	payload, _ := json.Marshal(reasons)
	e.PolicyReasonsJSON = string(payload)
}

// PolicyReasons returns the decoded reason list.
func (e *DecisionEntry) PolicyReasons() []string {
	return decodeStrings(e.PolicyReasonsJSON)
}

func decodeStrings(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

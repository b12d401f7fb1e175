package policy

import (
	"fmt"
	"strings"

	"ticket-triage/backend/internal/redact"
	"ticket-triage/backend/internal/triage"
)

// DefaultConfidenceThreshold gates auto-apply when no override is configured.
const DefaultConfidenceThreshold = 0.7

// Compliance flags derived from the ticket alone.
const (
	FlagSensitivePII = "contains_sensitive_pii"
	FlagHighPriority = "high_priority_ticket"
)

// Classification flags that always force human review.
const (
	FlagHighRisk           = "high_risk"
	FlagComplianceRequired = "compliance_required"
)

// Engine evaluates governance rules over a sanitized ticket and its
// classification. Both operations are pure and total: identical inputs
// always produce identical outputs and there is no error path.
type Engine struct {
	threshold float64
}

// NewEngine builds a policy engine with the supplied confidence
// threshold, falling back to the default when unset.
func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold reports the configured confidence floor.
func (e *Engine) Threshold() float64 { return e.threshold }

// Decide applies the review rules in order and collects every triggered
// reason. Any single rule is sufficient to force human review; confidence
// exactly at the threshold does not trigger the confidence rule.
func (e *Engine) Decide(ticket triage.SanitizedTicket, result triage.ClassificationResult) triage.PolicyVerdict {
	var reasons []string

	confidence := effectiveConfidence(result)
	if confidence < e.threshold {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, e.threshold))
	}

	if hasFlag(ticket.RedactionFlags, redact.FlagEmail) && hasFlag(ticket.RedactionFlags, redact.FlagExternalEmail) {
		reasons = append(reasons, "email content from external reporter")
	}

	for _, flag := range result.PolicyFlags {
		switch strings.ToLower(strings.TrimSpace(flag)) {
		case FlagHighRisk, FlagComplianceRequired:
			reasons = append(reasons, fmt.Sprintf("classification flagged %s", strings.ToLower(strings.TrimSpace(flag))))
		}
	}

	for _, flag := range ticket.RedactionFlags {
		lower := strings.ToLower(flag)
		if strings.Contains(lower, "ssn") || strings.Contains(lower, "credit_card") {
			reasons = append(reasons, fmt.Sprintf("high-sensitivity redaction %s", lower))
		}
	}

	return triage.PolicyVerdict{
		RequiresHumanReview: len(reasons) > 0,
		Reasons:             reasons,
	}
}

// ValidateCompliance derives policy-relevant flags purely from the
// ticket. The orchestrator merges these into the classification's flags
// before Decide runs, so a later evaluation pass can pick them up.
func (e *Engine) ValidateCompliance(ticket triage.SanitizedTicket) []string {
	var flags []string
	for _, flag := range ticket.RedactionFlags {
		if flag != redact.FlagExternalEmail {
			flags = append(flags, FlagSensitivePII)
			break
		}
	}
	switch strings.ToLower(strings.TrimSpace(ticket.Priority)) {
	case "highest", "critical":
		flags = append(flags, FlagHighPriority)
	}
	return flags
}

// effectiveConfidence prefers the result-level score and falls back to
// the nested classification when the top level was left unset.
func effectiveConfidence(result triage.ClassificationResult) float64 {
	if result.Confidence > 0 {
		return result.Confidence
	}
	return result.Classification.Confidence
}

func hasFlag(flags []string, want string) bool {
	for _, flag := range flags {
		if strings.EqualFold(strings.TrimSpace(flag), want) {
			return true
		}
	}
	return false
}

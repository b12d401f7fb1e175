package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ticket-triage/backend/internal/jira"
	"ticket-triage/backend/internal/queue"
	"ticket-triage/backend/internal/redact"
	"ticket-triage/backend/internal/triage"
)

// ErrInvalidPayload is returned when a webhook event is missing the
// fields needed to build a ticket. Nothing is published for these.
var ErrInvalidPayload = errors.New("intake: invalid webhook payload")

// WebhookEvent is the issue-event envelope delivered by the tracker.
type WebhookEvent struct {
	WebhookEvent string      `json:"webhookEvent"`
	Timestamp    int64       `json:"timestamp"`
	Issue        *jira.Issue `json:"issue"`
}

// Ingestor turns raw webhook events into sanitized tickets on the
// queue. Raw ticket text never crosses the publish boundary.
type Ingestor struct {
	redactor  *redact.Engine
	transport queue.Transport
	source    jira.TicketSource
	lane      string
}

// NewIngestor wires the intake stage. The ticket source is optional and
// only used to backfill sparse webhook payloads.
func NewIngestor(redactor *redact.Engine, transport queue.Transport, source jira.TicketSource) *Ingestor {
	return &Ingestor{
		redactor:  redactor,
		transport: transport,
		source:    source,
		lane:      queue.LaneSanitized,
	}
}

// Ingest validates, sanitizes, and enqueues one webhook event. Exactly
// one message is published per accepted event; a rejected event
// publishes nothing.
func (g *Ingestor) Ingest(ctx context.Context, event *WebhookEvent) (*triage.SanitizedTicket, error) {
	if event == nil || event.Issue == nil {
		return nil, triage.Validation(fmt.Errorf("%w: missing issue", ErrInvalidPayload))
	}
	issue := event.Issue
	if strings.TrimSpace(issue.Key) == "" {
		return nil, triage.Validation(fmt.Errorf("%w: missing issue key", ErrInvalidPayload))
	}
	if strings.TrimSpace(issue.Fields.Summary) == "" && strings.TrimSpace(issue.Fields.Description) == "" {
		g.backfill(ctx, issue)
	}
	if strings.TrimSpace(issue.Fields.Summary) == "" && strings.TrimSpace(issue.Fields.Description) == "" {
		return nil, triage.Validation(fmt.Errorf("%w: issue %s has no summary or description", ErrInvalidPayload, issue.Key))
	}

	ticket := g.sanitize(issue)

	body, err := json.Marshal(ticket)
	if err != nil {
		return nil, fmt.Errorf("marshal sanitized ticket: %w", err)
	}
	if err := g.transport.Publish(ctx, g.lane, body, map[string]string{"issue_key": ticket.IssueKey}); err != nil {
		return nil, fmt.Errorf("publish sanitized ticket: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"issue_key":       ticket.IssueKey,
		"redaction_flags": ticket.RedactionFlags,
	}).Info("ticket sanitized and queued")
	return ticket, nil
}

// sanitize redacts summary and description independently and assembles
// the immutable ticket record.
func (g *Ingestor) sanitize(issue *jira.Issue) *triage.SanitizedTicket {
	summary, summaryFlags := g.redactor.Redact(issue.Fields.Summary)
	description, descFlags := g.redactor.Redact(issue.Fields.Description)

	flagSet := make(map[string]struct{})
	for _, f := range summaryFlags {
		flagSet[f] = struct{}{}
	}
	for _, f := range descFlags {
		flagSet[f] = struct{}{}
	}

	reporterEmail := issue.Fields.Reporter.EmailAddress
	if reporterEmail != "" && g.redactor.IsExternalDomain(reporterEmail) {
		flagSet[redact.FlagExternalEmail] = struct{}{}
	}

	flags := make([]string, 0, len(flagSet))
	for f := range flagSet {
		flags = append(flags, f)
	}
	sort.Strings(flags)

	createdAt := parseIssueTime(issue.Fields.Created)
	return &triage.SanitizedTicket{
		TicketID:           firstNonEmpty(issue.ID, issue.Key),
		IssueKey:           issue.Key,
		Summary:            summary,
		Description:        description,
		IssueType:          issue.Fields.IssueType.Name,
		Priority:           issue.Fields.Priority.Name,
		Reporter:           issue.Fields.Reporter.DisplayName,
		CreatedAt:          createdAt,
		RedactionFlags:     flags,
		SanitizedInputHash: triage.ContentHash(summary, description),
	}
}

// backfill fetches the full issue when the webhook carried only a stub.
// Fetch failures are logged and tolerated; validation then decides.
func (g *Ingestor) backfill(ctx context.Context, issue *jira.Issue) {
	if g.source == nil {
		return
	}
	full, err := g.source.FetchIssue(ctx, issue.Key)
	if err != nil {
		logrus.WithError(err).WithField("issue_key", issue.Key).Warn("issue backfill failed")
		return
	}
	issue.Fields = full.Fields
	if issue.ID == "" {
		issue.ID = full.ID
	}
}

func parseIssueTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

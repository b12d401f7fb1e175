package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ticket-triage/backend/internal/jira"
	"ticket-triage/backend/internal/policy"
	"ticket-triage/backend/internal/queue"
	"ticket-triage/backend/internal/reason"
	"ticket-triage/backend/internal/store"
	"ticket-triage/backend/internal/triage"
	"ticket-triage/backend/internal/util"
)

const reasonClassification = "ClassificationFailed"

// Notifier receives each recorded decision for live fan-out. A nil
// notifier is allowed.
type Notifier interface {
	DecisionRecorded(entry store.DecisionEntry)
}

// Config tunes the orchestrator worker pool.
type Config struct {
	Workers int
}

// Orchestrator drains sanitized tickets from the queue, runs
// classification and policy, applies or defers the outcome, and appends
// exactly one decision entry per processed message.
type Orchestrator struct {
	transport  queue.Transport
	classifier reason.Classifier
	source     jira.TicketSource
	policy     *policy.Engine
	db         *store.Database
	notifier   Notifier
	workers    int
}

// New wires the enrichment stage. The ticket source and notifier are
// optional.
func New(cfg Config, transport queue.Transport, classifier reason.Classifier, source jira.TicketSource, engine *policy.Engine, db *store.Database, notifier Notifier) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	return &Orchestrator{
		transport:  transport,
		classifier: classifier,
		source:     source,
		policy:     engine,
		db:         db,
		notifier:   notifier,
		workers:    workers,
	}
}

// Run consumes the sanitized lane until the context is cancelled. Each
// worker settles every delivery it takes exactly once.
func (o *Orchestrator) Run(ctx context.Context) {
	logrus.WithField("workers", o.workers).Info("orchestrator started")

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				delivery, err := o.transport.Consume(ctx, queue.LaneSanitized)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logrus.WithError(err).Warn("consume sanitized lane")
					continue
				}
				o.handle(ctx, delivery)
			}
		}()
	}
	wg.Wait()
	logrus.Info("orchestrator stopped")
}

// handle processes one delivery through classification, policy, and the
// decision log.
func (o *Orchestrator) handle(ctx context.Context, d *queue.Delivery) {
	var ticket triage.SanitizedTicket
	if err := json.Unmarshal(d.Msg.Body, &ticket); err != nil {
		logrus.WithError(err).WithField("message_id", d.Msg.ID).Error("undecodable sanitized ticket")
		o.settle(d, func() error { return o.transport.DeadLetter(d, queue.ReasonDeserialization) })
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"issue_key":  ticket.IssueKey,
		"message_id": d.Msg.ID,
		"deliveries": d.Msg.DeliveryCount,
	})

	timer := util.StartTimer()
	result, err := o.classifier.Classify(ctx, ticket)
	if err != nil {
		if triage.IsTransient(err) {
			log.WithError(err).Warn("classification failed, requeueing")
			o.settle(d, func() error { return o.transport.Abandon(d) })
			return
		}
		log.WithError(err).Error("classification failed permanently")
		o.settle(d, func() error { return o.transport.DeadLetter(d, reasonClassification) })
		return
	}

	result.PolicyFlags = mergeFlags(result.PolicyFlags, o.policy.ValidateCompliance(ticket))
	verdict := o.policy.Decide(ticket, result)

	entry := o.buildEntry(ticket, result, verdict, timer)

	if verdict.RequiresHumanReview {
		entry.Action = store.ActionHumanReview
		if err := o.publishPendingReview(ctx, ticket, result, verdict); err != nil {
			log.WithError(err).Warn("queue pending review failed, requeueing")
			o.settle(d, func() error { return o.transport.Abandon(d) })
			return
		}
		log.WithField("reasons", verdict.Reasons).Info("ticket routed to human review")
	} else {
		entry.Action = store.ActionAutoUpdate
		if err := o.applyUpdate(ctx, ticket, result); err != nil {
			entry.Action = store.ActionUpdateFailed
			log.WithError(err).Error("ticket update failed")
		} else {
			log.WithFields(logrus.Fields{
				"department": result.Classification.Department,
				"assignee":   result.Classification.SuggestedAssignee,
			}).Info("ticket auto-updated")
		}
	}

	if err := o.db.AppendDecision(entry); err != nil {
		log.WithError(err).Error("append decision failed, requeueing")
		o.settle(d, func() error { return o.transport.Abandon(d) })
		return
	}

	o.settle(d, func() error { return o.transport.Ack(d) })
	if o.notifier != nil {
		o.notifier.DecisionRecorded(*entry)
	}
}

// applyUpdate pushes the suggested routing back to the ticket source.
// Retries on transient tracker failures happen inside the client; an
// error here is terminal for this attempt.
func (o *Orchestrator) applyUpdate(ctx context.Context, ticket triage.SanitizedTicket, result triage.ClassificationResult) error {
	if o.source == nil {
		logrus.WithField("issue_key", ticket.IssueKey).Debug("no ticket source configured, decision logged only")
		return nil
	}
	assignee := strings.TrimSpace(result.Classification.SuggestedAssignee)
	priority := strings.TrimSpace(result.Classification.SuggestedPriority)
	comment := strings.TrimSpace(result.GeneratedComment)
	if assignee == "" && priority == "" && comment == "" {
		return nil
	}
	return o.source.AssignAndComment(ctx, ticket.IssueKey, assignee, priority, comment)
}

func (o *Orchestrator) publishPendingReview(ctx context.Context, ticket triage.SanitizedTicket, result triage.ClassificationResult, verdict triage.PolicyVerdict) error {
	pending := triage.PendingReview{Ticket: ticket, Result: result, Verdict: verdict}
	body, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending review: %w", err)
	}
	return o.transport.Publish(ctx, queue.LaneEnriched, body, map[string]string{"issue_key": ticket.IssueKey})
}

func (o *Orchestrator) buildEntry(ticket triage.SanitizedTicket, result triage.ClassificationResult, verdict triage.PolicyVerdict, timer util.Timer) *store.DecisionEntry {
	latency := result.LatencyMs
	if latency <= 0 {
		latency = timer.ElapsedMs()
	}
	confidence := result.Confidence
	if confidence == 0 {
		confidence = result.Classification.Confidence
	}

	entry := &store.DecisionEntry{
		EventID:          uuid.NewString(),
		TicketID:         ticket.TicketID,
		IssueKey:         ticket.IssueKey,
		Timestamp:        time.Now().UTC(),
		InputHash:        ticket.SanitizedInputHash,
		Department:       result.Classification.Department,
		Team:             result.Classification.Team,
		GeneratedComment: result.GeneratedComment,
		ModelUsed:        result.ModelUsed,
		Confidence:       confidence,
		LatencyMs:        latency,
	}
	entry.SetClassification(result.Classification)
	entry.SetCitations(result.Citations)
	entry.SetPolicyReasons(verdict.Reasons)
	return entry
}

// settle runs a settlement call and logs failures; a delivery is never
// settled twice.
func (o *Orchestrator) settle(d *queue.Delivery, fn func() error) {
	if err := fn(); err != nil {
		logrus.WithError(err).WithField("message_id", d.Msg.ID).Error("settle delivery")
	}
}

func mergeFlags(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	for _, f := range base {
		seen[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}
	merged := append([]string(nil), base...)
	for _, f := range extra {
		key := strings.ToLower(strings.TrimSpace(f))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, f)
	}
	return merged
}

func defaultWorkerCount() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 8 {
		workers = 8
	}
	return workers
}

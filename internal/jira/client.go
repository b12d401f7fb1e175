package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ticket-triage/backend/internal/triage"
)

// TicketSource is the boundary to the external issue tracker.
type TicketSource interface {
	FetchIssue(ctx context.Context, key string) (*Issue, error)
	UpdateIssue(ctx context.Context, key string, update IssueUpdate) error
	AddComment(ctx context.Context, key, text string) error
	AssignAndComment(ctx context.Context, key, assignee, priority, comment string) error
}

// Config drives ticket-source client behaviour.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
}

// ErrMissingCredentials is returned when the client cannot authenticate.
var ErrMissingCredentials = errors.New("jira: missing credentials")

// backoffSchedule bounds retries for transient upstream failures. After
// the last delay the attempt is final.
var backoffSchedule = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

// Issue mirrors the subset of the tracker's issue payload the pipeline
// needs.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields carries the nested field block of an issue.
type IssueFields struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	IssueType   NamedField `json:"issuetype"`
	Priority    NamedField `json:"priority"`
	Reporter    Reporter   `json:"reporter"`
	Created     string     `json:"created"`
}

// NamedField is the tracker's {"name": ...} wrapper.
type NamedField struct {
	Name string `json:"name"`
}

// Reporter identifies who raised the issue.
type Reporter struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// IssueUpdate lists the mutable fields of an update call. Zero values
// are omitted from the request.
type IssueUpdate struct {
	Assignee     string
	Priority     string
	CustomFields map[string]any
}

// Client talks to the issue tracker's REST API with bounded backoff on
// transient failure classes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	token      string
}

// NewClient constructs a ticket-source client if configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" || strings.TrimSpace(cfg.APIToken) == "" {
		return nil, ErrMissingCredentials
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		email:      strings.TrimSpace(cfg.Email),
		token:      strings.TrimSpace(cfg.APIToken),
	}, nil
}

// FetchIssue retrieves the full issue detail for a key.
func (c *Client) FetchIssue(ctx context.Context, key string) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/rest/api/2/issue/%s", key)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssue applies assignee, priority, and custom field changes.
func (c *Client) UpdateIssue(ctx context.Context, key string, update IssueUpdate) error {
	fields := make(map[string]any)
	if update.Assignee != "" {
		fields["assignee"] = map[string]string{"name": update.Assignee}
	}
	if update.Priority != "" {
		fields["priority"] = map[string]string{"name": update.Priority}
	}
	for name, value := range update.CustomFields {
		fields[name] = value
	}
	if len(fields) == 0 {
		return nil
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s", key)
	return c.doJSON(ctx, http.MethodPut, path, map[string]any{"fields": fields}, nil)
}

// AddComment posts a comment on the issue.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", key)
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"body": text}, nil)
}

// AssignAndComment composes the update and comment operations used by
// the auto-apply path.
func (c *Client) AssignAndComment(ctx context.Context, key, assignee, priority, comment string) error {
	if err := c.UpdateIssue(ctx, key, IssueUpdate{Assignee: assignee, Priority: priority}); err != nil {
		return err
	}
	if strings.TrimSpace(comment) == "" {
		return nil
	}
	return c.AddComment(ctx, key, comment)
}

// doJSON performs one API call, retrying transient failure classes on
// the bounded backoff schedule. Non-retriable statuses fail immediately
// without backoff.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return triage.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		body = encoded
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !triage.IsTransient(err) || attempt >= len(backoffSchedule) {
			return lastErr
		}

		delay := backoffSchedule[attempt]
		logrus.WithError(err).WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("ticket source retry")

		select {
		case <-ctx.Done():
			return triage.Transient(ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return triage.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.email, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return triage.Transient(fmt.Errorf("ticket source request: %w", err))
	}
	defer resp.Body.Close()

	if retriableStatus(resp.StatusCode) {
		return triage.Transient(fmt.Errorf("ticket source status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return triage.Permanent(fmt.Errorf("ticket source status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return triage.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// retriableStatus covers rate-limited, timeout, unavailable, and
// gateway-timeout classes.
func retriableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

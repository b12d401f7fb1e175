package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ticket-triage/backend/internal/intake"
	"ticket-triage/backend/internal/queue"
	"ticket-triage/backend/internal/reason"
	"ticket-triage/backend/internal/store"
	"ticket-triage/backend/internal/triage"
)

const healthProbeTimeout = 2 * time.Second

// Config defines server options.
type Config struct {
	AllowedOrigins []string
}

// Depther is implemented by transports that can report lane depth. The
// health endpoint uses it when available.
type Depther interface {
	Depth(lane string) (pending, inflight int)
}

// Server wires HTTP handlers with the decision log, intake, and the
// reasoning dependency.
type Server struct {
	db             *store.Database
	ingestor       *intake.Ingestor
	classifier     reason.Classifier
	transport      queue.Transport
	allowedOrigins []string
	notifier       *DecisionNotifier
}

// NewServer constructs the API server over already-wired pipeline
// dependencies.
func NewServer(cfg Config, db *store.Database, ingestor *intake.Ingestor, classifier reason.Classifier, transport queue.Transport) (*Server, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if ingestor == nil {
		return nil, errors.New("ingestor required")
	}
	return &Server{
		db:             db,
		ingestor:       ingestor,
		classifier:     classifier,
		transport:      transport,
		allowedOrigins: cfg.AllowedOrigins,
		notifier:       NewDecisionNotifier(),
	}, nil
}

// DecisionRecorded fans a freshly appended decision out to stream
// subscribers. Called by the pipeline after each commit.
func (s *Server) DecisionRecorded(entry store.DecisionEntry) {
	pending, err := s.db.CountPendingReview()
	if err != nil {
		logrus.WithError(err).Warn("count pending reviews")
	}
	dto := FromModel(entry)
	s.notifier.Broadcast(DecisionEvent{
		Type:     "decision",
		Decision: &dto,
		Pending:  pending,
	})
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/webhook", s.handleWebhook)
		api.GET("/webhook/health", s.handleWebhookHealth)
		api.GET("/decisions", s.handleListDecisions)
		api.GET("/decisions/pending", s.handlePendingDecisions)
		api.GET("/decisions/ticket/:ticketID", s.handleTicketDecision)
		api.POST("/decisions/:eventID/review", s.handleReview)
		api.GET("/decisions/stream", s.handleDecisionStream)
	}

	return r, nil
}

// handleHealth reports overall status. The pipeline stays up when the
// reasoning service is unreachable; the status degrades instead.
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok", ReasoningStatus: "ok"}

	if s.classifier != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()
		if err := s.classifier.Health(ctx); err != nil {
			resp.Status = "degraded"
			resp.ReasoningStatus = "unreachable"
			logrus.WithError(err).Debug("reasoning health probe failed")
		}
	} else {
		resp.ReasoningStatus = "not_configured"
	}

	if pending, err := s.db.CountPendingReview(); err == nil {
		resp.PendingReviews = pending
	}
	if depther, ok := s.transport.(Depther); ok {
		queued, inflight := depther.Depth(queue.LaneSanitized)
		resp.QueuedTickets = queued
		resp.InflightTickets = inflight
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) handleWebhookHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebhook accepts a tracker issue event, sanitizes it, and queues
// it for enrichment. The heavy work happens asynchronously.
func (s *Server) handleWebhook(c *gin.Context) {
	var event intake.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid webhook body: %w", err))
		return
	}

	ticket, err := s.ingestor.Ingest(c.Request.Context(), &event)
	if err != nil {
		if triage.IsValidation(err) {
			s.renderError(c, http.StatusBadRequest, err)
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusAccepted, WebhookResponse{
		Status:         "accepted",
		IssueKey:       ticket.IssueKey,
		RedactionFlags: emptyIfNil(ticket.RedactionFlags),
	})
}

func (s *Server) handleListDecisions(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 50
	}

	rows, total, err := s.db.ListDecisions(store.DecisionQuery{
		IssueKey:   strings.TrimSpace(c.Query("issue_key")),
		Department: strings.TrimSpace(c.Query("department")),
		Action:     strings.TrimSpace(c.Query("action")),
		Offset:     page * pageSize,
		Limit:      pageSize,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, DecisionsResponse{Items: toDTOs(rows), Total: total})
}

func (s *Server) handlePendingDecisions(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 50
	}

	rows, total, err := s.db.ListDecisions(store.DecisionQuery{
		Department:  strings.TrimSpace(c.Query("department")),
		PendingOnly: true,
		Offset:      page * pageSize,
		Limit:       pageSize,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, DecisionsResponse{Items: toDTOs(rows), Total: total})
}

func (s *Server) handleTicketDecision(c *gin.Context) {
	ticketID := strings.TrimSpace(c.Param("ticketID"))
	if ticketID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("ticket id required"))
		return
	}
	entry, err := s.db.LatestForTicket(ticketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("no decision for ticket %s", ticketID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, FromModel(*entry))
}

func (s *Server) handleReview(c *gin.Context) {
	eventID := strings.TrimSpace(c.Param("eventID"))
	if eventID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("event id required"))
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("reviewer is required"))
		return
	}

	if err := s.db.AttachReview(eventID, req.Reviewer, req.Note); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.renderError(c, http.StatusNotFound, fmt.Errorf("decision %s not found", eventID))
		case errors.Is(err, store.ErrAlreadyReviewed):
			s.renderError(c, http.StatusConflict, err)
		default:
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	entry, err := s.db.GetDecision(eventID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"event_id": eventID,
		"reviewer": req.Reviewer,
	}).Info("decision reviewed")
	c.JSON(http.StatusOK, FromModel(*entry))
}

func (s *Server) handleDecisionStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("decision websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("decision websocket closed")
			} else {
				logrus.WithError(err).Warn("decision websocket unexpected close")
			}
			break
		}
	}
}

func toDTOs(rows []store.DecisionEntry) []DecisionDTO {
	dtos := make([]DecisionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	return dtos
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

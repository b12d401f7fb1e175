package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"ticket-triage/backend/internal/api"
	"ticket-triage/backend/internal/config"
	"ticket-triage/backend/internal/intake"
	"ticket-triage/backend/internal/jira"
	"ticket-triage/backend/internal/orchestrator"
	"ticket-triage/backend/internal/policy"
	"ticket-triage/backend/internal/queue"
	"ticket-triage/backend/internal/reason"
	"ticket-triage/backend/internal/redact"
	"ticket-triage/backend/internal/store"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("TRIAGE")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}
	db, err := store.Open(cfg.Database.Path, cfg.Database.Silent)
	if err != nil {
		logrus.Fatalf("open decision log: %v", err)
	}
	defer db.Close()

	transport := queue.NewMemory(queue.MemoryConfig{
		MaxDeliveryCount: cfg.Queue.MaxDeliveryCount,
		MaxBatchBytes:    cfg.Queue.MaxBatchBytes,
	})

	classifier, err := reason.NewClient(reason.Config{
		BaseURL: cfg.Reasoning.BaseURL,
		Timeout: cfg.Reasoning.Timeout,
	})
	if err != nil {
		logrus.Fatalf("reasoning client: %v", err)
	}

	var source jira.TicketSource
	if cfg.Jira.BaseURL != "" {
		client, err := jira.NewClient(jira.Config{
			BaseURL:  cfg.Jira.BaseURL,
			Email:    cfg.Jira.Email,
			APIToken: cfg.Jira.APIToken,
			Timeout:  cfg.Jira.Timeout,
		})
		if err != nil {
			logrus.Fatalf("ticket source client: %v", err)
		}
		source = client
		logrus.WithField("base_url", cfg.Jira.BaseURL).Info("ticket source enabled")
	} else {
		logrus.Info("ticket source disabled - decisions are logged only")
	}

	redactor := redact.NewEngine(cfg.Policy.InternalDomains)
	policyEngine := policy.NewEngine(cfg.Policy.ConfidenceThreshold)
	ingestor := intake.NewIngestor(redactor, transport, source)

	server, err := api.NewServer(api.Config{AllowedOrigins: cfg.Server.AllowedOrigins}, db, ingestor, classifier, transport)
	if err != nil {
		logrus.Fatalf("api server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("router: %v", err)
	}

	orch := orchestrator.New(
		orchestrator.Config{Workers: cfg.Orchestrator.Workers},
		transport, classifier, source, policyEngine, db, server,
	)

	orchCtx, stopOrch := context.WithCancel(context.Background())
	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(orchCtx)
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		logrus.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	stopOrch()
	select {
	case <-orchDone:
	case <-time.After(10 * time.Second):
		logrus.Warn("orchestrator shutdown timed out")
	}
	logrus.Info("Server exited")
}

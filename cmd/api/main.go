package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"coparent-platform/internal/analysis"
	"coparent-platform/internal/audit"
	"coparent-platform/internal/auth"
	"coparent-platform/internal/config"
	"coparent-platform/internal/httpapi"
	"coparent-platform/internal/incident"
	"coparent-platform/internal/notify"
	"coparent-platform/internal/safety"
	"coparent-platform/internal/scheduling"
	"coparent-platform/internal/session"
	"coparent-platform/internal/sweeper"
	"coparent-platform/internal/transcript"
	"coparent-platform/pkg/logger"
	"coparent-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	notifier := notify.NewRedisNotifier(rdb, log)

	sessions := session.NewManager(session.NewPostgresRepo(db), notifier, session.Config{
		JoinLeadTime: cfg.Call.JoinLeadTime,
		ExpirySlack:  cfg.Call.ExpirySlack,
	})
	// One live call per family; the TTL reclaims slots after a crash.
	sessions.Gate = session.NewRedisLiveGate(rdb, 1, 2*time.Hour)

	schedule := scheduling.NewService(scheduling.NewPostgresRepo(db), sessions, notifier)

	incidents := incident.NewService(
		incident.NewPostgresRepo(db),
		sessions,
		incident.NewRedisDeduper(rdb),
		notifier,
		incident.Config{ReportGraceWindow: cfg.Call.ReportGraceWindow},
	)

	evaluator := safety.NewEvaluator(safety.RuleClassifier{}, incidents, safety.Config{
		Timeout:       cfg.Call.EvaluatorTimeout,
		Retries:       cfg.Call.EvaluatorRetries,
		ContextWindow: cfg.Call.ContextWindow,
	}, log)

	transcripts := transcript.NewPostgresStore(db)
	queue := transcript.NewQueue(transcripts, evaluator, sessions, cfg.Call.QueueBuffer, log)

	analyses := analysis.NewService(
		analysis.NewPostgresRepo(db),
		sessions,
		transcripts,
		incidents,
		evaluator,
		nil, // template summarizer
		notifier,
		analysis.Config{SettleDelay: cfg.Call.AnalysisSettleDelay},
	)

	sweep := sweeper.New(schedule, sessions, analyses, log)

	sessions.OnEnded = func(familyID, sessionID string) {
		queue.Close(sessionID)
		sweep.OnSessionEnded(familyID, sessionID)
	}

	if err := sweep.Start(); err != nil {
		log.Error("sweeper init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth:        authManager,
		Scheduling:  schedule,
		Sessions:    sessions,
		Queue:       queue,
		Transcripts: transcripts,
		Incidents:   incidents,
		Analyses:    analyses,
		Audit:       audit.NewService(audit.NewPostgresRepo(db)),
		Log:         log,
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	sweep.Stop()
	queue.Shutdown()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

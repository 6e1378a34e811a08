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

	"callbridge/internal/ami"
	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/crm"
	"callbridge/internal/dispatch"
	"callbridge/internal/event"
	"callbridge/internal/observe"
	"callbridge/internal/opsapi"
	"callbridge/internal/pipeline"
	"callbridge/internal/recording"
	"callbridge/internal/report"
	"callbridge/internal/routing"
	"callbridge/internal/session"
	"callbridge/internal/store"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	routingFile, err := config.LoadRouting(cfg.RoutingPath)
	if err != nil {
		slog.Error("routing config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
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

	transport, err := crm.NewWebhookClient(crm.WebhookOptions{
		BaseURL:        cfg.CRM.WebhookURL,
		RequestTimeout: cfg.CRM.RequestTimeout,
	})
	if err != nil {
		log.Error("crm init failed", "err", err)
		os.Exit(1)
	}

	sink := observe.NewService(log, observe.WithRedis(rdb))
	letters := dispatch.NewPGDeadLetterRepo(db)
	guard := dispatch.NewRedisGuard(rdb, uuid.NewString())

	dispatcher := dispatch.New(transport, guard, letters, sink, log, dispatch.Options{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		QueueSize:      cfg.Dispatch.QueueSize,
	})
	// The worker must outlive rootCtx so decisions flushed during shutdown
	// still reach the CRM; Close bounds the drain.
	dispatcher.Start(context.WithoutCancel(rootCtx))

	registry := session.NewRegistry(cfg.Session.IdleTimeout)
	records := store.NewPGRepo(db)

	bridge := pipeline.New(pipeline.Deps{
		Log:           log,
		Normalizer:    event.NewNormalizer(routingFile.Events.Enabled, sink),
		Registry:      registry,
		Machine:       session.NewMachine(),
		Engine:        routing.NewEngine(routing.NewMapping(routingFile)),
		Transport:     transport,
		Dispatcher:    dispatcher,
		Records:       records,
		Recordings:    recording.NewResolver(cfg.Records.MP3Dir, log),
		Sink:          sink,
		SweepInterval: cfg.Session.SweepInterval,
		AllowedExtens: routingFile.AllowedExtens,
	})

	go bridge.RunSweeper(rootCtx)

	// Manager connection with reconnect. Events missed while down are lost;
	// the sweeper finalizes any sessions they would have closed.
	go func() {
		for {
			err := ami.Run(rootCtx, ami.ClientOptions{
				Addr:     cfg.AMIAddr(),
				Username: cfg.AMI.Username,
				Secret:   cfg.AMI.Secret,
			}, bridge.HandleEvent)
			if rootCtx.Err() != nil {
				return
			}
			log.Error("manager connection lost, reconnecting", "err", err)

			select {
			case <-rootCtx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	opsapi.RegisterRoutes(r, opsapi.Handlers{
		Auth:       authManager,
		Registry:   registry,
		Observer:   sink,
		Letters:    letters,
		Dispatcher: dispatcher,
		Reports:    report.NewService(records),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ops api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Flush live sessions before the dispatcher stops accepting work.
	bridge.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

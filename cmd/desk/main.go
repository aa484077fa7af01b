package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"P2PDesk/internal/backend"
	"P2PDesk/internal/config"
	"P2PDesk/internal/db"
	"P2PDesk/internal/desk"
	internalhttp "P2PDesk/internal/http"
	"P2PDesk/internal/identity"
	"P2PDesk/internal/journal"
	"P2PDesk/internal/logging"
	"P2PDesk/internal/models"
	"P2PDesk/internal/view"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config load failed", logging.Err(err))
		os.Exit(1)
	}
	log := logging.Setup(cfg.Env)

	ctx := context.Background()

	var recorder journal.Recorder = journal.Nop{}
	if cfg.DB.DSN != "" {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			log.Error("db connect failed", logging.Err(err))
			os.Exit(1)
		}
		defer pool.Close()
		recorder = journal.NewPG(pool)
		log.Info("trade journal enabled")
	} else {
		log.Info("trade journal disabled: no db.dsn configured")
	}

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Auth.RefreshToken,
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
	cache := identity.NewCache(client, time.Duration(cfg.Identity.TTLSeconds)*time.Second)
	client.SetTokenSource(cache)

	pushEndpoints := cfg.Backend.PushEndpoints
	if len(pushEndpoints) == 0 {
		if derived := backend.DefaultPushEndpoint(cfg.Backend.BaseURL); derived != "" {
			pushEndpoints = []string{derived}
		}
	}
	push, err := backend.NewPushClient(pushEndpoints, cfg.Sync.PushFailoverThreshold)
	if err != nil {
		log.Error("push client init failed", logging.Err(err))
		os.Exit(1)
	}
	log.Info("push gateway", slog.String("endpoint", push.Endpoint()))

	registry := desk.New(log, view.Config{
		Window:          time.Duration(cfg.Orders.WindowSeconds) * time.Second,
		PollInterval:    time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second,
		PollMaxInterval: time.Duration(cfg.Sync.PollMaxIntervalSeconds) * time.Second,
		PushRetry:       time.Duration(cfg.Sync.PushRetrySeconds) * time.Second,
	}, view.Deps{
		Log:      log,
		Backend:  client,
		Push:     view.NewGatewayDialer(push),
		Identity: cache,
		Journal:  recorder,
	})

	for _, w := range cfg.Orders.Watch {
		if _, err := registry.Open(ctx, w.OrderID, models.OrderKind(w.Kind)); err != nil {
			log.Warn("startup watch failed", slog.String("order_id", w.OrderID), logging.Err(err))
		}
	}

	handler := internalhttp.NewHandler(log, registry)
	srv := internalhttp.NewServer(handler)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		log.Info("desk listening", slog.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", logging.Err(err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	registry.CloseAll()
}

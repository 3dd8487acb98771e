package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/castmarket/settlement-engine/internal/clock"
	"github.com/castmarket/settlement-engine/internal/config"
	"github.com/castmarket/settlement-engine/internal/escrow"
	"github.com/castmarket/settlement-engine/internal/ledger"
	"github.com/castmarket/settlement-engine/internal/metrics"
	"github.com/castmarket/settlement-engine/internal/settle"
	"github.com/castmarket/settlement-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "config.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", "err", err)
		os.Exit(1)
	}

	startingBudget, _ := cfg.StartingBudget()
	medianPrice, _ := cfg.MedianPrice()
	airWindow, _ := cfg.AirWindow()
	cacheTTL, _ := cfg.CacheTTL()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cacheTTL)
			slog.Info("Redis cache enabled", "ttl", cacheTTL)
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := ledger.NewHub()
	go hub.Run()

	// --- Services ---
	ledgerSvc := ledger.NewService(st, startingBudget, hub)
	escrowSvc := escrow.NewService(st, ledgerSvc.Mu())
	settler := settle.NewSettler(st, startingBudget, ledgerSvc.Mu())
	gameClock := clock.New(st, settler, ledgerSvc.Mu(), hub, airWindow, medianPrice)
	defer gameClock.Stop()

	if err := gameClock.Init(context.Background()); err != nil {
		slog.Error("season init failed", "err", err)
		os.Exit(1)
	}
	if spec := cfg.Game.AdvanceCron; spec != "" {
		if _, err := gameClock.Schedule(spec); err != nil {
			slog.Error("advance schedule failed", "err", err)
			os.Exit(1)
		}
		slog.Info("weekly advance scheduled", "cron", spec)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time market updates.
		r.Get("/ws", hub.HandleWS)

		// Market listing and portfolio mutation.
		r.Get("/survivors", ledgerSvc.HandleListSurvivors)
		r.Post("/orders", ledgerSvc.HandleOrder)
		r.Post("/shorts", ledgerSvc.HandleShort)
		r.Get("/portfolio/{userID}/{groupID}", ledgerSvc.HandlePortfolio)
		r.Post("/predictions", ledgerSvc.HandlePrediction)

		// Players and groups.
		r.Post("/players", ledgerSvc.HandleRegisterPlayer)
		r.Post("/groups", ledgerSvc.HandleCreateGroup)
		r.Post("/groups/{groupID}/accept", ledgerSvc.HandleAcceptInvite)

		// Peer-to-peer trades.
		r.Post("/trades", escrowSvc.HandleSend)
		r.Post("/trades/{tradeID}/respond", escrowSvc.HandleRespond)
		r.Get("/trades", escrowSvc.HandleList)

		// Season state.
		r.Get("/episodes/current", gameClock.HandleCurrentEpisode)

		// Admin controls.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/survivors", ledgerSvc.HandleCreateSurvivor)
			r.Post("/advance-week", gameClock.HandleAdvanceWeek)
			r.Post("/episodes/events", gameClock.HandleRecordEvent)
			r.Post("/episodes/broadcast", gameClock.HandleBroadcast)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}

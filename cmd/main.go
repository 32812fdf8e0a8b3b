package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voicejournal/internal/config"
	"github.com/Vovarama1992/voicejournal/internal/delivery"
	ws "github.com/Vovarama1992/voicejournal/internal/delivery/ws"
	"github.com/Vovarama1992/voicejournal/internal/domain"
	"github.com/Vovarama1992/voicejournal/internal/infra"
	"github.com/Vovarama1992/voicejournal/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {

	// LOGGER
	zcore, _ := zap.NewProduction()
	zl := logger.NewZapLogger(zcore.Sugar())

	// ENV
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	// POSTGRES
	ctx := context.Background()

	pool, err := infra.NewPgxPool(ctx, cfg.DatabaseURL)
	if err != nil {
		panic("cannot connect pgxpool: " + err.Error())
	}
	defer pool.Close()

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		panic("postgres ping failed: " + err.Error())
	}

	// METRICS
	m := metrics.New()

	// COLLABORATORS
	chunkStore, err := infra.NewFSChunkStore(cfg.AudioDir)
	if err != nil {
		panic("chunk store: " + err.Error())
	}

	sessionRepo := infra.NewPostgresSessionRepo(pool)
	upstream := infra.NewAssemblyAIDialer(cfg.UpstreamURL, cfg.UpstreamAPIKey, cfg.SampleRate, cfg.UpstreamSendBuffer)
	summarizer := infra.NewGPTClient()

	// RELAY CORE
	registry := domain.NewSessionRegistry(zl, m, cfg.IdleTimeout, cfg.IdleCheckInterval)
	finalizer := domain.NewSessionFinalizer(sessionRepo, registry, zl, m, cfg.FinalizeTimeout)
	persister := domain.NewChunkPersister(chunkStore, m)

	registry.StartReaper(func(s *domain.Session) {
		finalizer.Finalize(s, domain.ReasonIdleTimeout)
	})
	defer registry.Stop()

	relay := ws.NewRelay(registry, upstream, persister, finalizer, summarizer, m, cfg.FinalizeOnFinalTranscript)

	// AUTH
	authService := domain.NewAuthService(pool, cfg.AuthSecret)

	// HANDLERS
	authHandler := delivery.NewAuthHandler(authService, zl)
	sessionHandler := delivery.NewSessionHandler(sessionRepo, zl)

	// ROUTER
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Auth"},
		AllowCredentials: true,
	}))

	delivery.RegisterRoutes(r, authHandler, authService, sessionHandler)

	r.Get("/connect", relay.Handler())

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "server started",
		Fields:  map[string]any{"port": cfg.Port},
	})

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		zl.Log(logger.LogEntry{
			Level:   "error",
			Message: "server crashed",
			Error:   err,
		})
	}
}

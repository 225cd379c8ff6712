package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rfphub/api/internal/app"
	"rfphub/api/internal/authpw"
	"rfphub/api/internal/config"
	"rfphub/api/internal/email"
	"rfphub/api/internal/export"
	"rfphub/api/internal/gitmirror"
	"rfphub/api/internal/llm"
	"rfphub/api/internal/ratelimit"
	"rfphub/api/internal/search"
	"rfphub/api/internal/session"
	"rfphub/api/internal/storage"
	"rfphub/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.MirrorDir, 0o755); err != nil {
		log.Fatalf("failed to create mirror dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	mirror, err := gitmirror.New(cfg.MirrorDir)
	if err != nil {
		log.Fatalf("git mirror init failed: %v", err)
	}

	pgfts := search.NewPGFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		if err := searchService.ReindexAll(ctx); err != nil {
			log.Printf("WARNING: initial reindex failed (will recover on writes): %v", err)
		}
	}

	deps := app.Deps{
		Store:    dataStore,
		Sessions: dataStore,
		Mirror:   mirror,
		Search:   searchService,
		Exporter: export.NewService(),
		Auth:     authpw.NewService(dataStore),
	}

	// Redis serves both refresh sessions and rate limiting. Without it,
	// refresh tokens live in Postgres and limits are not enforced.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, falling back to Postgres sessions: %v", err)
		} else {
			log.Printf("Using Redis for refresh sessions and rate limiting")
			defer redisStore.Close()
			deps.Sessions = redisStore
			deps.Limiter = ratelimit.New(redisStore.Client())
		}
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objectStore, err := storage.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage init failed: %v", err)
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			log.Fatalf("object storage bucket check failed: %v", err)
		}
		deps.Storage = objectStore
	} else {
		log.Printf("Object storage not configured, uploads disabled")
	}

	if strings.TrimSpace(cfg.GenAIAPIKey) != "" {
		drafter, err := llm.New(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			log.Fatalf("llm client init failed: %v", err)
		}
		log.Printf("LLM drafting enabled with model %s", drafter.Model())
		deps.LLM = drafter
	} else {
		log.Printf("LLM drafting not configured, generation falls back to placeholder filling")
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		deps.Email = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	} else {
		log.Printf("SMTP not configured, signup returns verification tokens directly")
	}

	service := app.New(cfg, deps)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHandler(service),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("RFP Hub API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

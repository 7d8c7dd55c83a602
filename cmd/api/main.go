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

	"tomo/api/internal/app"
	"tomo/api/internal/authpw"
	"tomo/api/internal/blob"
	"tomo/api/internal/config"
	"tomo/api/internal/email"
	"tomo/api/internal/preview"
	"tomo/api/internal/search"
	"tomo/api/internal/session"
	"tomo/api/internal/store"
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

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	// Refresh tokens live in Redis; the Postgres store is the fallback
	// when Redis is not configured.
	var sessions app.SessionStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		log.Printf("Using Redis for refresh token storage")
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	// Object storage is optional in development; media uploads return
	// 503 until it is configured.
	var blobStore *blob.Store
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		blobStore, err = blob.NewStore(ctx, blob.Config{
			Endpoint:      cfg.BlobEndpoint,
			AccessKey:     cfg.BlobAccessKey,
			SecretKey:     cfg.BlobSecretKey,
			Bucket:        cfg.BlobBucket,
			UseSSL:        cfg.BlobUseSSL,
			PublicBaseURL: cfg.BlobPublicURL,
		})
		if err != nil {
			log.Printf("WARNING: object storage unavailable, uploads disabled: %v", err)
			blobStore = nil
		}
	}

	authService := authpw.NewService(dataStore)
	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	hub := preview.NewHub(cfg.PreviewInterval, cfg.PreviewPlaceholder)

	service := app.New(cfg, dataStore, sessions, blobStore, authService, emailService, searchService, hub)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, hub)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TOMO API listening on %s", cfg.Addr)
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

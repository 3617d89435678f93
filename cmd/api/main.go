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

	"pirhub/api/internal/app"
	"pirhub/api/internal/blob"
	"pirhub/api/internal/config"
	"pirhub/api/internal/docstore"
	"pirhub/api/internal/email"
	"pirhub/api/internal/obs"
	"pirhub/api/internal/session"
	"pirhub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	obs.Init()

	db, err := docstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := docstore.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.New(docstore.NewPostgresStore(db))

	var blobs blob.Store
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		minioStore, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			UseSSL:    cfg.BlobUseSSL,
		})
		if err != nil {
			log.Fatalf("blob store connection failed: %v", err)
		}
		log.Printf("Using MinIO blob storage at %s", cfg.BlobEndpoint)
		blobs = minioStore
	} else {
		log.Printf("Using in-memory blob storage (set PIRHUB_BLOB_ENDPOINT for durability)")
		blobs = blob.NewMemoryStore()
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mail.IsConfigured() {
		log.Printf("WARNING: SMTP not configured, notifications disabled")
	}
	notifier := app.NewNotifier(dataStore, mail)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, dataStore)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.New(cfg, dataStore, redisStore, blobs, notifier)
	} else {
		log.Printf("Using the document store for refresh token storage")
		service = app.New(cfg, dataStore, dataStore, blobs, notifier)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("PIRHub API listening on %s", cfg.Addr)
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
	notifier.Wait()
}

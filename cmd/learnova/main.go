package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/database"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/server"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/storage"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(getEnv("LOG_LEVEL", "info"))})))

	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	slog.Info("database migrations applied")

	var signer videotoken.PlaybackSigner
	storageEndpoint := os.Getenv("S3_PUBLIC_ENDPOINT")
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		store, err := storage.New(ctx, storage.Config{
			Endpoint:  getEnv("S3_PUBLIC_ENDPOINT", "http://localhost:3900"),
			Bucket:    bucket,
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Region:    getEnv("S3_REGION", "eu-central-1"),
		})
		if err != nil {
			log.Fatalf("storage initialization failed: %v", err)
		}
		signer = store
		slog.Info("hosted media playback enabled", "bucket", bucket)
	} else {
		slog.Info("no S3_BUCKET set, hosted media playback disabled")
	}

	clients := clientinfo.New(os.Getenv("GEOIP_DB_PATH"))
	defer clients.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	var webFS fs.FS
	if dir := os.Getenv("WEB_DIR"); dir != "" {
		webFS = os.DirFS(dir)
		slog.Info("serving player frontend", "dir", dir)
	}

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	srv, err := server.New(server.Config{
		DB:              db.Pool,
		Pinger:          db,
		Signer:          signer,
		Clients:         clients,
		WebFS:           webFS,
		Metrics:         collector,
		MetricsHandler:  metrics.Handler(reg),
		JWTSecret:       jwtSecret,
		BaseURL:         baseURL,
		VideoDomain:     getEnv("VIDEO_TOKEN_DOMAIN", baseURL),
		TokenTTL:        getEnvDuration("VIDEO_TOKEN_TTL", videotoken.DefaultTTL),
		EmbedOrigin:     getEnv("EMBED_ORIGIN", "https://www.youtube-nocookie.com"),
		VideoHosts:      getEnvList("VIDEO_HOSTS", []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}),
		StorageEndpoint: storageEndpoint,
		PlayerMode:      playerMode(getEnv("PLAYER_MODE", "custom")),
	})
	if err != nil {
		log.Fatalf("server initialization failed: %v", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("learnova video service listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	slog.Info("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs := getEnvInt64(key, 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func playerMode(value string) playback.Mode {
	if strings.EqualFold(value, "native") {
		return playback.ModeNativeControls
	}
	return playback.ModeCustomOverlay
}

func logLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}

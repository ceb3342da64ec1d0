package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"videogateway/internal/domain"
	"videogateway/internal/http/handlers"
	httpapi "videogateway/internal/http/httpapi"
	"videogateway/internal/infra"
	"videogateway/internal/middleware"
	"videogateway/internal/obs"
	"videogateway/internal/providers/video"
	"videogateway/internal/storage"
)

const serviceName = "videogateway-api"

func main() {
	// Load .env when present
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, serviceName)
	obs.SetAppInfo(serviceName, cfg.AppVersion)

	ctx := context.Background()
	shutdownTracing, err := obs.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}

	videos, err := video.NewClient(video.Options{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.UpstreamTimeout, Transport: obs.HTTPTransport(http.DefaultTransport)},
		Logger:         &logger,
		RequestTimeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure video client")
	}
	if !videos.HasCredentials() {
		logger.Warn().Msg("OPENAI_API_KEY not set, /videos routes will answer 500")
	}

	app := &handlers.App{
		Logger:      logger,
		Videos:      videos,
		StorageMode: cfg.StorageMode,
		Password:    middleware.NewPasswordGuard(cfg.AppPassword),
	}
	// Blob mode never writes cache files
	if cfg.StorageMode == domain.StorageModeFS {
		store, err := newArtifactStore(cfg)
		if err != nil {
			logger.Fatal().Err(err).Str("backend", cfg.CacheBackend).Msg("failed to configure artifact cache")
		}
		app.Cache = storage.NewArtifactCache(store)
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, obs.WrapHTTP(serviceName, router))

	go func() {
		logger.Info().
			Str("storage_mode", string(cfg.StorageMode)).
			Bool("password_required", cfg.PasswordRequired()).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
	logger.Info().Msg("server stopped")
}

func newArtifactStore(cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.CacheBackend == infra.CacheBackendOSS {
		return storage.NewOSSStore(storage.OSSOptions{
			Endpoint:        cfg.OSSEndpoint,
			Bucket:          cfg.OSSBucket,
			Prefix:          cfg.OSSPrefix,
			AccessKeyID:     cfg.OSSAccessKey,
			AccessKeySecret: cfg.OSSSecretKey,
		})
	}
	return storage.NewFileStore(cfg.OutputDir)
}

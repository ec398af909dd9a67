package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-asset/pkg/simpleasset/api"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

// HTTPConfig holds settings that only concern the HTTP surface
type HTTPConfig struct {
	APIKeySHA256   string        `env:"API_KEY_SHA256"`
	MaxRequestSize int64         `env:"MAX_REQUEST_SIZE" env-default:"262144000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" env-default:"5m"`
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var httpConfig HTTPConfig
	if err := cleanenv.ReadEnv(&httpConfig); err != nil {
		slog.Error("Failed to read HTTP configuration", "err", err)
		os.Exit(1)
	}

	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	rt, err := serverConfig.Build(context.Background(), logger)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	var auth func(http.Handler) http.Handler
	if httpConfig.APIKeySHA256 != "" {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": httpConfig.APIKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			return
		}
		auth = apiKeyMiddleware
	}

	server.R.Route("/api/v1", func(r chi.Router) {
		mountRoutes(r, rt, httpConfig, auth, logger)
	})

	slog.Info("Simple Asset server starting",
		"environment", serverConfig.Environment,
		"database", serverConfig.DatabaseType,
		"storage", serverConfig.Storage.Type,
		"auth", auth != nil)

	server.Run()
}

// mountRoutes attaches the asset and gallery handlers under r.
func mountRoutes(r chi.Router, rt *config.Runtime, httpConfig HTTPConfig, auth func(http.Handler) http.Handler, logger *slog.Logger) {
	opts := []api.HandlerOption{api.WithHandlerLogger(logger)}
	assets := api.NewAssetHandler(rt.Service, opts...)
	galleries := api.NewGalleryHandler(rt.Service, opts...)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.RequestID)
		r.Use(api.LoggingMiddleware(logger))
		r.Use(chimiddleware.Recoverer)
		if httpConfig.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(httpConfig.RequestTimeout))
		}
		if httpConfig.MaxRequestSize > 0 {
			r.Use(api.RequestSizeLimitMiddleware(httpConfig.MaxRequestSize))
		}
		if auth != nil {
			r.Use(auth)
		}
		r.Mount("/assets", assets.Routes())
		r.Mount("/galleries", galleries.Routes())
	})
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"flacdl/internal/catalog"
	"flacdl/internal/challenge"
	"flacdl/internal/config"
	"flacdl/internal/download"
	"flacdl/internal/handler"
	"flacdl/internal/httpx"
	"flacdl/internal/models"
	"flacdl/internal/session"
	"flacdl/internal/state"
	"flacdl/internal/websocket"
)

func main() {
	cfg := config.LoadConfig()
	config.SetupLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	client := httpx.NewClient(cfg.HTTPTimeout)
	solver := challenge.NewSolver(client, cfg.CatalogURL, cfg.ChallengeURL, cfg.UserAgent)
	boot := session.NewBootstrapper(client, cfg.CatalogURL, cfg.UserAgent, solver)
	cat := catalog.NewClient(client, cfg.CatalogURL)

	// Transfers are bounded by the stream, not by a whole-request timeout.
	fetcher := download.NewFetcher(httpx.NewClient(0), cfg.UserAgent)

	app := state.New()
	hub := websocket.NewHub()
	batch := download.NewBatch(cat, fetcher, hub)
	go hub.Run(ctx)
	go hub.StartTicker(ctx, 10*time.Second, func() models.Event { return handler.SessionEvent(app) })

	if err := handler.StartConnect(ctx, app, boot, hub); err != nil {
		slog.Error("Could not start session bootstrap", "error", err)
	}

	r := chi.NewRouter()
	r.Get("/session", handler.GetSessionHandler(app))
	r.Post("/session/connect", handler.ConnectHandler(ctx, app, boot, hub))
	r.Get("/search", handler.SearchHandler(app, cat, hub, cfg.PageSize))
	r.Get("/search/next", handler.StepHandler(app, cat, hub, 1))
	r.Get("/search/prev", handler.StepHandler(app, cat, hub, -1))
	r.Get("/selection", handler.GetSelectionHandler(app))
	r.Delete("/selection", handler.ClearSelectionHandler(app))
	r.Put("/selection/page", handler.TogglePageHandler(app))
	r.Put("/selection/{id}", handler.SelectHandler(app))
	r.Delete("/selection/{id}", handler.DeselectHandler(app))
	r.Post("/downloads", handler.StartDownloadsHandler(ctx, app, batch, cfg.DownloadDir))
	r.Get("/downloads", handler.GetDownloadsHandler(app, batch))
	r.Get("/ws", hub.WsHandler)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		stop()
		done <- true
	}()

	slog.Info("Server starting", "port", cfg.Port, "catalog", cfg.CatalogURL, "download_dir", cfg.DownloadDir)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("Server exited")
}

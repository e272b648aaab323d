package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunehq/skillrunner/internal/config"
	"github.com/lunehq/skillrunner/internal/engine"
	"github.com/lunehq/skillrunner/internal/httpapi"
	"github.com/lunehq/skillrunner/internal/logging"
	"github.com/lunehq/skillrunner/internal/notify"
	"github.com/lunehq/skillrunner/internal/store"
	"github.com/lunehq/skillrunner/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	st, err := store.OpenGorm(cfg.DBPath)
	if err != nil {
		log.Fatal("opening job store failed", "db_path", cfg.DBPath, "error", err)
	}

	streamer := stream.NewStreamer()
	notifier := notify.NewHTTPNotifier(10*time.Second, 3)
	sup := engine.NewSupervisor(st, log, streamer, cfg.ContentStorePath, cfg.MaxChunksPerRun)
	eng := engine.New(st, log, sup, engine.NewRunIDSource(), notifier, streamer)
	eng.Register(engine.ArticleRequest{}, cfg.Article)
	eng.Register(engine.SongWish{}, cfg.Song)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eng.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(eng, st, streamer, log),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	// Let the in-flight job (if any) finish its lifecycle before exiting.
	eng.Wait()
}

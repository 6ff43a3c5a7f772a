package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"drinky-board/internal/config"
	"drinky-board/internal/db"
	"drinky-board/internal/device"
	"drinky-board/internal/service"
)

// Options defines initialization overrides for the control service.
// Mirrors the CLI flags used in cmd/drinkyd/main.go.
type Options struct {
	ConfigPath    string
	ListenAddress string
	DBPath        string
	SerialPort    string
}

const shutdownTimeout = 5 * time.Second

// InitAndRunService loads config, applies overrides, opens the store and the
// board, and serves until ctx is canceled.
func InitAndRunService(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override YAML with provided options
	if opts.ListenAddress != "" {
		cfg.Service.ListenAddress = opts.ListenAddress
	}
	if opts.DBPath != "" {
		cfg.Service.DBPath = opts.DBPath
	}
	if opts.SerialPort != "" {
		cfg.Service.Device.SerialPort = opts.SerialPort
	}

	store, err := db.Open(cfg.Service.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	dev := device.NewManager(cfg.Service.Device, nil)
	srv := &http.Server{
		Addr:              cfg.Service.ListenAddress,
		Handler:           service.New(store, dev, cfg.Service.Collections).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dev.Run(ctx) })
	g.Go(func() error {
		log.Printf("service: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

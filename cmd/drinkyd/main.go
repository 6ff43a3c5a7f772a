package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"drinky-board/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "", "path to YAML config (defaults and DRINKY_* env when empty)")
	flag.StringVar(&opts.ListenAddress, "listen", "", "override service.listen_address")
	flag.StringVar(&opts.DBPath, "db", "", "override service.db_path")
	flag.StringVar(&opts.SerialPort, "serial", "", "override service.device.serial_port (path or glob)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("received signal: %v, shutting down...", s)
		cancel()
	}()

	if err := tasks.InitAndRunService(ctx, opts); err != nil {
		log.Fatalf("service exited with error: %v", err)
	}
}

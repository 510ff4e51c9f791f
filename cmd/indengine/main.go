package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"indicator-enginev1/internal/logger"
	"indicator-enginev1/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := service.LoadConfig()
	logger.Init("indicator-engine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[main] feed=%s, snapshot interval: %ds", cfg.FeedMode, cfg.SnapshotIntervalS)

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("[main] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[main] fatal: %v", err)
	}
}

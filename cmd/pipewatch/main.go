package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipewatch/internal/config"
	"pipewatch/internal/logger"
	"pipewatch/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(cfg.LogLevel)

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	// run service in background
	go func() {
		if err := svc.Run(ctx); err != nil {
			log.Printf("service exited: %v", err)
			cancel()
		}
	}()

	// wait for termination signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Println("shutting down")
		cancel()
	case <-ctx.Done():
	}

	// give graceful shutdown some time
	time.Sleep(500 * time.Millisecond)
	log.Println("exited")
}

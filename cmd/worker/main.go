// Package main provides the main entry point for the candidate-ranking
// worker process: it consumes the jd/resume/rank queues over Redis Streams
// and drives the JD/resume parsing, scoring, and re-rank pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokle/internal/app"
	"brokle/internal/config"
	"brokle/internal/version"
)

func main() {
	log.Printf("Brokle ranking worker %s starting", version.Get())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the ranking worker (broker consumers only, no HTTP surface)
	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}
	defer worker.Shutdown(context.Background())

	if err := worker.Start(); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	log.Println("Ranking worker started successfully")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down workers...")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := worker.Shutdown(ctx); err != nil {
		log.Printf("Workers forced to shutdown: %v", err)
	}

	fmt.Println("Workers stopped")
}

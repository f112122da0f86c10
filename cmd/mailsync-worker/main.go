package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mathcivilce/mailsync/internal/api"
	"github.com/mathcivilce/mailsync/internal/config"
	"github.com/mathcivilce/mailsync/internal/database"
	"github.com/mathcivilce/mailsync/internal/gmail"
	"github.com/mathcivilce/mailsync/internal/repository"
	"github.com/mathcivilce/mailsync/internal/service"
	"github.com/mathcivilce/mailsync/internal/trigger"
	"github.com/mathcivilce/mailsync/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	// Initialize repositories
	chunkRepo := repository.NewChunkJobRepository(sqlDB)
	jobRepo := repository.NewSyncJobRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	messageRepo := repository.NewMessageRepository(sqlDB)

	// Initialize trigger dispatcher and services
	dispatcher := trigger.NewDispatcher(cfg.WakeEndpoint)

	gmailClient := gmail.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret)
	processor := service.NewMailboxProcessor(accountRepo, gmailClient, messageRepo, cfg.PagesPerClaim)

	coordinator := service.NewCoordinator(chunkRepo, jobRepo, dispatcher)
	runner := service.NewRunner(chunkRepo, jobRepo, processor, coordinator)
	sweeper := service.NewSweeper(chunkRepo, jobRepo, dispatcher)
	planner := service.NewPlanner(chunkRepo, accountRepo, dispatcher,
		cfg.SyncWindowDays, cfg.ChunkWindowDays, cfg.MaxAttempts)

	// Initialize watcher and HTTP server
	w := watcher.New(cfg, chunkRepo, runner, sweeper)
	server := api.NewServer(planner, runner, jobRepo, chunkRepo)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher and HTTP server in goroutines
	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}

		select {
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				log.Printf("Watcher error: %v", err)
			}
		}

		dispatcher.Wait()
		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}

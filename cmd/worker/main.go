package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inboxledger/inboxledger/internal/archive"
	"github.com/inboxledger/inboxledger/internal/config"
	"github.com/inboxledger/inboxledger/internal/extract"
	"github.com/inboxledger/inboxledger/internal/importer"
	"github.com/inboxledger/inboxledger/internal/jobs"
	"github.com/inboxledger/inboxledger/internal/jobs/inmemory"
	"github.com/inboxledger/inboxledger/internal/logger"
	"github.com/inboxledger/inboxledger/internal/mailbox"
	"github.com/inboxledger/inboxledger/internal/store"
	fsstore "github.com/inboxledger/inboxledger/internal/store/firestore"
	memstore "github.com/inboxledger/inboxledger/internal/store/memory"
	"github.com/inboxledger/inboxledger/internal/token"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	var st store.Store
	if cfg.FirestoreProject != "" {
		st, err = fsstore.New(ctx, cfg.FirestoreProject)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Firestore store")
		}
	} else {
		log.Warn().Msg("FIRESTORE_PROJECT not set - using in-memory store, data is not persisted")
		st = memstore.New()
	}
	defer st.Close()

	var archiver archive.Archiver
	if cfg.ArchiveBucket != "" {
		archiver = archive.NewGCSArchiver(cfg.ArchiveBucket)
	}

	tokenManager := token.NewManager(st, token.NewGoogleRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret))
	extractor := extract.New(extract.NewGeminiGenerator(cfg.GeminiModel))
	coordinator := importer.New(st, tokenManager, mailbox.NewGmailClient(), extractor, importer.Options{
		MaxMessages:      cfg.MaxMessages,
		FetchConcurrency: cfg.FetchConcurrency,
		Archiver:         archiver,
	})

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore)

	log.Info().Dur("interval", cfg.SyncInterval).Msg("Starting sync worker")

	handler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.SyncUserJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()

		run, err := coordinator.SyncUser(runCtx, syncJob.UserID, syncJob.RunID)
		if err != nil {
			return err
		}

		log.Info().
			Str("job_id", syncJob.JobID).
			Str("run_id", run.ID).
			Int("imported", run.Imported).
			Int("skipped", run.Skipped).
			Msg("Sync job completed")
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Scheduler: one immediate pass, then one per interval. Each pass
	// enqueues a job per user so failures stay isolated.
	go func() {
		enqueue := func() {
			userIDs, err := st.UserIDs(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to list users for scheduled sync")
				return
			}
			for _, userID := range userIDs {
				job := &jobs.SyncUserJob{UserID: userID}
				if err := jobQueue.PublishSyncUser(ctx, job); err != nil {
					log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue sync job")
				}
			}
			log.Info().Int("users", len(userIDs)).Msg("Scheduled sync pass enqueued")
		}

		enqueue()
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				enqueue()
			}
		}
	}()

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}

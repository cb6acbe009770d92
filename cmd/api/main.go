package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/inboxledger/inboxledger/internal/api/handlers"
	"github.com/inboxledger/inboxledger/internal/api/middleware"
	"github.com/inboxledger/inboxledger/internal/archive"
	"github.com/inboxledger/inboxledger/internal/config"
	"github.com/inboxledger/inboxledger/internal/extract"
	"github.com/inboxledger/inboxledger/internal/importer"
	"github.com/inboxledger/inboxledger/internal/jobs"
	"github.com/inboxledger/inboxledger/internal/jobs/inmemory"
	"github.com/inboxledger/inboxledger/internal/ledger"
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

	ctx := context.Background()

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
	} else {
		log.Warn().Msg("No archive bucket configured - raw messages will not be archived")
	}

	tokenManager := token.NewManager(st, token.NewGoogleRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret))
	extractor := extract.New(extract.NewGeminiGenerator(cfg.GeminiModel))
	coordinator := importer.New(st, tokenManager, mailbox.NewGmailClient(), extractor, importer.Options{
		MaxMessages:      cfg.MaxMessages,
		FetchConcurrency: cfg.FetchConcurrency,
		Archiver:         archiver,
	})
	recalc := ledger.NewRecalculator(st)

	// Job infrastructure: the API enqueues syncs and a background consumer
	// runs them, so POST /api/sync returns immediately.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.SyncUserJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		ctx = logger.WithContext(ctx, log)
		runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()

		_, err := coordinator.SyncUser(runCtx, syncJob.UserID, syncJob.RunID)
		return err
	}

	go func() {
		log.Info().Msg("Starting sync job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Sync job worker stopped with error")
		}
	}()

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(jobQueue, log)
	runsHandler := handlers.NewRunsHandler(st, log)
	transactionsHandler := handlers.NewTransactionsHandler(st, recalc, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			syncHandler.TriggerSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			runsHandler.ListRuns(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
			if runID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Run ID is required")
				return
			}
			runsHandler.GetRun(w, r, runID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			transactionsHandler.ListTransactions(w, r)
		case http.MethodPost:
			transactionsHandler.CreateTransaction(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
		if rest == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
			return
		}

		if txID, found := strings.CutSuffix(rest, "/flags/resolve"); found {
			if r.Method == http.MethodPost {
				transactionsHandler.ResolveFlag(w, r, txID)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
			return
		}

		switch r.Method {
		case http.MethodPut:
			transactionsHandler.UpdateTransaction(w, r, rest)
		case http.MethodDelete:
			transactionsHandler.DeleteTransaction(w, r, rest)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight syncs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

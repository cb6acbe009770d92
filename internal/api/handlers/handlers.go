package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inboxledger/inboxledger/internal/api/middleware"
	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/jobs"
	"github.com/inboxledger/inboxledger/internal/ledger"
	"github.com/inboxledger/inboxledger/internal/store"
)

// SyncHandler handles sync-related endpoints.
type SyncHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(publisher jobs.Publisher, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		publisher: publisher,
		log:       log,
	}
}

// TriggerSync handles POST /api/sync
// It enqueues a mailbox sync for the caller and returns immediately; a scan
// can take minutes when the model is slow.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	job := &jobs.SyncUserJob{
		UserID: userID,
		RunID:  uuid.New().String(),
	}

	if err := h.publisher.PublishSyncUser(ctx, job); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sync job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("user_id", userID).Msg("Sync job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"run_id": job.RunID,
		"status": string(job.Status),
	})
}

// RunsHandler handles sync run record endpoints.
type RunsHandler struct {
	runs store.Runs
	log  zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runs store.Runs, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		runs: runs,
		log:  log,
	}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.runs.ListRuns(ctx, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	if runs == nil {
		runs = []*domain.SyncRun{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	ctx := r.Context()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, run)
}

// TransactionsHandler handles manual transaction endpoints. Every mutation
// goes through the recalculator so aggregates stay consistent with imports.
type TransactionsHandler struct {
	store  store.Store
	recalc *ledger.Recalculator
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(s store.Store, recalc *ledger.Recalculator, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		store:  s,
		recalc: recalc,
		log:    log,
	}
}

type transactionRequest struct {
	Date       string  `json:"date"`
	Payee      string  `json:"payee"`
	Amount     float64 `json:"amount"`
	CategoryID string  `json:"category_id"`
	AccountID  string  `json:"account_id"`
	Status     string  `json:"status"`
	Notes      string  `json:"notes"`
}

func (req *transactionRequest) validate() (time.Time, error) {
	if req.Payee == "" {
		return time.Time{}, errors.New("payee is required")
	}
	if req.AccountID == "" {
		return time.Time{}, errors.New("account_id is required")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return date, nil
}

// ListTransactions handles GET /api/transactions?account_id=|category_id=
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	query := r.URL.Query()
	accountID := query.Get("account_id")
	categoryID := query.Get("category_id")

	var (
		transactions []domain.Transaction
		err          error
	)
	switch {
	case accountID != "":
		transactions, err = h.store.TransactionsByAccount(ctx, userID, accountID)
	case categoryID != "":
		transactions, err = h.store.TransactionsByCategory(ctx, userID, categoryID)
	default:
		middleware.WriteError(w, http.StatusBadRequest, "account_id or category_id is required")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	date, err := req.validate()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := domain.TransactionStatus(req.Status)
	if status == "" {
		status = domain.StatusUncleared
	}

	tx := &domain.Transaction{
		ID:         uuid.New().String(),
		Date:       date,
		Payee:      req.Payee,
		Amount:     req.Amount,
		CategoryID: req.CategoryID,
		AccountID:  req.AccountID,
		Status:     status,
		Notes:      req.Notes,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.recalc.Create(ctx, userID, tx); err != nil {
		h.writeMutationError(w, err, "Failed to create transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// UpdateTransaction handles PUT /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request, txID string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	existing, err := h.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.log.Error().Err(err).Str("transaction_id", txID).Msg("Failed to load transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update transaction")
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	date, err := req.validate()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated := *existing
	updated.Date = date
	updated.Payee = req.Payee
	updated.Amount = req.Amount
	updated.CategoryID = req.CategoryID
	updated.AccountID = req.AccountID
	updated.Notes = req.Notes
	if req.Status != "" {
		updated.Status = domain.TransactionStatus(req.Status)
	}

	if err := h.recalc.Update(ctx, userID, &updated); err != nil {
		h.writeMutationError(w, err, "Failed to update transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, &updated)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, txID string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	if err := h.recalc.Delete(ctx, userID, txID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.writeMutationError(w, err, "Failed to delete transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ResolveFlag handles POST /api/transactions/{id}/flags/resolve
// Flags are never removed; resolving marks one reviewed.
func (h *TransactionsHandler) ResolveFlag(w http.ResponseWriter, r *http.Request, txID string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Read-modify-write under the store's atomic unit so a concurrent
	// resolution or manual edit cannot drop the flag state.
	var resolved *domain.Transaction
	err := h.store.RunAtomic(ctx, func(ctx context.Context, b store.Budget) error {
		tx, err := b.GetTransaction(ctx, userID, txID)
		if err != nil {
			return err
		}
		if req.Index < 0 || req.Index >= len(tx.Flags) {
			return errFlagIndexRange
		}
		tx.Flags[req.Index].Resolved = true
		if err := b.UpdateTransaction(ctx, userID, tx); err != nil {
			return err
		}
		resolved = tx
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		case errors.Is(err, errFlagIndexRange):
			middleware.WriteError(w, http.StatusBadRequest, "Flag index out of range")
		default:
			h.log.Error().Err(err).Str("transaction_id", txID).Msg("Failed to resolve flag")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to resolve flag")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, resolved)
}

var errFlagIndexRange = errors.New("flag index out of range")

func (h *TransactionsHandler) writeMutationError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrDuplicateTransaction):
		middleware.WriteError(w, http.StatusConflict, "Transaction already imported from this email")
	case errors.Is(err, domain.ErrNotFound):
		middleware.WriteError(w, http.StatusBadRequest, "Referenced account or category does not exist")
	default:
		h.log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: query.Get("user_id"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

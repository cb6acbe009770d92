// Package store defines the document-store port the import pipeline persists
// through, and hosts its Firestore and in-memory implementations.
package store

import (
	"context"

	"github.com/inboxledger/inboxledger/internal/domain"
)

// Budget is the per-user budget document API: accounts, categories,
// transactions, and the equality-filtered queries the dedup check and the
// aggregate recompute need. All operations are namespaced by user id.
type Budget interface {
	ListAccounts(ctx context.Context, userID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, userID, id string) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, userID, id string, balance float64) error

	GetCategory(ctx context.Context, userID, id string) (*domain.Category, error)
	UpdateCategoryTotals(ctx context.Context, userID, id string, activity, available float64) error
	ListCategoryRules(ctx context.Context, userID string) ([]domain.CategoryRule, error)

	CreateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error
	UpdateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error)
	TransactionsByAccount(ctx context.Context, userID, accountID string) ([]domain.Transaction, error)
	TransactionsByCategory(ctx context.Context, userID, categoryID string) ([]domain.Transaction, error)
	// FindTransactionByEmailID returns domain.ErrNotFound when no
	// transaction carries the given dedup key.
	FindTransactionByEmailID(ctx context.Context, userID, emailID string) (*domain.Transaction, error)
}

// Tokens stores one TokenRecord per user. UserIDs enumerates every user
// holding a refresh token; it drives run discovery.
type Tokens interface {
	GetToken(ctx context.Context, userID string) (*domain.TokenRecord, error)
	SaveToken(ctx context.Context, rec *domain.TokenRecord) error
	DeleteToken(ctx context.Context, userID string) error
	UserIDs(ctx context.Context) ([]string, error)
}

// Runs persists sync run records.
type Runs interface {
	SaveRun(ctx context.Context, run *domain.SyncRun) error
	GetRun(ctx context.Context, id string) (*domain.SyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}

// Store is the full persistence collaborator.
//
// RunAtomic executes fn against a transactional view of the budget documents.
// The importer relies on it to keep "create transaction" and "recompute
// aggregates" one unit of work; a crash between them may not leave aggregates
// stale.
type Store interface {
	Budget
	Tokens
	Runs

	RunAtomic(ctx context.Context, fn func(ctx context.Context, b Budget) error) error
	Close() error
}

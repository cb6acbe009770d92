// Package ledger recomputes envelope and account aggregates after any
// transaction mutation. Aggregates are always rebuilt from a full scan of the
// affected entity's transactions: O(n) per write, but immune to drift, which
// is the right trade at personal-finance volumes.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/store"
)

// Sum adds the signed amounts of txns.
func Sum(txns []domain.Transaction) float64 {
	var total float64
	for _, tx := range txns {
		total += tx.Amount
	}
	return total
}

// Available derives the envelope invariant: available = assigned - activity.
func Available(assigned, activity float64) float64 {
	return assigned - activity
}

// Apply persists a transaction mutation and recomputes every category and
// account aggregate it touches, old and new. old nil means create; new nil
// means delete. It must run inside a store transaction (RunAtomic), and it
// issues all reads before its first write so Firestore-backed stores accept
// it.
func Apply(ctx context.Context, b store.Budget, userID string, prev, next *domain.Transaction) error {
	if prev == nil && next == nil {
		return fmt.Errorf("ledger: nothing to apply")
	}

	changedID := ""
	if prev != nil {
		changedID = prev.ID
	} else {
		changedID = next.ID
	}

	categoryIDs := affectedIDs(
		fieldOf(prev, func(t *domain.Transaction) string { return t.CategoryID }),
		fieldOf(next, func(t *domain.Transaction) string { return t.CategoryID }),
	)
	accountIDs := affectedIDs(
		fieldOf(prev, func(t *domain.Transaction) string { return t.AccountID }),
		fieldOf(next, func(t *domain.Transaction) string { return t.AccountID }),
	)

	// Read phase: load entities and their transaction sets.
	type categoryState struct {
		cat      *domain.Category
		activity float64
	}
	categories := make(map[string]categoryState, len(categoryIDs))
	for _, id := range categoryIDs {
		cat, err := b.GetCategory(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("ledger: category %s: %w", id, err)
		}
		txns, err := b.TransactionsByCategory(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("ledger: transactions for category %s: %w", id, err)
		}
		adjusted := adjust(txns, changedID, next, func(t *domain.Transaction) string { return t.CategoryID }, id)
		categories[id] = categoryState{cat: cat, activity: Sum(adjusted)}
	}

	accounts := make(map[string]float64, len(accountIDs))
	for _, id := range accountIDs {
		if _, err := b.GetAccount(ctx, userID, id); err != nil {
			return fmt.Errorf("ledger: account %s: %w", id, err)
		}
		txns, err := b.TransactionsByAccount(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("ledger: transactions for account %s: %w", id, err)
		}
		adjusted := adjust(txns, changedID, next, func(t *domain.Transaction) string { return t.AccountID }, id)
		accounts[id] = Sum(adjusted)
	}

	// Write phase: the mutation itself, then the recomputed aggregates.
	switch {
	case prev == nil:
		if err := b.CreateTransaction(ctx, userID, next); err != nil {
			return err
		}
	case next == nil:
		if err := b.DeleteTransaction(ctx, userID, prev.ID); err != nil {
			return err
		}
	default:
		if err := b.UpdateTransaction(ctx, userID, next); err != nil {
			return err
		}
	}

	for id, state := range categories {
		available := Available(state.cat.Assigned, state.activity)
		if err := b.UpdateCategoryTotals(ctx, userID, id, state.activity, available); err != nil {
			return fmt.Errorf("ledger: update category %s: %w", id, err)
		}
	}
	for id, balance := range accounts {
		if err := b.UpdateAccountBalance(ctx, userID, id, balance); err != nil {
			return fmt.Errorf("ledger: update account %s: %w", id, err)
		}
	}
	return nil
}

// adjust rewrites the stored transaction set to reflect the pending
// mutation: the changed transaction's stored version is dropped, and the new
// version is included when it references this entity.
func adjust(txns []domain.Transaction, changedID string, next *domain.Transaction, field func(*domain.Transaction) string, entityID string) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(txns)+1)
	for _, tx := range txns {
		if tx.ID == changedID {
			continue
		}
		out = append(out, tx)
	}
	if next != nil && field(next) == entityID {
		out = append(out, *next)
	}
	return out
}

func fieldOf(tx *domain.Transaction, field func(*domain.Transaction) string) string {
	if tx == nil {
		return ""
	}
	return field(tx)
}

func affectedIDs(ids ...string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Recalculator wraps a store with atomic mutate-and-recompute operations.
// Both the importer and the manual transaction API go through it, so every
// write path maintains the invariants.
type Recalculator struct {
	store store.Store
}

func NewRecalculator(s store.Store) *Recalculator {
	return &Recalculator{store: s}
}

// Create persists a new transaction and its aggregate updates atomically.
// When the transaction carries a dedup key and a transaction with that key
// already exists, domain.ErrDuplicateTransaction is returned and nothing is
// written.
func (r *Recalculator) Create(ctx context.Context, userID string, tx *domain.Transaction) error {
	return r.store.RunAtomic(ctx, func(ctx context.Context, b store.Budget) error {
		if tx.OriginalEmailID != "" {
			existing, err := b.FindTransactionByEmailID(ctx, userID, tx.OriginalEmailID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("ledger: dedup lookup: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("%w: message %s is transaction %s",
					domain.ErrDuplicateTransaction, tx.OriginalEmailID, existing.ID)
			}
		}
		return Apply(ctx, b, userID, nil, tx)
	})
}

// Update replaces a transaction and recomputes aggregates for the previous
// and the new category/account without double-counting shared entities.
func (r *Recalculator) Update(ctx context.Context, userID string, tx *domain.Transaction) error {
	return r.store.RunAtomic(ctx, func(ctx context.Context, b store.Budget) error {
		old, err := b.GetTransaction(ctx, userID, tx.ID)
		if err != nil {
			return err
		}
		return Apply(ctx, b, userID, old, tx)
	})
}

// Delete removes a transaction and recomputes the aggregates it affected.
func (r *Recalculator) Delete(ctx context.Context, userID, id string) error {
	return r.store.RunAtomic(ctx, func(ctx context.Context, b store.Budget) error {
		old, err := b.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		return Apply(ctx, b, userID, old, nil)
	})
}

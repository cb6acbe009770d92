// Package memory is an in-memory Store implementation. It backs tests and
// single-process local runs; data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/store"
)

type userData struct {
	accounts     map[string]domain.Account
	categories   map[string]domain.Category
	rules        []domain.CategoryRule
	transactions map[string]domain.Transaction
}

// Store is safe for concurrent use. RunAtomic takes the write lock for the
// whole callback and restores a snapshot when the callback fails, so partial
// mutations never become visible.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*userData
	tokens map[string]domain.TokenRecord
	runs   map[string]domain.SyncRun
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:  make(map[string]*userData),
		tokens: make(map[string]domain.TokenRecord),
		runs:   make(map[string]domain.SyncRun),
	}
}

// user lazily creates the user's data. Callers must hold the write lock;
// read paths go through view instead so they never mutate the map.
func (s *Store) user(userID string) *userData {
	u, ok := s.users[userID]
	if !ok {
		u = &userData{
			accounts:     make(map[string]domain.Account),
			categories:   make(map[string]domain.Category),
			transactions: make(map[string]domain.Transaction),
		}
		s.users[userID] = u
	}
	return u
}

// view returns the user's data for reading. An unknown user yields an empty
// view; reads from its nil maps behave like an empty user.
func (s *Store) view(userID string) *userData {
	if u, ok := s.users[userID]; ok {
		return u
	}
	return &userData{}
}

// Seed helpers used by tests and local bootstrapping.

func (s *Store) PutAccount(userID string, acc domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).accounts[acc.ID] = acc
}

func (s *Store) PutCategory(userID string, cat domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).categories[cat.ID] = cat
}

func (s *Store) PutCategoryRule(userID string, rule domain.CategoryRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	u.rules = append(u.rules, rule)
}

// Budget implementation.

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAccounts(userID)
}

func (s *Store) listAccounts(userID string) ([]domain.Account, error) {
	u := s.view(userID)
	out := make([]domain.Account, 0, len(u.accounts))
	for _, acc := range u.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, userID, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccount(userID, id)
}

func (s *Store) getAccount(userID, id string) (*domain.Account, error) {
	acc, ok := s.view(userID).accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := acc
	return &cp, nil
}

func (s *Store) UpdateAccountBalance(ctx context.Context, userID, id string, balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAccountBalance(userID, id, balance)
}

func (s *Store) updateAccountBalance(userID, id string, balance float64) error {
	u := s.user(userID)
	acc, ok := u.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	acc.ClearedBalance = balance
	u.accounts[id] = acc
	return nil
}

func (s *Store) GetCategory(ctx context.Context, userID, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCategory(userID, id)
}

func (s *Store) getCategory(userID, id string) (*domain.Category, error) {
	cat, ok := s.view(userID).categories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := cat
	return &cp, nil
}

func (s *Store) UpdateCategoryTotals(ctx context.Context, userID, id string, activity, available float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCategoryTotals(userID, id, activity, available)
}

func (s *Store) updateCategoryTotals(userID, id string, activity, available float64) error {
	u := s.user(userID)
	cat, ok := u.categories[id]
	if !ok {
		return domain.ErrNotFound
	}
	cat.Activity = activity
	cat.Available = available
	u.categories[id] = cat
	return nil
}

func (s *Store) ListCategoryRules(ctx context.Context, userID string) ([]domain.CategoryRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCategoryRules(userID)
}

func (s *Store) listCategoryRules(userID string) ([]domain.CategoryRule, error) {
	u := s.view(userID)
	out := make([]domain.CategoryRule, len(u.rules))
	copy(out, u.rules)
	return out, nil
}

func (s *Store) CreateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTransaction(userID, tx)
}

func (s *Store) createTransaction(userID string, tx *domain.Transaction) error {
	s.user(userID).transactions[tx.ID] = *tx
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTransaction(userID, tx)
}

func (s *Store) updateTransaction(userID string, tx *domain.Transaction) error {
	u := s.user(userID)
	if _, ok := u.transactions[tx.ID]; !ok {
		return domain.ErrNotFound
	}
	u.transactions[tx.ID] = *tx
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTransaction(userID, id)
}

func (s *Store) deleteTransaction(userID, id string) error {
	u := s.user(userID)
	if _, ok := u.transactions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(u.transactions, id)
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTransaction(userID, id)
}

func (s *Store) getTransaction(userID, id string) (*domain.Transaction, error) {
	tx, ok := s.view(userID).transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := tx
	return &cp, nil
}

func (s *Store) TransactionsByAccount(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionsBy(userID, func(tx domain.Transaction) bool { return tx.AccountID == accountID })
}

func (s *Store) TransactionsByCategory(ctx context.Context, userID, categoryID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionsBy(userID, func(tx domain.Transaction) bool { return tx.CategoryID == categoryID })
}

func (s *Store) transactionsBy(userID string, match func(domain.Transaction) bool) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range s.view(userID).transactions {
		if match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindTransactionByEmailID(ctx context.Context, userID, emailID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findTransactionByEmailID(userID, emailID)
}

func (s *Store) findTransactionByEmailID(userID, emailID string) (*domain.Transaction, error) {
	for _, tx := range s.view(userID).transactions {
		if tx.OriginalEmailID == emailID {
			cp := tx
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Tokens implementation.

func (s *Store) GetToken(ctx context.Context, userID string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (s *Store) SaveToken(ctx context.Context, rec *domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[rec.UserID] = *rec
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return nil
}

func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens))
	for id, rec := range s.tokens {
		if rec.RefreshToken != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Runs implementation.

func (s *Store) SaveRun(ctx context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := run
	return &cp, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.SyncRun, 0, len(s.runs))
	for _, run := range s.runs {
		cp := run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunAtomic runs fn under the write lock against an unlocked view. On error
// the pre-callback snapshot is restored.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, b store.Budget) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotUsers()
	if err := fn(ctx, &txView{s: s}); err != nil {
		s.users = snapshot
		return err
	}
	return nil
}

func (s *Store) snapshotUsers() map[string]*userData {
	cp := make(map[string]*userData, len(s.users))
	for id, u := range s.users {
		uc := &userData{
			accounts:     make(map[string]domain.Account, len(u.accounts)),
			categories:   make(map[string]domain.Category, len(u.categories)),
			transactions: make(map[string]domain.Transaction, len(u.transactions)),
			rules:        append([]domain.CategoryRule(nil), u.rules...),
		}
		for k, v := range u.accounts {
			uc.accounts[k] = v
		}
		for k, v := range u.categories {
			uc.categories[k] = v
		}
		for k, v := range u.transactions {
			uc.transactions[k] = v
		}
		cp[id] = uc
	}
	return cp
}

// txView exposes the unlocked internals while RunAtomic holds the lock.
type txView struct {
	s *Store
}

var _ store.Budget = (*txView)(nil)

func (v *txView) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	return v.s.listAccounts(userID)
}

func (v *txView) GetAccount(ctx context.Context, userID, id string) (*domain.Account, error) {
	return v.s.getAccount(userID, id)
}

func (v *txView) UpdateAccountBalance(ctx context.Context, userID, id string, balance float64) error {
	return v.s.updateAccountBalance(userID, id, balance)
}

func (v *txView) GetCategory(ctx context.Context, userID, id string) (*domain.Category, error) {
	return v.s.getCategory(userID, id)
}

func (v *txView) UpdateCategoryTotals(ctx context.Context, userID, id string, activity, available float64) error {
	return v.s.updateCategoryTotals(userID, id, activity, available)
}

func (v *txView) ListCategoryRules(ctx context.Context, userID string) ([]domain.CategoryRule, error) {
	return v.s.listCategoryRules(userID)
}

func (v *txView) CreateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	return v.s.createTransaction(userID, tx)
}

func (v *txView) UpdateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	return v.s.updateTransaction(userID, tx)
}

func (v *txView) DeleteTransaction(ctx context.Context, userID, id string) error {
	return v.s.deleteTransaction(userID, id)
}

func (v *txView) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	return v.s.getTransaction(userID, id)
}

func (v *txView) TransactionsByAccount(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	return v.s.transactionsBy(userID, func(tx domain.Transaction) bool { return tx.AccountID == accountID })
}

func (v *txView) TransactionsByCategory(ctx context.Context, userID, categoryID string) ([]domain.Transaction, error) {
	return v.s.transactionsBy(userID, func(tx domain.Transaction) bool { return tx.CategoryID == categoryID })
}

func (v *txView) FindTransactionByEmailID(ctx context.Context, userID, emailID string) (*domain.Transaction, error) {
	return v.s.findTransactionByEmailID(userID, emailID)
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Package firestore implements store.Store on Cloud Firestore. Budget
// documents live under users/{uid}; tokens and run records are top-level
// collections. RunAtomic maps onto a native Firestore transaction, which is
// what makes "persist + recompute aggregates" one unit of work.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/store"
)

const (
	usersCollection  = "users"
	tokensCollection = "tokens"
	runsCollection   = "sync_runs"

	accountsCollection     = "accounts"
	categoriesCollection   = "categories"
	rulesCollection        = "category_rules"
	transactionsCollection = "transactions"
)

// Store holds a shared Firestore client; create one per process and Close it
// on shutdown.
type Store struct {
	client *firestore.Client
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, projectID string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ops abstracts direct and transactional document access so the budget
// methods are written once. Firestore transactions require every read to
// happen before the first write; callers of RunAtomic keep that ordering.
type ops interface {
	get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error)
	docs(q firestore.Query) *firestore.DocumentIterator
	set(ref *firestore.DocumentRef, v interface{}) error
	update(ref *firestore.DocumentRef, updates []firestore.Update) error
	delete(ref *firestore.DocumentRef) error
}

type directOps struct {
	ctx context.Context
}

func (o directOps) get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return ref.Get(o.ctx)
}

func (o directOps) docs(q firestore.Query) *firestore.DocumentIterator {
	return q.Documents(o.ctx)
}

func (o directOps) set(ref *firestore.DocumentRef, v interface{}) error {
	_, err := ref.Set(o.ctx, v)
	return err
}

func (o directOps) update(ref *firestore.DocumentRef, updates []firestore.Update) error {
	_, err := ref.Update(o.ctx, updates)
	return err
}

func (o directOps) delete(ref *firestore.DocumentRef) error {
	_, err := ref.Delete(o.ctx)
	return err
}

type txOps struct {
	tx *firestore.Transaction
}

func (o txOps) get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return o.tx.Get(ref)
}

func (o txOps) docs(q firestore.Query) *firestore.DocumentIterator {
	return o.tx.Documents(q)
}

func (o txOps) set(ref *firestore.DocumentRef, v interface{}) error {
	return o.tx.Set(ref, v)
}

func (o txOps) update(ref *firestore.DocumentRef, updates []firestore.Update) error {
	return o.tx.Update(ref, updates)
}

func (o txOps) delete(ref *firestore.DocumentRef) error {
	return o.tx.Delete(ref)
}

// budget implements store.Budget over either access mode.
type budget struct {
	client *firestore.Client
	ops    ops
}

func (s *Store) budgetFor(ctx context.Context) *budget {
	return &budget{client: s.client, ops: directOps{ctx: ctx}}
}

func (b *budget) userDoc(userID string) *firestore.DocumentRef {
	return b.client.Collection(usersCollection).Doc(userID)
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (b *budget) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	iter := b.ops.docs(b.userDoc(userID).Collection(accountsCollection).Query)
	defer iter.Stop()

	var out []domain.Account
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list accounts: %w", err)
		}
		var acc domain.Account
		if err := ds.DataTo(&acc); err != nil {
			return nil, fmt.Errorf("firestore: decode account %s: %w", ds.Ref.ID, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

func (b *budget) GetAccount(ctx context.Context, userID, id string) (*domain.Account, error) {
	ds, err := b.ops.get(b.userDoc(userID).Collection(accountsCollection).Doc(id))
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore: get account: %w", err)
	}
	var acc domain.Account
	if err := ds.DataTo(&acc); err != nil {
		return nil, fmt.Errorf("firestore: decode account: %w", err)
	}
	return &acc, nil
}

func (b *budget) UpdateAccountBalance(ctx context.Context, userID, id string, balance float64) error {
	ref := b.userDoc(userID).Collection(accountsCollection).Doc(id)
	if err := b.ops.update(ref, []firestore.Update{{Path: "cleared_balance", Value: balance}}); err != nil {
		if notFound(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("firestore: update account balance: %w", err)
	}
	return nil
}

func (b *budget) GetCategory(ctx context.Context, userID, id string) (*domain.Category, error) {
	ds, err := b.ops.get(b.userDoc(userID).Collection(categoriesCollection).Doc(id))
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore: get category: %w", err)
	}
	var cat domain.Category
	if err := ds.DataTo(&cat); err != nil {
		return nil, fmt.Errorf("firestore: decode category: %w", err)
	}
	return &cat, nil
}

func (b *budget) UpdateCategoryTotals(ctx context.Context, userID, id string, activity, available float64) error {
	ref := b.userDoc(userID).Collection(categoriesCollection).Doc(id)
	err := b.ops.update(ref, []firestore.Update{
		{Path: "activity", Value: activity},
		{Path: "available", Value: available},
	})
	if err != nil {
		if notFound(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("firestore: update category totals: %w", err)
	}
	return nil
}

func (b *budget) ListCategoryRules(ctx context.Context, userID string) ([]domain.CategoryRule, error) {
	iter := b.ops.docs(b.userDoc(userID).Collection(rulesCollection).Query)
	defer iter.Stop()

	var out []domain.CategoryRule
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list category rules: %w", err)
		}
		var rule domain.CategoryRule
		if err := ds.DataTo(&rule); err != nil {
			return nil, fmt.Errorf("firestore: decode category rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (b *budget) CreateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	ref := b.userDoc(userID).Collection(transactionsCollection).Doc(tx.ID)
	if err := b.ops.set(ref, tx); err != nil {
		return fmt.Errorf("firestore: create transaction: %w", err)
	}
	return nil
}

func (b *budget) UpdateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	ref := b.userDoc(userID).Collection(transactionsCollection).Doc(tx.ID)
	if err := b.ops.set(ref, tx); err != nil {
		return fmt.Errorf("firestore: update transaction: %w", err)
	}
	return nil
}

func (b *budget) DeleteTransaction(ctx context.Context, userID, id string) error {
	ref := b.userDoc(userID).Collection(transactionsCollection).Doc(id)
	if err := b.ops.delete(ref); err != nil {
		return fmt.Errorf("firestore: delete transaction: %w", err)
	}
	return nil
}

func (b *budget) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	ds, err := b.ops.get(b.userDoc(userID).Collection(transactionsCollection).Doc(id))
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore: get transaction: %w", err)
	}
	var tx domain.Transaction
	if err := ds.DataTo(&tx); err != nil {
		return nil, fmt.Errorf("firestore: decode transaction: %w", err)
	}
	return &tx, nil
}

func (b *budget) TransactionsByAccount(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	q := b.userDoc(userID).Collection(transactionsCollection).Where("account_id", "==", accountID)
	return b.queryTransactions(q)
}

func (b *budget) TransactionsByCategory(ctx context.Context, userID, categoryID string) ([]domain.Transaction, error) {
	q := b.userDoc(userID).Collection(transactionsCollection).Where("category_id", "==", categoryID)
	return b.queryTransactions(q)
}

func (b *budget) queryTransactions(q firestore.Query) ([]domain.Transaction, error) {
	iter := b.ops.docs(q)
	defer iter.Stop()

	var out []domain.Transaction
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: query transactions: %w", err)
		}
		var tx domain.Transaction
		if err := ds.DataTo(&tx); err != nil {
			return nil, fmt.Errorf("firestore: decode transaction %s: %w", ds.Ref.ID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (b *budget) FindTransactionByEmailID(ctx context.Context, userID, emailID string) (*domain.Transaction, error) {
	q := b.userDoc(userID).Collection(transactionsCollection).
		Where("original_email_id", "==", emailID).Limit(1)
	txs, err := b.queryTransactions(q)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &txs[0], nil
}

// Budget method forwarding on Store (non-transactional access).

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	return s.budgetFor(ctx).ListAccounts(ctx, userID)
}

func (s *Store) GetAccount(ctx context.Context, userID, id string) (*domain.Account, error) {
	return s.budgetFor(ctx).GetAccount(ctx, userID, id)
}

func (s *Store) UpdateAccountBalance(ctx context.Context, userID, id string, balance float64) error {
	return s.budgetFor(ctx).UpdateAccountBalance(ctx, userID, id, balance)
}

func (s *Store) GetCategory(ctx context.Context, userID, id string) (*domain.Category, error) {
	return s.budgetFor(ctx).GetCategory(ctx, userID, id)
}

func (s *Store) UpdateCategoryTotals(ctx context.Context, userID, id string, activity, available float64) error {
	return s.budgetFor(ctx).UpdateCategoryTotals(ctx, userID, id, activity, available)
}

func (s *Store) ListCategoryRules(ctx context.Context, userID string) ([]domain.CategoryRule, error) {
	return s.budgetFor(ctx).ListCategoryRules(ctx, userID)
}

func (s *Store) CreateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	return s.budgetFor(ctx).CreateTransaction(ctx, userID, tx)
}

func (s *Store) UpdateTransaction(ctx context.Context, userID string, tx *domain.Transaction) error {
	return s.budgetFor(ctx).UpdateTransaction(ctx, userID, tx)
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	return s.budgetFor(ctx).DeleteTransaction(ctx, userID, id)
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	return s.budgetFor(ctx).GetTransaction(ctx, userID, id)
}

func (s *Store) TransactionsByAccount(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	return s.budgetFor(ctx).TransactionsByAccount(ctx, userID, accountID)
}

func (s *Store) TransactionsByCategory(ctx context.Context, userID, categoryID string) ([]domain.Transaction, error) {
	return s.budgetFor(ctx).TransactionsByCategory(ctx, userID, categoryID)
}

func (s *Store) FindTransactionByEmailID(ctx context.Context, userID, emailID string) (*domain.Transaction, error) {
	return s.budgetFor(ctx).FindTransactionByEmailID(ctx, userID, emailID)
}

// Tokens implementation.

func (s *Store) GetToken(ctx context.Context, userID string) (*domain.TokenRecord, error) {
	ds, err := s.client.Collection(tokensCollection).Doc(userID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore: get token: %w", err)
	}
	var rec domain.TokenRecord
	if err := ds.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("firestore: decode token: %w", err)
	}
	return &rec, nil
}

func (s *Store) SaveToken(ctx context.Context, rec *domain.TokenRecord) error {
	if _, err := s.client.Collection(tokensCollection).Doc(rec.UserID).Set(ctx, rec); err != nil {
		return fmt.Errorf("firestore: save token: %w", err)
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	if _, err := s.client.Collection(tokensCollection).Doc(userID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore: delete token: %w", err)
	}
	return nil
}

func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	iter := s.client.Collection(tokensCollection).Documents(ctx)
	defer iter.Stop()

	var out []string
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list tokens: %w", err)
		}
		var rec domain.TokenRecord
		if err := ds.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("firestore: decode token %s: %w", ds.Ref.ID, err)
		}
		if rec.RefreshToken != "" {
			out = append(out, rec.UserID)
		}
	}
	return out, nil
}

// Runs implementation.

func (s *Store) SaveRun(ctx context.Context, run *domain.SyncRun) error {
	if _, err := s.client.Collection(runsCollection).Doc(run.ID).Set(ctx, run); err != nil {
		return fmt.Errorf("firestore: save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	ds, err := s.client.Collection(runsCollection).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore: get run: %w", err)
	}
	var run domain.SyncRun
	if err := ds.DataTo(&run); err != nil {
		return nil, fmt.Errorf("firestore: decode run: %w", err)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	q := s.client.Collection(runsCollection).OrderBy("started_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.SyncRun
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list runs: %w", err)
		}
		var run domain.SyncRun
		if err := ds.DataTo(&run); err != nil {
			return nil, fmt.Errorf("firestore: decode run %s: %w", ds.Ref.ID, err)
		}
		out = append(out, &run)
	}
	return out, nil
}

// RunAtomic executes fn inside a Firestore transaction. fn must issue every
// read before its first write; the ledger recalculator is written to that
// discipline.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, b store.Budget) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &budget{client: s.client, ops: txOps{tx: tx}})
	})
}

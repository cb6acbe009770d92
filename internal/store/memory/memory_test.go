package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/store"
)

func TestAccountsRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutAccount("u1", domain.Account{ID: "a1", Name: "Checking", EmailDomain: "chase.com"})
	s.PutAccount("u1", domain.Account{ID: "a2", Name: "Savings"})
	s.PutAccount("u2", domain.Account{ID: "a3", Name: "Other user"})

	accounts, err := s.ListAccounts(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}

	if err := s.UpdateAccountBalance(ctx, "u1", "a1", -45.67); err != nil {
		t.Fatalf("UpdateAccountBalance: %v", err)
	}
	acc, err := s.GetAccount(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.ClearedBalance != -45.67 {
		t.Errorf("balance = %.2f, want -45.67", acc.ClearedBalance)
	}

	if _, err := s.GetAccount(ctx, "u2", "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-user read: got %v, want ErrNotFound", err)
	}
}

func TestTransactionQueries(t *testing.T) {
	s := New()
	ctx := context.Background()

	txns := []domain.Transaction{
		{ID: "t1", AccountID: "a1", CategoryID: "c1", Amount: -10, OriginalEmailID: "m1"},
		{ID: "t2", AccountID: "a1", CategoryID: "c2", Amount: -20},
		{ID: "t3", AccountID: "a2", CategoryID: "c1", Amount: 30},
	}
	for i := range txns {
		if err := s.CreateTransaction(ctx, "u1", &txns[i]); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	byAccount, err := s.TransactionsByAccount(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("TransactionsByAccount: %v", err)
	}
	if len(byAccount) != 2 {
		t.Errorf("account a1 has %d transactions, want 2", len(byAccount))
	}

	byCategory, err := s.TransactionsByCategory(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("TransactionsByCategory: %v", err)
	}
	if len(byCategory) != 2 {
		t.Errorf("category c1 has %d transactions, want 2", len(byCategory))
	}

	found, err := s.FindTransactionByEmailID(ctx, "u1", "m1")
	if err != nil {
		t.Fatalf("FindTransactionByEmailID: %v", err)
	}
	if found.ID != "t1" {
		t.Errorf("found %s, want t1", found.ID)
	}
	if _, err := s.FindTransactionByEmailID(ctx, "u1", "m-unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRunAtomicRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAccount("u1", domain.Account{ID: "a1"})

	boom := errors.New("boom")
	err := s.RunAtomic(ctx, func(ctx context.Context, b store.Budget) error {
		if err := b.CreateTransaction(ctx, "u1", &domain.Transaction{ID: "t1", AccountID: "a1", Amount: -5}); err != nil {
			return err
		}
		if err := b.UpdateAccountBalance(ctx, "u1", "a1", -5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	if _, err := s.GetTransaction(ctx, "u1", "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("transaction survived a rolled-back unit of work")
	}
	acc, err := s.GetAccount(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.ClearedBalance != 0 {
		t.Errorf("balance = %.2f, want 0 after rollback", acc.ClearedBalance)
	}
}

func TestRunAtomicCommits(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAccount("u1", domain.Account{ID: "a1"})

	err := s.RunAtomic(ctx, func(ctx context.Context, b store.Budget) error {
		return b.CreateTransaction(ctx, "u1", &domain.Transaction{ID: "t1", AccountID: "a1", Amount: -5})
	})
	if err != nil {
		t.Fatalf("RunAtomic: %v", err)
	}
	if _, err := s.GetTransaction(ctx, "u1", "t1"); err != nil {
		t.Errorf("committed transaction missing: %v", err)
	}
}

func TestUserIDsRequiresRefreshToken(t *testing.T) {
	s := New()
	ctx := context.Background()

	recs := []domain.TokenRecord{
		{UserID: "u1", RefreshToken: "rt1"},
		{UserID: "u2"}, // access token only, not sync eligible
		{UserID: "u3", RefreshToken: "rt3"},
	}
	for i := range recs {
		if err := s.SaveToken(ctx, &recs[i]); err != nil {
			t.Fatalf("SaveToken: %v", err)
		}
	}

	ids, err := s.UserIDs(ctx)
	if err != nil {
		t.Fatalf("UserIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u3" {
		t.Errorf("UserIDs = %v, want [u1 u3]", ids)
	}
}

func TestRunsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		run := &domain.SyncRun{ID: id, Status: domain.RunCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Errorf("order = [%s %s], want [r3 r2]", runs[0].ID, runs[1].ID)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestStoredValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx := &domain.Transaction{ID: "t1", AccountID: "a1", Amount: -5}
	if err := s.CreateTransaction(ctx, "u1", tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	tx.Amount = -999

	got, err := s.GetTransaction(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Amount != -5 {
		t.Errorf("stored amount mutated through caller pointer: %.2f", got.Amount)
	}
}

func TestConcurrentReadsOfUnknownUsers(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i)

			accounts, err := s.ListAccounts(ctx, userID)
			if err != nil {
				t.Errorf("ListAccounts(%s): %v", userID, err)
			}
			if len(accounts) != 0 {
				t.Errorf("ListAccounts(%s) = %d accounts, want 0", userID, len(accounts))
			}
			if _, err := s.GetAccount(ctx, userID, "a1"); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("GetAccount(%s): got %v, want ErrNotFound", userID, err)
			}
			if _, err := s.FindTransactionByEmailID(ctx, userID, "m1"); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("FindTransactionByEmailID(%s): got %v, want ErrNotFound", userID, err)
			}
		}(i)
	}
	wg.Wait()

	// Reads never materialize user entries.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.users) != 0 {
		t.Errorf("read paths created %d user entries, want 0", len(s.users))
	}
}

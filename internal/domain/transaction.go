package domain

import (
	"time"
)

// TransactionStatus is the clearing state of a transaction.
type TransactionStatus string

const (
	StatusUncleared  TransactionStatus = "uncleared"
	StatusCleared    TransactionStatus = "cleared"
	StatusReconciled TransactionStatus = "reconciled"
)

// TransactionType classifies what kind of movement an email described.
type TransactionType string

const (
	TypePurchase   TransactionType = "purchase"
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeTransfer   TransactionType = "transfer"
	TypeFee        TransactionType = "fee"
	TypeUnknown    TransactionType = "unknown"
)

// ParseTransactionType maps a model-reported type string onto the closed set.
// Anything unrecognized becomes TypeUnknown rather than an error; the type
// only steers sign normalization and flagging, never persistence validity.
func ParseTransactionType(s string) TransactionType {
	switch TransactionType(s) {
	case TypePurchase, TypeDeposit, TypeWithdrawal, TypeTransfer, TypeFee:
		return TransactionType(s)
	default:
		return TypeUnknown
	}
}

// Transaction is a persisted ledger entry. Amount is signed: negative for
// debits/expenses, positive for credits/income.
type Transaction struct {
	ID              string            `json:"id" firestore:"id"`
	Date            time.Time         `json:"date" firestore:"date"`
	Payee           string            `json:"payee" firestore:"payee"`
	Amount          float64           `json:"amount" firestore:"amount"`
	CategoryID      string            `json:"category_id,omitempty" firestore:"category_id"`
	AccountID       string            `json:"account_id" firestore:"account_id"`
	Status          TransactionStatus `json:"status" firestore:"status"`
	OriginalEmailID string            `json:"original_email_id,omitempty" firestore:"original_email_id"`
	Notes           string            `json:"notes,omitempty" firestore:"notes"`
	Flags           []Flag            `json:"flags,omitempty" firestore:"flags"`
	CreatedAt       time.Time         `json:"created_at" firestore:"created_at"`
}

package domain

// AccountType is the kind of linked bank account.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCredit   AccountType = "credit"
)

// Account is a budgeting account linked to a real bank account.
// EmailDomain, when set, routes notification emails from that sender domain
// into this account.
type Account struct {
	ID             string      `json:"id" firestore:"id"`
	Name           string      `json:"name" firestore:"name"`
	Type           AccountType `json:"type" firestore:"type"`
	ClearedBalance float64     `json:"cleared_balance" firestore:"cleared_balance"`
	EmailDomain    string      `json:"email_domain,omitempty" firestore:"email_domain"`
}

// Category is an envelope-budgeting category. Available is derived:
// available = assigned - activity, maintained by the ledger recalculator.
type Category struct {
	ID        string  `json:"id" firestore:"id"`
	Name      string  `json:"name" firestore:"name"`
	Group     string  `json:"group" firestore:"group"`
	Assigned  float64 `json:"assigned" firestore:"assigned"`
	Activity  float64 `json:"activity" firestore:"activity"`
	Available float64 `json:"available" firestore:"available"`
}

// CategoryRule auto-assigns a category when the payee contains Keyword
// (case-insensitive). Rules are user-maintained data, not code.
type CategoryRule struct {
	Keyword    string `json:"keyword" firestore:"keyword"`
	CategoryID string `json:"category_id" firestore:"category_id"`
}

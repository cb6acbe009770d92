package domain

import "time"

// FlagReason identifies which risk rule raised a flag.
type FlagReason string

const (
	FlagCurrencyMismatch FlagReason = "currency_mismatch"
	FlagLowConfidence    FlagReason = "low_confidence"
	FlagMissingCategory  FlagReason = "missing_category"
	FlagUnusualAmount    FlagReason = "unusual_amount"
)

// Flag is an append-only review annotation on a transaction. Flags are never
// deleted; a user action may only mark one resolved.
type Flag struct {
	Reason    FlagReason `json:"reason" firestore:"reason"`
	Message   string     `json:"message" firestore:"message"`
	CreatedAt time.Time  `json:"created_at" firestore:"created_at"`
	Resolved  bool       `json:"resolved" firestore:"resolved"`
}

// Confidence is the extractor's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence normalizes a model-reported confidence string. Unrecognized
// values are treated as low so they surface for review.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s)
	default:
		return ConfidenceLow
	}
}

// Candidate is a parsed transaction candidate produced by the extractor.
// It is transient: it becomes a Transaction only after domain matching and
// the dedup check succeed.
type Candidate struct {
	Date       time.Time
	Payee      string
	Amount     float64
	Type       TransactionType
	Confidence Confidence
	Notes      string
}

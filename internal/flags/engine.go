// Package flags runs stateless risk rules over a parsed candidate and its
// source email. Each rule contributes at most one flag; flags accumulate on
// the created transaction as an append-only audit trail.
package flags

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/inboxledger/inboxledger/internal/domain"
)

// Amounts outside this band are suspicious for a personal-finance inbox.
const (
	unusualHigh = 10000
	unusualLow  = 0.01
)

// Phrases banks use when the displayed amount may be in a foreign currency.
var currencyDisclaimers = []string{
	"may be in a different currency",
	"converted to your local currency",
	"foreign currency",
	"exchange rate",
	"original currency",
}

// Rule inspects one (email, candidate) pair. categoryID is the auto-assigned
// category, empty when none matched.
type Rule func(email *domain.Email, c *domain.Candidate, categoryID string, now time.Time) *domain.Flag

// Engine evaluates a fixed rule set. Zero value is not usable; construct
// with New.
type Engine struct {
	rules []Rule
}

func New() *Engine {
	return &Engine{rules: []Rule{
		currencyMismatchRule,
		lowConfidenceRule,
		missingCategoryRule,
		unusualAmountRule,
	}}
}

// Evaluate runs every rule and returns the accumulated flags.
func (e *Engine) Evaluate(email *domain.Email, c *domain.Candidate, categoryID string, now time.Time) []domain.Flag {
	var out []domain.Flag
	for _, rule := range e.rules {
		if f := rule(email, c, categoryID, now); f != nil {
			out = append(out, *f)
		}
	}
	return out
}

func currencyMismatchRule(email *domain.Email, c *domain.Candidate, _ string, now time.Time) *domain.Flag {
	body := strings.ToLower(email.Body)
	for _, phrase := range currencyDisclaimers {
		if strings.Contains(body, phrase) {
			return &domain.Flag{
				Reason:    domain.FlagCurrencyMismatch,
				Message:   fmt.Sprintf("email contains currency disclaimer (%q); amount may not be in the account currency", phrase),
				CreatedAt: now,
			}
		}
	}
	return nil
}

func lowConfidenceRule(_ *domain.Email, c *domain.Candidate, _ string, now time.Time) *domain.Flag {
	if c.Confidence != domain.ConfidenceLow {
		return nil
	}
	return &domain.Flag{
		Reason:    domain.FlagLowConfidence,
		Message:   "extractor reported low confidence in this transaction",
		CreatedAt: now,
	}
}

func missingCategoryRule(_ *domain.Email, _ *domain.Candidate, categoryID string, now time.Time) *domain.Flag {
	if categoryID != "" {
		return nil
	}
	return &domain.Flag{
		Reason:    domain.FlagMissingCategory,
		Message:   "no category rule matched the payee; assign one manually",
		CreatedAt: now,
	}
}

func unusualAmountRule(_ *domain.Email, c *domain.Candidate, _ string, now time.Time) *domain.Flag {
	abs := math.Abs(c.Amount)
	if abs <= unusualHigh && abs >= unusualLow {
		return nil
	}
	return &domain.Flag{
		Reason:    domain.FlagUnusualAmount,
		Message:   fmt.Sprintf("amount %.2f is outside the expected range", c.Amount),
		CreatedAt: now,
	}
}

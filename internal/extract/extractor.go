// Package extract turns raw email content into a structured,
// confidence-scored transaction candidate by delegating to a text-generation
// model under a strict one-JSON-object contract.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/retry"
)

// Generator is the model backend: one prompt in, raw model text out. Any
// backend honoring the contract is substitutable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Extractor validates and normalizes model output into candidates.
type Extractor struct {
	gen    Generator
	policy retry.Policy
	now    func() time.Time
}

func New(gen Generator) *Extractor {
	return &Extractor{
		gen:    gen,
		policy: retry.DefaultPolicy,
		now:    time.Now,
	}
}

// Parse extracts a candidate from the email. Malformed or incomplete model
// output yields domain.ErrParseFailure; the caller skips the message.
func (e *Extractor) Parse(ctx context.Context, email *domain.Email) (*domain.Candidate, error) {
	prompt := buildPrompt(email, e.now())

	var rawText string
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		out, err := e.gen.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		rawText = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: model call failed: %v", domain.ErrParseFailure, err)
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("%w: empty model response", domain.ErrParseFailure)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &obj); err != nil {
		return nil, fmt.Errorf("%w: unmarshal model output: %v (output: %s)", domain.ErrParseFailure, err, snippet(rawText))
	}

	candidate, err := candidateFromModel(obj, email, e.now())
	if err != nil {
		return nil, fmt.Errorf("%w (output: %s)", err, snippet(rawText))
	}
	return candidate, nil
}

// snippet trims model output for inclusion in error detail.
func snippet(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// candidateFromModel validates required fields, coerces types, resolves the
// transaction date, and normalizes the amount sign.
func candidateFromModel(obj map[string]interface{}, email *domain.Email, now time.Time) (*domain.Candidate, error) {
	payee, err := stringField(obj, "payee", true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}

	amount, err := amountField(obj, "amount")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}

	txType := domain.ParseTransactionType(mustString(obj, "transactionType"))
	confidence := domain.ParseConfidence(mustString(obj, "confidence"))
	notes := mustString(obj, "notes")

	date, err := resolveDate(mustString(obj, "date"), email.ReceivedAt, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}

	return &domain.Candidate{
		Date:       date,
		Payee:      payee,
		Amount:     normalizeSign(amount, txType),
		Type:       txType,
		Confidence: confidence,
		Notes:      notes,
	}, nil
}

// resolveDate applies the precedence rules: an explicit transaction date
// from the body wins; the email's received date covers emails with no
// extractable date; today is only reachable when the email also arrived
// today.
func resolveDate(dateStr string, receivedAt, now time.Time) (time.Time, error) {
	if dateStr != "" {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %v", dateStr, err)
		}
		return date, nil
	}
	if !receivedAt.IsZero() {
		return receivedAt.Truncate(24 * time.Hour), nil
	}
	return now.Truncate(24 * time.Hour), nil
}

// normalizeSign enforces the sign convention against the reported type
// rather than trusting the model: debit-like types are negative, credit-like
// positive. Transfers and unknowns keep the reported sign.
func normalizeSign(amount float64, txType domain.TransactionType) float64 {
	switch txType {
	case domain.TypePurchase, domain.TypeWithdrawal, domain.TypeFee:
		return -math.Abs(amount)
	case domain.TypeDeposit:
		return math.Abs(amount)
	case domain.TypeTransfer, domain.TypeUnknown:
		return amount
	}
	return amount
}

func stringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return s, nil
}

// mustString reads an optional string field, tolerating absence and nulls.
func mustString(m map[string]interface{}, key string) string {
	s, err := stringField(m, key, false)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// amountField accepts a JSON number or a numeric string ("45.67", "-45.67",
// "$45.67") and rejects everything else.
func amountField(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(val), "$", "")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q is not numeric: %q", key, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only the outermost object if junk remains around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/retry"
)

// mockGenerator implements Generator for tests.
type mockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateFunc(ctx, prompt)
}

var (
	testNow      = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	testReceived = time.Date(2026, 8, 29, 16, 45, 12, 0, time.UTC)
)

func testExtractor(response string) *Extractor {
	return testExtractorErr(response, nil)
}

func testExtractorErr(response string, err error) *Extractor {
	e := New(&mockGenerator{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return response, err
		},
	})
	e.policy = retry.Policy{Attempts: 1}
	e.now = func() time.Time { return testNow }
	return e
}

func testEmail() *domain.Email {
	return &domain.Email{
		ID:         "m1",
		From:       "no-reply@chase.com",
		Subject:    "You made a purchase",
		Body:       "You spent $45.67 at STARBUCKS on 2026-08-28.",
		ReceivedAt: testReceived,
	}
}

func TestParseWellFormedResponse(t *testing.T) {
	e := testExtractor(`{
		"date": "2026-08-28",
		"payee": "STARBUCKS",
		"amount": 45.67,
		"transactionType": "purchase",
		"confidence": "high",
		"notes": "card ending 1234"
	}`)

	c, err := e.Parse(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Payee != "STARBUCKS" {
		t.Errorf("payee = %q", c.Payee)
	}
	if c.Amount != -45.67 {
		t.Errorf("amount = %.2f, want -45.67 (purchase normalized negative)", c.Amount)
	}
	if c.Type != domain.TypePurchase {
		t.Errorf("type = %s", c.Type)
	}
	if c.Confidence != domain.ConfidenceHigh {
		t.Errorf("confidence = %s", c.Confidence)
	}
	if want := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC); !c.Date.Equal(want) {
		t.Errorf("date = %v, want %v", c.Date, want)
	}
	if c.Notes != "card ending 1234" {
		t.Errorf("notes = %q", c.Notes)
	}
}

func TestParseStripsCodeFences(t *testing.T) {
	e := testExtractor("```json\n{\"payee\": \"STARBUCKS\", \"amount\": 45.67, \"transactionType\": \"purchase\", \"confidence\": \"high\"}\n```")

	c, err := e.Parse(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Payee != "STARBUCKS" {
		t.Errorf("payee = %q", c.Payee)
	}
}

func TestParseDatePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		response string
		received time.Time
		want     time.Time
	}{
		{
			name:     "explicit body date wins",
			response: `{"payee": "X", "amount": 1, "date": "2026-08-01", "transactionType": "deposit", "confidence": "high"}`,
			received: testReceived,
			want:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "null date falls back to received date",
			response: `{"payee": "X", "amount": 1, "date": null, "transactionType": "deposit", "confidence": "high"}`,
			received: testReceived,
			want:     time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "missing date and zero received falls back to today",
			response: `{"payee": "X", "amount": 1, "transactionType": "deposit", "confidence": "high"}`,
			want:     time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testExtractor(tt.response)
			email := testEmail()
			email.ReceivedAt = tt.received

			c, err := e.Parse(context.Background(), email)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !c.Date.Equal(tt.want) {
				t.Errorf("date = %v, want %v", c.Date, tt.want)
			}
		})
	}
}

func TestParseSignNormalization(t *testing.T) {
	tests := []struct {
		txType string
		amount string
		want   float64
	}{
		{"purchase", "45.67", -45.67},
		{"purchase", "-45.67", -45.67},
		{"withdrawal", "200", -200},
		{"fee", "-12", -12},
		{"deposit", "-1500", 1500},
		{"deposit", "1500", 1500},
		{"transfer", "-300", -300},
		{"transfer", "300", 300},
		{"unknown", "-9.99", -9.99},
	}

	for _, tt := range tests {
		t.Run(tt.txType+"/"+tt.amount, func(t *testing.T) {
			e := testExtractor(`{"payee": "X", "amount": ` + tt.amount +
				`, "transactionType": "` + tt.txType + `", "confidence": "high"}`)

			c, err := e.Parse(context.Background(), testEmail())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if c.Amount != tt.want {
				t.Errorf("amount = %.2f, want %.2f", c.Amount, tt.want)
			}
		})
	}
}

func TestParseAmountCoercion(t *testing.T) {
	t.Run("numeric string accepted", func(t *testing.T) {
		e := testExtractor(`{"payee": "X", "amount": "$1,234.56", "transactionType": "purchase", "confidence": "high"}`)
		c, err := e.Parse(context.Background(), testEmail())
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if c.Amount != -1234.56 {
			t.Errorf("amount = %.2f, want -1234.56", c.Amount)
		}
	})

	t.Run("non-numeric string rejected", func(t *testing.T) {
		e := testExtractor(`{"payee": "X", "amount": "lots", "transactionType": "purchase", "confidence": "high"}`)
		_, err := e.Parse(context.Background(), testEmail())
		if !errors.Is(err, domain.ErrParseFailure) {
			t.Fatalf("got %v, want ErrParseFailure", err)
		}
	})
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"empty response", ""},
		{"whitespace only", "   \n  "},
		{"not json", "I could not find a transaction in this email."},
		{"missing payee", `{"amount": 45.67, "transactionType": "purchase", "confidence": "high"}`},
		{"empty payee", `{"payee": "  ", "amount": 45.67, "transactionType": "purchase", "confidence": "high"}`},
		{"missing amount", `{"payee": "X", "transactionType": "purchase", "confidence": "high"}`},
		{"amount wrong type", `{"payee": "X", "amount": true, "transactionType": "purchase", "confidence": "high"}`},
		{"invalid date", `{"payee": "X", "amount": 1, "date": "yesterday", "transactionType": "purchase", "confidence": "high"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testExtractor(tt.response)
			_, err := e.Parse(context.Background(), testEmail())
			if !errors.Is(err, domain.ErrParseFailure) {
				t.Fatalf("got %v, want ErrParseFailure", err)
			}
		})
	}
}

func TestParseModelErrorWrapped(t *testing.T) {
	e := testExtractorErr("", errors.New("backend unavailable"))
	_, err := e.Parse(context.Background(), testEmail())
	if !errors.Is(err, domain.ErrParseFailure) {
		t.Fatalf("got %v, want ErrParseFailure", err)
	}
}

func TestParseUnknownEnumValues(t *testing.T) {
	e := testExtractor(`{"payee": "X", "amount": 5, "transactionType": "chargeback", "confidence": "certain"}`)
	c, err := e.Parse(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Type != domain.TypeUnknown {
		t.Errorf("type = %s, want unknown", c.Type)
	}
	if c.Confidence != domain.ConfidenceLow {
		t.Errorf("confidence = %s, want low", c.Confidence)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"raw object untouched", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced no language", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around object", "Here you go: {\"a\": 1} hope that helps", `{"a": 1}`},
		{"leading whitespace", "  \n {\"a\": 1}", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	email := testEmail()
	prompt := buildPrompt(email, testNow)

	for _, want := range []string{
		email.Subject,
		email.Body,
		"2026-08-29", // received date
		"2026-08-31", // current date
		"transactionType",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

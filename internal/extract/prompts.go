package extract

import (
	"time"

	"github.com/inboxledger/inboxledger/internal/domain"
)

// buildPrompt assembles the single-turn extraction prompt: subject, received
// date, current date, and body text, with strict raw-JSON output rules.
func buildPrompt(email *domain.Email, now time.Time) string {
	basePrompt :=
		"You are a bank notification email parser for a personal budgeting system.\n\n" +
			"Task:\n" +
			"- Extract exactly ONE transaction from the email below.\n" +
			"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
			"- Output a single JSON object.\n\n" +
			"The object must have these fields:\n" +
			"- \"date\": string \"YYYY-MM-DD\" or null (see date rules)\n" +
			"- \"payee\": string (merchant or counterparty name)\n" +
			"- \"amount\": number (signed, see sign rules)\n" +
			"- \"transactionType\": one of \"purchase\", \"deposit\", \"withdrawal\", \"transfer\", \"fee\", \"unknown\"\n" +
			"- \"confidence\": one of \"high\", \"medium\", \"low\"\n" +
			"- \"notes\": string or null (anything noteworthy, e.g. partial card number)\n\n"

	rulesPrompt :=
		"Date rules:\n" +
			"- Use the actual transaction date stated in the email body; it is often NOT the day the email was sent.\n" +
			"- If the body states no transaction date, use null.\n\n" +
			"Sign rules:\n" +
			"- Negative for purchases, payments, fees, withdrawals (money out).\n" +
			"- Positive for deposits, refunds, income (money in).\n\n" +
			"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Do NOT use ```json or any Markdown.\n" +
			"Output must begin with \"{\" and end with \"}\".\n\n"

	contextPrompt :=
		"Email subject: " + email.Subject + "\n" +
			"Email received: " + email.ReceivedAt.Format("2006-01-02") + "\n" +
			"Current date: " + now.Format("2006-01-02") + "\n\n" +
			"Email body:\n" + email.Body + "\n"

	return basePrompt + rulesPrompt + contextPrompt
}

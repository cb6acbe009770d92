// Package match routes an inbound email to a budgeting account by comparing
// the sender's domain to each account's configured email_domain.
package match

import (
	"fmt"
	"strings"

	"github.com/inboxledger/inboxledger/internal/domain"
)

// ExtractDomain lowercases an address (optionally in "Name <addr>" form) and
// returns the substring after '@' up to the first character that cannot
// appear in a hostname. Empty when no domain is present.
func ExtractDomain(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))

	// Prefer the angle-bracketed part of "Display Name <user@host>".
	if start := strings.LastIndex(addr, "<"); start >= 0 {
		addr = addr[start+1:]
		if end := strings.Index(addr, ">"); end >= 0 {
			addr = addr[:end]
		}
	}

	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}

	rest := addr[at+1:]
	end := len(rest)
	for i, r := range rest {
		if !isDomainChar(r) {
			end = i
			break
		}
	}
	return rest[:end]
}

func isDomainChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '-':
		return true
	}
	return false
}

// Match returns the single account whose email_domain equals the sender's
// domain (case-insensitive, no wildcard or subdomain matching).
// No linked account yields ErrUnmatchedDomain; more than one yields
// ErrAmbiguousDomain rather than an order-dependent pick.
func Match(accounts []domain.Account, senderAddress string) (*domain.Account, error) {
	dom := ExtractDomain(senderAddress)
	if dom == "" {
		return nil, fmt.Errorf("%w: sender %q has no domain", domain.ErrUnmatchedDomain, senderAddress)
	}

	var found *domain.Account
	for i := range accounts {
		if strings.EqualFold(accounts[i].EmailDomain, dom) {
			if found != nil {
				return nil, fmt.Errorf("%w: %q claimed by accounts %s and %s",
					domain.ErrAmbiguousDomain, dom, found.ID, accounts[i].ID)
			}
			found = &accounts[i]
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnmatchedDomain, dom)
	}
	return found, nil
}

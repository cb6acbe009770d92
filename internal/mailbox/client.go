// Package mailbox lists, fetches, and mutates remote mailbox messages
// through the Gmail API.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/inboxledger/inboxledger/internal/domain"
)

// Client is the mailbox surface the import coordinator depends on.
type Client interface {
	// ListUnread returns message ids matching is:unread, optionally
	// restricted to a sender domain. Ids only; fetching is a separate,
	// heavier call.
	ListUnread(ctx context.Context, accessToken, domainFilter string, maxResults int64) ([]string, error)

	// FetchMessage retrieves and decodes one full message.
	FetchMessage(ctx context.Context, accessToken, id string) (*domain.Email, error)

	// MarkRead removes the unread label. Idempotent; failures are
	// non-fatal for the caller because the dedup key makes re-processing
	// safe.
	MarkRead(ctx context.Context, accessToken, id string) error
}

// GmailClient implements Client against the Gmail REST API. A service is
// built per call from the caller's access token; nothing is cached across
// users.
type GmailClient struct{}

var _ Client = (*GmailClient)(nil)

func NewGmailClient() *GmailClient {
	return &GmailClient{}
}

func (c *GmailClient) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("mailbox: create gmail service: %w", err)
	}
	return svc, nil
}

func (c *GmailClient) ListUnread(ctx context.Context, accessToken, domainFilter string, maxResults int64) ([]string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	query := "is:unread"
	if domainFilter != "" {
		query += " from:@" + domainFilter
	}

	resp, err := svc.Users.Messages.List("me").
		Q(query).
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("mailbox: list unread: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *GmailClient) FetchMessage(ctx context.Context, accessToken, id string) (*domain.Email, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("mailbox: fetch message %s: %w", id, err)
	}

	email := &domain.Email{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			email.From = h.Value
		case "Subject":
			email.Subject = h.Value
		}
	}

	raw, mimeType, err := decodeBody(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("mailbox: decode body of %s: %w", id, err)
	}
	email.RawBody = raw
	if mimeType == "text/html" {
		email.Body = HTMLToText(raw)
	} else {
		email.Body = raw
	}
	return email, nil
}

func (c *GmailClient) MarkRead(ctx context.Context, accessToken, id string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	_, err = svc.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mailbox: mark read %s: %w", id, err)
	}
	return nil
}

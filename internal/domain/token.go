package domain

import "time"

// TokenRecord holds the stored OAuth credentials for one user's mailbox.
// Created on first authorization, mutated on every refresh, cleared on revoke.
type TokenRecord struct {
	UserID       string    `json:"user_id" firestore:"user_id"`
	RefreshToken string    `json:"refresh_token" firestore:"refresh_token"`
	AccessToken  string    `json:"access_token" firestore:"access_token"`
	Expiry       time.Time `json:"expiry" firestore:"expiry"`
}

// Email is a fetched and decoded mailbox message. Body is plain text ready
// for extraction; RawBody is the decoded MIME part before any HTML
// stripping, kept for archiving.
type Email struct {
	ID         string
	From       string
	Subject    string
	Body       string
	RawBody    string
	ReceivedAt time.Time
}

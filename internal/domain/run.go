package domain

import (
	"errors"
	"time"
)

// RunStatus is the lifecycle state of one sync run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// SkipReason explains why a message produced no transaction.
type SkipReason string

const (
	SkipAuthRequired    SkipReason = "auth_required"
	SkipFetchError      SkipReason = "fetch_error"
	SkipUnmatchedDomain SkipReason = "unmatched_domain"
	SkipAmbiguousDomain SkipReason = "ambiguous_domain"
	SkipParseFailure    SkipReason = "parse_failure"
	SkipDuplicate       SkipReason = "duplicate"
	SkipPersistence     SkipReason = "persistence_error"
)

// SkipReasonFor maps a pipeline error onto its skip reason.
func SkipReasonFor(err error) SkipReason {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return SkipAuthRequired
	case errors.Is(err, ErrUnmatchedDomain):
		return SkipUnmatchedDomain
	case errors.Is(err, ErrAmbiguousDomain):
		return SkipAmbiguousDomain
	case errors.Is(err, ErrParseFailure):
		return SkipParseFailure
	case errors.Is(err, ErrDuplicateTransaction):
		return SkipDuplicate
	default:
		return SkipPersistence
	}
}

// Skip records one skipped message inside a run.
type Skip struct {
	UserID    string     `json:"user_id" firestore:"user_id"`
	MessageID string     `json:"message_id" firestore:"message_id"`
	Reason    SkipReason `json:"reason" firestore:"reason"`
	Detail    string     `json:"detail,omitempty" firestore:"detail"`
}

// SyncRun is the persisted record of one import run. Processed holds the ids
// of messages already handled (imported or skipped) so an interrupted run
// leaves a resumable watermark instead of silently dropping its backlog.
type SyncRun struct {
	ID         string    `json:"id" firestore:"id"`
	Status     RunStatus `json:"status" firestore:"status"`
	StartedAt  time.Time `json:"started_at" firestore:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" firestore:"finished_at"`
	Imported   int       `json:"imported" firestore:"imported"`
	Skipped    int       `json:"skipped" firestore:"skipped"`
	Remaining  int       `json:"remaining" firestore:"remaining"`
	Processed  []string  `json:"processed,omitempty" firestore:"processed"`
	Skips      []Skip    `json:"skips,omitempty" firestore:"skips"`
	Error      string    `json:"error,omitempty" firestore:"error"`
}

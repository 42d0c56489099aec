package store

import "errors"

// ErrNotFound is returned by Get-style methods when no record exists.
var ErrNotFound = errors.New("store: not found")

// ErrSeqConflict is returned by ConversationStore.AppendMessage when the
// unique constraint on (convo_id, seq) rejects a concurrently assigned
// seq (spec.md §4.7's defense-in-depth). The in-memory implementation's
// per-conversation mutex makes this unreachable; the postgres
// implementation can hit it under advisory-lock/transaction skew, and
// internal/ledger retries on it.
var ErrSeqConflict = errors.New("store: seq conflict")

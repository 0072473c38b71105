// Package notify implements the core delivery pipeline: a bounded
// priority queue per destination, a dual-window rate limiter, a retry
// policy with exponential backoff and jitter, and the orchestrator that
// drives entries from enqueue to a terminal, ledger-recorded outcome.
//
// The package is transport-agnostic. Messages leave through an injected
// SendFunc and routing policy arrives through the Planner interface, so
// nothing here knows about Telegram, recipients' preferences, or how a
// payload becomes text.
package notify

// Package channel implements the alert transports: console, generic JSON
// webhook, Discord chat and a log-only email placeholder. Network channels
// share one POST helper with a bounded client timeout, optional retry with
// exponential backoff and an optional rate limit.
package channel

// Package notifier delivers short operator messages (pass summaries with
// failures) to the ops chat.
//
// Messages go through a bounded queue drained by one worker that applies a
// token-bucket rate limit and retries with jittered exponential backoff.
// Identical messages inside DedupWindow are suppressed.
package notifier

// Package notifier turns engine events into operator-facing messages.
//
// It subscribes to the event bus, keeps only the high-signal events
// (failed or timed-out jobs, exhausted break budget, idle force-break,
// the daily reset), and delivers them through a Sender with a bounded
// queue and a token-bucket rate limit. Delivery is best-effort: a full
// queue drops the oldest message rather than blocking a publisher.
package notifier

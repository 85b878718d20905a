// Package notifier delivers outbound chat messages asynchronously.
//
// Messages are queued, sent by a small worker pool through a transport.Adapter,
// rate limited with a token bucket and retried with jittered exponential
// backoff. Outcomes are published on the event bus as "notifier.sent" and
// "notifier.failed".
package notifier

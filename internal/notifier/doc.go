// Package notifier delivers outbound chat messages.
//
// Send is synchronous and used by job handlers that need to know whether
// delivery worked. Notify queues a message for the worker pool. Both paths
// share one token bucket, retry with jitter, and a circuit breaker around
// the transport adapter.
package notifier

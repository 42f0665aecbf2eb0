// Package scheduler keeps the set of future triggers and fires them.
//
// A Store holds jobs in a min-heap ordered by their next fire instant.
// The Service drives the store from a tick loop: every due job is handed to
// the handler registered for its CallbackID, Daily jobs are re-armed for the
// next local occurrence before the handler runs, and Once jobs are retired.
package scheduler

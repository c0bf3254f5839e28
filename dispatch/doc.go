// Package dispatch composes the rate limiter, response cache, request
// queue, and confirmation gate into a single execution facade.
//
// Callers build an Operation, hand it to Dispatcher.Execute, and get
// back either a result, a pending confirmation (for unacknowledged
// mutations), or an error from the taxonomy in errors.go. Everything
// between — cache lookup, single-flight collapse, admission control,
// retries, and post-mutation invalidation — happens inside.
package dispatch

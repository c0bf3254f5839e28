// Package queue provides a bounded-concurrency, priority-ordered dispatch
// queue for outbound API calls.
//
// Workers pull requests in (priority, submission) order, wait out the rate
// limiter's computed delay before invoking the endpoint, classify the
// response for limit learning, and retry throttled or failed calls up to a
// fixed ceiling before resolving the caller's Future.
package queue

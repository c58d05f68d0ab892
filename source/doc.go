// Package source defines the contract for the upstream judicial-records service
// and the error taxonomy its implementations report.
//
// Implementations wrap their failures in one of ErrNotFound, ErrRateLimited,
// ErrTransient or ErrPermanent so callers can decide with errors.Is whether to
// retry, skip or abort. IsRetryable groups the two retryable classes.
//
// Sub-packages:
//   - courtlistener: HTTP client for the CourtListener REST API
//   - mock: in-memory source for tests
package source

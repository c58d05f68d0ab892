// Package courtlistener implements source.RecordSource over the CourtListener REST API.
//
// Resource references in CourtListener responses are URLs such as
// ".../clusters/12345/"; the client extracts the trailing id and uses it as the
// natural id. List endpoints are followed through their "next" links.
//
// HTTP failures map onto the source taxonomy: 404 is ErrNotFound, 429 is
// ErrRateLimited, 5xx and network errors are ErrTransient, and any other
// status or an undecodable body is ErrPermanent.
package courtlistener

// Package ingestion walks the judicial record graph from a root judge and
// commits it to the entity store bottom-up.
//
// The Ingestor handles one judge per run:
//   - fetching and committing the judge, then listing up to a bound of their opinions
//   - resolving each opinion's cluster, docket, and court before committing the opinion
//   - fetching each committed opinion's outbound citations
//
// Opinions are processed concurrently on a bounded worker pool. Each run owns a
// seen set so a shared ancestor is fetched at most once, and concurrent
// requests for the same entity wait on the first fetch. Every record source
// call goes through one rate limiter shared across the pool.
//
// Failures below the root skip the affected opinion and are reported in the
// run outcome; failures on the root judge, its opinion listing, or the store
// abort the run. The EmbeddingCache keeps each stored embedding in step with
// the text assembled for its record and never fails a commit.
package ingestion

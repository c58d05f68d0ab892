// Package reembed regenerates stored embeddings whose fingerprint no longer
// matches the text assembled for their record.
//
// The Reembedder walks Judges, Dockets, and Opinions, collects records with a
// missing or stale embedding, and embeds them in batches with retries,
// reporting progress as it goes. Records whose embedding is current are left
// alone unless a forced run is requested.
package reembed

// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the storage abstraction layer for courtgraph.
//
// This package defines repository interfaces that decouple storage implementation
// from ingestion and retrieval logic. The only backend today is BadgerDB.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces:
//
//	repos, err := badger.NewRepositories(path)
//
// Internal package constructors (newEntityRepository, newBackend, etc.) may return
// concrete types since they're only used within the implementation package.
//
// # Architecture
//
//   - EntityRepository: courts, judges, dockets, clusters and opinions keyed by natural id
//   - CitationRepository: directed opinion-to-opinion edges, including dangling ones
//   - SimilarityIndex: k-nearest-neighbor lookups over current embeddings
//   - RunRepository: the log of ingestion run outcomes
//
// # Referential Integrity
//
// A child record is only accepted once its parent is stored. Court precedes
// Docket, Docket precedes Cluster and Cluster precedes Opinion. A citation
// requires its citing opinion but not its cited opinion.
//
// # Embeddings
//
// An embedding is always stored together with the fingerprint of the text it
// was computed from. Writes whose fingerprint no longer matches the record are
// rejected with ErrStaleFingerprint.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage

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


package ingestion

import "errors"

var (
	// ErrEntityRepositoryRequired is returned when an entity repository is not provided.
	ErrEntityRepositoryRequired = errors.New("entity repository required")

	// ErrCitationRepositoryRequired is returned when a citation repository is not provided.
	ErrCitationRepositoryRequired = errors.New("citation repository required")

	// ErrSourceRequired is returned when a record source is not provided.
	ErrSourceRequired = errors.New("record source required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrInvalidMaxOpinions is returned when the opinion bound is out of range.
	ErrInvalidMaxOpinions = errors.New("max opinions out of range")

	// ErrRootFailed wraps a failure fetching or committing the root judge or
	// listing its opinions. It aborts the run.
	ErrRootFailed = errors.New("root judge could not be ingested")

	// ErrStore wraps an entity store failure during a run. It aborts the run.
	ErrStore = errors.New("entity store failure")

	// ErrEmbeddingFailed wraps an embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

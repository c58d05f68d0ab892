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


package courtgraph

import (
	"io"
	"log/slog"

	"github.com/poiesic/courtgraph/ai"
	"github.com/poiesic/courtgraph/ai/openai"
	"github.com/poiesic/courtgraph/ingestion"
	"github.com/poiesic/courtgraph/reembed"
	"github.com/poiesic/courtgraph/search"
	"github.com/poiesic/courtgraph/source"
	"github.com/poiesic/courtgraph/storage"
	"github.com/poiesic/courtgraph/storage/badger"
)

// Database owns the record store and the embedding model, and builds the
// ingestion, search, and reembedding components on top of them.
type Database struct {
	repos    *badger.Repositories
	provider ai.AIProvider
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithAIConfig sets the embedding model configuration.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithProvider uses an existing AI provider instead of building one from the
// AI configuration. The database closes it on Close.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens (or creates) the database directory at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	repos, err := badger.NewRepositories(filePath)
	if err != nil {
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			repos.Close()
			return nil, err
		}
	}

	return &Database{
		repos:    repos,
		provider: provider,
		logger:   options.logger,
	}, nil
}

// Close closes the AI provider and then the store.
func (db *Database) Close() error {
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
	}
	if err := db.repos.Close(); err != nil {
		db.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) Entities() storage.EntityRepository {
	return db.repos.Entities
}

func (db *Database) Citations() storage.CitationRepository {
	return db.repos.Citations
}

func (db *Database) Runs() storage.RunRepository {
	return db.repos.Runs
}

func (db *Database) Index() storage.SimilarityIndex {
	return db.repos.Index
}

// NewIngestor builds an ingestor reading from src. Run outcomes are recorded
// in the database; later options override the defaults.
func (db *Database) NewIngestor(src source.RecordSource, opts ...ingestion.Option) (*ingestion.Ingestor, error) {
	defaults := []ingestion.Option{
		ingestion.WithLogger(db.logger),
		ingestion.WithRunRepository(db.repos.Runs),
	}
	return ingestion.NewIngestor(db.repos.Entities, db.repos.Citations, src, db.provider, append(defaults, opts...)...)
}

func (db *Database) NewRanker(opts ...search.Option) (*search.Ranker, error) {
	opts = append([]search.Option{search.WithLogger(db.logger)}, opts...)
	return search.NewRanker(db.repos.Index, db.repos.Entities, db.provider, opts...)
}

// NewReembedder builds a reembedder writing progress to progress.
func (db *Database) NewReembedder(config *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(db.repos.Entities, db.provider.Embedder(), config, progress, db.logger)
}

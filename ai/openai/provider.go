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


package openai

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/courtgraph/ai"
)

// Provider implements ai.AIProvider using OpenAI-compatible services.
// Every vector it returns has the same length: the configured
// EmbeddingDimensions, or else the length of the first vector.
type Provider struct {
	config   *ai.Config
	embedder *ai.DimensionGuard
	logger   *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if config == nil {
		return nil, errors.New("ai config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "openai-provider")
	if config.Token == "" && strings.HasPrefix(config.EmbeddingHost, "https://api.openai.com") {
		logger.Warn("no API token for the hosted embedding service; requests will be rejected", "host", config.EmbeddingHost)
	}

	return &Provider{
		config:   config,
		embedder: ai.NewDimensionGuard(embedder, config.EmbeddingDimensions),
		logger:   logger,
	}, nil
}

// Embedder returns the dimension-checked embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Dimensions returns the embedding length, or zero before the first
// embedding when none was configured.
func (p *Provider) Dimensions() int {
	return p.embedder.Dimensions()
}

// Close releases resources held by the provider.
// The underlying HTTP clients need no explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider", "model", p.config.EmbeddingModel)
	return nil
}

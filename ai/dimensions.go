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


package ai

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrDimensionMismatch indicates an embedding whose length differs from the
// length fixed for the corpus.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionGuard wraps an Embedder and rejects vectors whose length differs
// from a fixed dimension. With a zero dimension, the first vector returned
// fixes it.
type DimensionGuard struct {
	inner Embedder
	dims  atomic.Int64
}

var _ Embedder = (*DimensionGuard)(nil)

// NewDimensionGuard wraps inner. dims <= 0 pins the dimension on first use.
func NewDimensionGuard(inner Embedder, dims int) *DimensionGuard {
	g := &DimensionGuard{inner: inner}
	if dims > 0 {
		g.dims.Store(int64(dims))
	}
	return g
}

// Dimensions returns the fixed dimension, or zero before it is known.
func (g *DimensionGuard) Dimensions() int {
	return int(g.dims.Load())
}

func (g *DimensionGuard) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector, err := g.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := g.check(len(vector)); err != nil {
		return nil, err
	}
	return vector, nil
}

func (g *DimensionGuard) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := g.inner.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if err := g.check(len(v)); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return vectors, nil
}

// check leaves empty vectors to the caller.
func (g *DimensionGuard) check(n int) error {
	if n == 0 {
		return nil
	}
	want := g.dims.Load()
	if want == 0 && g.dims.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want == 0 {
		want = g.dims.Load()
	}
	if int64(n) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, want)
	}
	return nil
}

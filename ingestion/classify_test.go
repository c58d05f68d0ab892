package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"github.com/poiesic/courtgraph/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass core.FailureClass
		wantFatal bool
	}{
		{"not found", fmt.Errorf("docket D1: %w", source.ErrNotFound), core.FailureNotFound, false},
		{"rate limited", source.ErrRateLimited, core.FailureTransient, false},
		{"transient", fmt.Errorf("%w: 503", source.ErrTransient), core.FailureTransient, false},
		{"permanent", source.ErrPermanent, core.FailurePermanent, false},
		{"unsupported", source.ErrUnsupported, core.FailurePermanent, false},
		{"invalid record", fmt.Errorf("%w: opinion", core.ErrInvalidRecord), core.FailurePermanent, false},
		{"missing parent", fmt.Errorf("%w: cluster C1", storage.ErrMissingParent), core.FailureConsistency, true},
		{"store failure", storeError(storage.ErrStorageClosed), core.FailurePermanent, true},
		{"canceled", &resolveError{Kind: core.KindCluster, ID: "C1", Err: context.Canceled}, core.FailureCanceled, false},
		{"deadline", context.DeadlineExceeded, core.FailureCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, fatal := classify(tt.err)
			if class != tt.wantClass {
				t.Errorf("classify() class = %q, want %q", class, tt.wantClass)
			}
			if fatal != tt.wantFatal {
				t.Errorf("classify() fatal = %v, want %v", fatal, tt.wantFatal)
			}
		})
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantStore bool
	}{
		{"nil", nil, false},
		{"invalid record", core.ErrInvalidRecord, false},
		{"missing parent", storage.ErrMissingParent, false},
		{"canceled", context.Canceled, false},
		{"closed", storage.ErrStorageClosed, true},
		{"opaque", errors.New("disk full"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storeError(tt.err)
			if errors.Is(got, ErrStore) != tt.wantStore {
				t.Errorf("storeError(%v) = %v, wrapped = %v, want %v", tt.err, got, errors.Is(got, ErrStore), tt.wantStore)
			}
			if tt.err != nil && !errors.Is(got, tt.err) {
				t.Errorf("storeError(%v) lost the original error", tt.err)
			}
		})
	}
}

func TestStage(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &resolveError{Kind: core.KindDocket, ID: "D1", Err: source.ErrNotFound})
	if got := stage(err, core.KindOpinion); got != "docket" {
		t.Errorf("stage() = %q, want docket", got)
	}
	if got := stage(source.ErrNotFound, core.KindOpinion); got != "opinion" {
		t.Errorf("stage() = %q, want opinion", got)
	}
}

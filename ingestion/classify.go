package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"github.com/poiesic/courtgraph/storage"
)

// resolveError records which dependency of an opinion failed to resolve.
type resolveError struct {
	Kind core.EntityKind
	ID   core.ID
	Err  error
}

func (e *resolveError) Error() string {
	return fmt.Sprintf("resolve %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *resolveError) Unwrap() error { return e.Err }

// stage names the entity kind whose resolution produced err.
func stage(err error, fallback core.EntityKind) string {
	var re *resolveError
	if errors.As(err, &re) {
		return re.Kind.String()
	}
	return fallback.String()
}

// classify maps an error onto the failure taxonomy. fatal is true for
// failures that must abort the whole run.
func classify(err error) (class core.FailureClass, fatal bool) {
	switch {
	case isCancellation(err):
		return core.FailureCanceled, false
	case errors.Is(err, storage.ErrMissingParent):
		return core.FailureConsistency, true
	case errors.Is(err, ErrStore):
		return core.FailurePermanent, true
	case errors.Is(err, source.ErrNotFound):
		return core.FailureNotFound, false
	case source.IsRetryable(err):
		return core.FailureTransient, false
	default:
		return core.FailurePermanent, false
	}
}

// storeError wraps entity store failures that are not about the record
// itself so they classify as fatal.
func storeError(err error) error {
	if err == nil ||
		isCancellation(err) ||
		errors.Is(err, core.ErrInvalidRecord) ||
		errors.Is(err, storage.ErrMissingParent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

package badger

import (
	"errors"

	"github.com/poiesic/courtgraph/storage"
)

// Repositories bundles every repository sharing one BadgerDB backend.
type Repositories struct {
	Entities  storage.EntityRepository
	Citations storage.CitationRepository
	Runs      storage.RunRepository
	Index     storage.SimilarityIndex

	backend *Backend
}

// NewRepositories opens (or creates) a database directory and returns its repositories.
func NewRepositories(path string) (*Repositories, error) {
	return openRepositories(path, false)
}

func openRepositories(path string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Entities:  NewEntityRepository(backend),
		Citations: NewCitationRepository(backend),
		Runs:      NewRunRepository(backend),
		Index:     backend,
		backend:   backend,
	}, nil
}

// Backend returns the shared backend.
func (r *Repositories) Backend() *Backend {
	return r.backend
}

// Close closes every repository and then the backend.
func (r *Repositories) Close() error {
	return errors.Join(
		r.Entities.Close(),
		r.Citations.Close(),
		r.Runs.Close(),
		r.backend.Close(),
	)
}

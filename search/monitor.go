package search

import (
	"github.com/poiesic/courtgraph/core"
)

// QueryMonitor provides hooks to observe a fused query.
// Hooks are called from the goroutine running the query, never concurrently.
type QueryMonitor interface {
	Start(query string)
	AfterQueryEmbedding(dimensions int)
	SpaceSearched(kind core.EntityKind, hits []core.Neighbor, err error)
	AfterFusion(results []Result)
	Finish(resp *Response)
}

// noopMonitor is a no-op implementation of QueryMonitor
type noopMonitor struct{}

var _ QueryMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                    {}
func (n *noopMonitor) AfterQueryEmbedding(_ int)                         {}
func (n *noopMonitor) SpaceSearched(_ core.EntityKind, _ []core.Neighbor, _ error) {}
func (n *noopMonitor) AfterFusion(_ []Result)                            {}
func (n *noopMonitor) Finish(_ *Response)                                {}

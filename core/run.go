package core

import "time"

// FailureClass names the error taxonomy bucket a skipped opinion fell into.
type FailureClass string

const (
	FailureNotFound    FailureClass = "not_found"
	FailureTransient   FailureClass = "transient"
	FailurePermanent   FailureClass = "permanent"
	FailureConsistency FailureClass = "consistency"
	FailureCanceled    FailureClass = "canceled"
)

// Skip records one opinion that was not committed, or one citation fetch that failed.
type Skip struct {
	OpinionID ID
	Stage     string // which dependency was being resolved, e.g. "cluster" or "citations"
	Class     FailureClass
	Reason    string
}

// RunOutcome is the structured result of one ingestion run.
// Counts are keyed by EntityKind.String().
type RunOutcome struct {
	JudgeID           ID
	StartedAt         time.Time
	FinishedAt        time.Time
	Created           map[string]int
	Updated           map[string]int
	Skipped           []Skip
	CitationFailures  []Skip
	EmbeddingFailures int
	Canceled          bool
	Error             string
}

// NewRunOutcome creates an empty outcome for a judge.
func NewRunOutcome(judgeID ID) *RunOutcome {
	return &RunOutcome{
		JudgeID:   judgeID,
		StartedAt: time.Now().UTC(),
		Created:   make(map[string]int),
		Updated:   make(map[string]int),
	}
}

// Committed returns created plus updated for a kind.
func (o *RunOutcome) Committed(kind EntityKind) int {
	return o.Created[kind.String()] + o.Updated[kind.String()]
}

// SkippedIDs returns the ids of skipped opinions in the order they were recorded.
func (o *RunOutcome) SkippedIDs() []ID {
	ids := make([]ID, len(o.Skipped))
	for i, s := range o.Skipped {
		ids[i] = s.OpinionID
	}
	return ids
}

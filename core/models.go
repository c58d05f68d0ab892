package core

import (
	"time"
)

// ID is the natural identifier assigned to an entity by the upstream record source.
// It is used unchanged as the local primary key.
type ID string

// EntityKind identifies one of the closed set of stored entity kinds.
type EntityKind int

const (
	// KindCourt is a court (leaf entity).
	KindCourt EntityKind = iota + 1
	// KindJudge is a judge or justice.
	KindJudge
	// KindDocket is a case file owned by a court.
	KindDocket
	// KindCluster is a decision grouping opinions on one docket.
	KindCluster
	// KindOpinion is a single opinion text.
	KindOpinion
	// KindCitation is a directed opinion-to-opinion citation edge.
	KindCitation
)

// String returns the lowercase name of the kind.
func (k EntityKind) String() string {
	switch k {
	case KindCourt:
		return "court"
	case KindJudge:
		return "judge"
	case KindDocket:
		return "docket"
	case KindCluster:
		return "cluster"
	case KindOpinion:
		return "opinion"
	case KindCitation:
		return "citation"
	default:
		return "unknown"
	}
}

// EmbeddedKinds lists the kinds that carry an embedding, in fusion priority order.
var EmbeddedKinds = []EntityKind{KindOpinion, KindDocket, KindJudge}

// Record is implemented by every stored entity type.
type Record interface {
	Kind() EntityKind
	NaturalID() ID
}

// Embeddable is implemented by the entity kinds that carry a semantic embedding.
type Embeddable interface {
	Record
	// EmbeddingText returns the canonical assembled text for the entity.
	EmbeddingText() string
	// CurrentEmbedding returns the stored embedding, or nil if none exists.
	CurrentEmbedding() *Embedding
}

// Embedding is a vector together with the fingerprint of the text it was derived from.
// A vector is never stored without its fingerprint.
type Embedding struct {
	Vector      []float32
	Fingerprint string
}

// IsCurrent reports whether the embedding was derived from text with the given fingerprint.
func (e *Embedding) IsCurrent(fingerprint string) bool {
	return e != nil && len(e.Vector) > 0 && e.Fingerprint != "" && e.Fingerprint == fingerprint
}

// Court is a court of law.
type Court struct {
	Id           ID
	Name         string
	ShortName    string
	Jurisdiction string
	Position     string
	Citation     string
	InsertedAt   time.Time
	UpdatedAt    time.Time
}

func (c *Court) Kind() EntityKind { return KindCourt }
func (c *Court) NaturalID() ID    { return c.Id }

// Education is one education entry on a judge's record.
type Education struct {
	School string
	Degree string
	Year   string
}

// Position is one position held by a judge.
type Position struct {
	PositionType string
	Court        string
	Appointer    string
	DateStart    string
	DateEnd      string
}

// Judge is a judge or justice who authors opinions.
type Judge struct {
	Id          ID
	NameFirst   string
	NameMiddle  string
	NameLast    string
	NameSuffix  string
	DateOfBirth *time.Time
	Biography   string
	Education   []Education
	Positions   []Position
	Embedding   *Embedding
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

func (j *Judge) Kind() EntityKind             { return KindJudge }
func (j *Judge) NaturalID() ID                { return j.Id }
func (j *Judge) CurrentEmbedding() *Embedding { return j.Embedding }
func (j *Judge) EmbeddingText() string        { return AssembleJudgeText(j) }

// Docket is a case filed in one court.
type Docket struct {
	Id            ID
	CourtID       ID
	CaseName      string
	CaseNameShort string
	CaseNameFull  string
	DocketNumber  string
	DateFiled     *time.Time
	NatureOfSuit  string
	Cause         string
	Embedding     *Embedding
	InsertedAt    time.Time
	UpdatedAt     time.Time
}

func (d *Docket) Kind() EntityKind             { return KindDocket }
func (d *Docket) NaturalID() ID                { return d.Id }
func (d *Docket) CurrentEmbedding() *Embedding { return d.Embedding }
func (d *Docket) EmbeddingText() string        { return AssembleDocketText(d) }

// Cluster groups the opinions of a single decision on a docket.
type Cluster struct {
	Id         ID
	DocketID   ID
	CaseName   string
	DateFiled  *time.Time
	InsertedAt time.Time
	UpdatedAt  time.Time
}

func (c *Cluster) Kind() EntityKind { return KindCluster }
func (c *Cluster) NaturalID() ID    { return c.Id }

// OpinionType tags the role of an opinion within its cluster.
type OpinionType string

const (
	OpinionCombined    OpinionType = "combined"
	OpinionMajority    OpinionType = "majority"
	OpinionConcurrence OpinionType = "concurrence"
	OpinionDissent     OpinionType = "dissent"
)

// Opinion is a single written opinion. AuthorID is empty when the author is unresolved.
type Opinion struct {
	Id         ID
	ClusterID  ID
	AuthorID   ID
	Type       OpinionType
	PlainText  string
	DateFiled  *time.Time
	Embedding  *Embedding
	InsertedAt time.Time
	UpdatedAt  time.Time
}

func (o *Opinion) Kind() EntityKind             { return KindOpinion }
func (o *Opinion) NaturalID() ID                { return o.Id }
func (o *Opinion) CurrentEmbedding() *Embedding { return o.Embedding }
func (o *Opinion) EmbeddingText() string        { return AssembleOpinionText(o) }

// Citation is a directed edge from a citing opinion to a cited opinion.
// The cited opinion may not be stored locally.
type Citation struct {
	CitingID   ID
	CitedID    ID
	Depth      int
	InsertedAt time.Time
	UpdatedAt  time.Time
}

func (c *Citation) Kind() EntityKind { return KindCitation }
func (c *Citation) NaturalID() ID    { return c.CitingID + "->" + c.CitedID }

// CitationRef is a citation edge annotated with whether its target is stored.
type CitationRef struct {
	Citation
	Dangling bool
}

// Neighbor is one hit from a nearest-neighbor query. Lower distance is more similar.
type Neighbor struct {
	Kind     EntityKind
	Id       ID
	Distance float64
}

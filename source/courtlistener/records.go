package courtlistener

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
)

const dateLayout = "2006-01-02"

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

type courtJSON struct {
	ID             flexString `json:"id"`
	FullName       string     `json:"full_name"`
	ShortName      string     `json:"short_name"`
	Jurisdiction   string     `json:"jurisdiction"`
	Position       flexString `json:"position"`
	CitationString string     `json:"citation_string"`
}

func (d courtJSON) record() *core.Court {
	return &core.Court{
		Id:           core.ID(d.ID),
		Name:         d.FullName,
		ShortName:    d.ShortName,
		Jurisdiction: d.Jurisdiction,
		Position:     string(d.Position),
		Citation:     d.CitationString,
	}
}

type personJSON struct {
	ID         flexString `json:"id"`
	NameFirst  string     `json:"name_first"`
	NameMiddle string     `json:"name_middle"`
	NameLast   string     `json:"name_last"`
	NameSuffix string     `json:"name_suffix"`
	DateDOB    string     `json:"date_dob"`
	Bio        string     `json:"bio"`
}

func (d personJSON) record() *core.Judge {
	return &core.Judge{
		Id:          core.ID(d.ID),
		NameFirst:   d.NameFirst,
		NameMiddle:  d.NameMiddle,
		NameLast:    d.NameLast,
		NameSuffix:  d.NameSuffix,
		DateOfBirth: parseDate(d.DateDOB),
		Biography:   d.Bio,
	}
}

type positionJSON struct {
	PositionType    string          `json:"position_type"`
	JobTitle        string          `json:"job_title"`
	Court           json.RawMessage `json:"court"`
	Appointer       json.RawMessage `json:"appointer"`
	DateStart       string          `json:"date_start"`
	DateTermination string          `json:"date_termination"`
}

func (d positionJSON) position() core.Position {
	kind := d.PositionType
	if kind == "" {
		kind = d.JobTitle
	}
	return core.Position{
		PositionType: kind,
		Court:        refLabel(d.Court, "short_name"),
		Appointer:    refLabel(d.Appointer, "name_full"),
		DateStart:    d.DateStart,
		DateEnd:      d.DateTermination,
	}
}

type educationJSON struct {
	School      json.RawMessage `json:"school"`
	DegreeLevel string          `json:"degree_level"`
	DegreeYear  flexString      `json:"degree_year"`
}

func (d educationJSON) education() core.Education {
	return core.Education{
		School: refLabel(d.School, "name"),
		Degree: d.DegreeLevel,
		Year:   string(d.DegreeYear),
	}
}

type docketJSON struct {
	ID            flexString      `json:"id"`
	Court         json.RawMessage `json:"court"`
	CourtID       flexString      `json:"court_id"`
	CaseName      string          `json:"case_name"`
	CaseNameShort string          `json:"case_name_short"`
	CaseNameFull  string          `json:"case_name_full"`
	DocketNumber  string          `json:"docket_number"`
	DateFiled     string          `json:"date_filed"`
	NatureOfSuit  string          `json:"nature_of_suit"`
	Cause         string          `json:"cause"`
}

func (d docketJSON) record() (core.Record, error) {
	courtID := core.ID(d.CourtID)
	if courtID == "" {
		courtID = refID(d.Court)
	}
	if courtID == "" {
		return nil, fmt.Errorf("%w: docket %s has no court", source.ErrPermanent, d.ID)
	}
	return &core.Docket{
		Id:            core.ID(d.ID),
		CourtID:       courtID,
		CaseName:      d.CaseName,
		CaseNameShort: d.CaseNameShort,
		CaseNameFull:  d.CaseNameFull,
		DocketNumber:  d.DocketNumber,
		DateFiled:     parseDate(d.DateFiled),
		NatureOfSuit:  d.NatureOfSuit,
		Cause:         d.Cause,
	}, nil
}

type clusterJSON struct {
	ID        flexString      `json:"id"`
	Docket    json.RawMessage `json:"docket"`
	DocketID  flexString      `json:"docket_id"`
	CaseName  string          `json:"case_name"`
	DateFiled string          `json:"date_filed"`
}

func (d clusterJSON) record() (core.Record, error) {
	docketID := core.ID(d.DocketID)
	if docketID == "" {
		docketID = refID(d.Docket)
	}
	if docketID == "" {
		return nil, fmt.Errorf("%w: cluster %s has no docket", source.ErrPermanent, d.ID)
	}
	return &core.Cluster{
		Id:        core.ID(d.ID),
		DocketID:  docketID,
		CaseName:  d.CaseName,
		DateFiled: parseDate(d.DateFiled),
	}, nil
}

type opinionJSON struct {
	ID        flexString      `json:"id"`
	Cluster   json.RawMessage `json:"cluster"`
	ClusterID flexString      `json:"cluster_id"`
	Author    json.RawMessage `json:"author"`
	AuthorID  flexString      `json:"author_id"`
	Type      string          `json:"type"`
	PlainText string          `json:"plain_text"`
	DateFiled string          `json:"date_filed"`
}

func (d opinionJSON) record() (core.Record, error) {
	clusterID := core.ID(d.ClusterID)
	if clusterID == "" {
		clusterID = refID(d.Cluster)
	}
	if clusterID == "" {
		return nil, fmt.Errorf("%w: opinion %s has no cluster", source.ErrPermanent, d.ID)
	}
	authorID := core.ID(d.AuthorID)
	if authorID == "" {
		authorID = refID(d.Author)
	}
	return &core.Opinion{
		Id:        core.ID(d.ID),
		ClusterID: clusterID,
		AuthorID:  authorID,
		Type:      opinionType(d.Type),
		PlainText: d.PlainText,
		DateFiled: parseDate(d.DateFiled),
	}, nil
}

type citationJSON struct {
	CitingOpinion json.RawMessage `json:"citing_opinion"`
	CitedOpinion  json.RawMessage `json:"cited_opinion"`
	Depth         int             `json:"depth"`
}

func (d citationJSON) record() (core.Record, error) {
	c := &core.Citation{
		CitingID: refID(d.CitingOpinion),
		CitedID:  refID(d.CitedOpinion),
		Depth:    d.Depth,
	}
	if c.CitingID == "" || c.CitedID == "" {
		return nil, fmt.Errorf("%w: citation with missing endpoint", source.ErrPermanent)
	}
	return c, nil
}

// opinionType maps CourtListener's coded opinion types ("010combined",
// "040dissent", ...) onto the four stored tags.
func opinionType(code string) core.OpinionType {
	code = strings.ToLower(code)
	switch {
	case code == "":
		return core.OpinionCombined
	case strings.Contains(code, "dissent"):
		return core.OpinionDissent
	case strings.Contains(code, "concur"):
		return core.OpinionConcurrence
	case strings.Contains(code, "lead"), strings.Contains(code, "plurality"),
		strings.Contains(code, "majority"), strings.Contains(code, "unanimous"), strings.Contains(code, "unamimous"):
		return core.OpinionMajority
	}
	return core.OpinionCombined
}

// refID extracts an id from a reference that may be a resource URL,
// a bare id, a number or an object with an "id" field.
func refID(raw json.RawMessage) core.ID {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '{' {
		var obj struct {
			ID flexString `json:"id"`
		}
		if json.Unmarshal(raw, &obj) != nil {
			return ""
		}
		return core.ID(obj.ID)
	}
	var s flexString
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return idFromURL(string(s))
}

// refLabel returns a human label for a reference: the named field of an
// embedded object, or the id of a resource URL.
func refLabel(raw json.RawMessage, field string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var obj map[string]any
		if json.Unmarshal(raw, &obj) == nil {
			if v, ok := obj[field].(string); ok {
				return v
			}
		}
		return ""
	}
	return string(refID(raw))
}

// idFromURL returns the last non-empty path segment of a resource URL,
// or the input unchanged if it is not a URL.
func idFromURL(s string) core.ID {
	if !strings.Contains(s, "/") {
		return core.ID(s)
	}
	path := s
	if u, err := url.Parse(s); err == nil {
		path = u.Path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	return core.ID(segments[len(segments)-1])
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

package core

import (
	"encoding/hex"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

const (
	// MaxEmbeddingText caps the number of runes in any assembled embedding text.
	MaxEmbeddingText = 8000

	// OpinionTextPrefix is the number of leading runes of an opinion's plain text
	// used for its embedding.
	OpinionTextPrefix = 8000

	// TextSeparator joins the fields of an assembled embedding text.
	TextSeparator = "\n"

	fingerprintSize = 32
)

// Fingerprint returns the hex-encoded BLAKE2b-256 digest of an assembled text.
// Identical text always yields an identical fingerprint.
func Fingerprint(text string) string {
	h, _ := blake2b.New(fingerprintSize, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// FullName joins the non-empty name parts of a judge.
func (j *Judge) FullName() string {
	return joinNonEmpty(" ", j.NameFirst, j.NameMiddle, j.NameLast, j.NameSuffix)
}

// AssembleJudgeText builds the canonical embedding text for a judge:
// full name, biography, then one line per education and position entry.
func AssembleJudgeText(j *Judge) string {
	if j == nil {
		return ""
	}
	parts := []string{j.FullName(), strings.TrimSpace(j.Biography)}
	for _, e := range j.Education {
		parts = append(parts, joinNonEmpty(", ", e.School, e.Degree, e.Year))
	}
	for _, p := range j.Positions {
		line := joinNonEmpty(" at ", p.PositionType, p.Court)
		if p.DateStart != "" {
			end := p.DateEnd
			if end == "" {
				end = "present"
			}
			line = joinNonEmpty(" ", line, "("+p.DateStart+" to "+end+")")
		}
		if p.Appointer != "" {
			line = joinNonEmpty(", appointed by ", line, p.Appointer)
		}
		parts = append(parts, line)
	}
	return truncateRunes(joinNonEmpty(TextSeparator, parts...), MaxEmbeddingText)
}

// AssembleDocketText builds the canonical embedding text for a docket:
// case name, nature of suit, then the cause summary.
func AssembleDocketText(d *Docket) string {
	if d == nil {
		return ""
	}
	name := d.CaseName
	if name == "" {
		name = d.CaseNameFull
	}
	return truncateRunes(joinNonEmpty(TextSeparator, name, d.NatureOfSuit, d.Cause), MaxEmbeddingText)
}

// AssembleOpinionText returns the first OpinionTextPrefix runes of an opinion's text.
// The bound is applied regardless of content.
func AssembleOpinionText(o *Opinion) string {
	if o == nil {
		return ""
	}
	return truncateRunes(strings.TrimSpace(o.PlainText), OpinionTextPrefix)
}

// AssembleText dispatches to the assembler for the record's kind.
// Kinds without an embedding return an empty string.
func AssembleText(rec Record) string {
	switch r := rec.(type) {
	case *Judge:
		return AssembleJudgeText(r)
	case *Docket:
		return AssembleDocketText(r)
	case *Opinion:
		return AssembleOpinionText(r)
	default:
		return ""
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

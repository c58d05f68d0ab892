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


package core

import (
	"fmt"
)

// ValidateRecord validates any stored record according to domain rules.
//
// Validation rules:
//   - every record has a natural id
//   - Docket names its Court, Cluster names its Docket, Opinion names its Cluster
//   - Opinion type is one of the known tags (empty is treated as combined)
//   - Citation edges name both ends and never point at their own source
//
// NOT validated:
//   - Embedding (populated by the embedding cache)
//   - Opinion author (nullable)
//   - existence of parents (checked by the store at commit time)
func ValidateRecord(rec Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	switch r := rec.(type) {
	case *Court, *Judge:
		if r.NaturalID() == "" {
			return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, r.Kind(), ErrEmptyID)
		}
	case *Docket:
		return validateChild(r, r.CourtID)
	case *Cluster:
		return validateChild(r, r.DocketID)
	case *Opinion:
		if err := validateChild(r, r.ClusterID); err != nil {
			return err
		}
		if err := ValidateOpinionType(r.Type); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	case *Citation:
		return ValidateCitation(r)
	default:
		return fmt.Errorf("%w: %w: %T", ErrInvalidRecord, ErrUnknownKind, rec)
	}
	return nil
}

func validateChild(rec Record, parent ID) error {
	if rec.NaturalID() == "" {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, rec.Kind(), ErrEmptyID)
	}
	if parent == "" {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidRecord, rec.Kind(), rec.NaturalID(), ErrMissingParentRef)
	}
	return nil
}

// ValidateCitation validates a citation edge.
func ValidateCitation(c *Citation) error {
	if c == nil {
		return fmt.Errorf("%w: citation is nil", ErrInvalidRecord)
	}
	if c.CitingID == "" || c.CitedID == "" {
		return fmt.Errorf("%w: citation: %w", ErrInvalidRecord, ErrEmptyID)
	}
	if c.CitingID == c.CitedID {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, c.CitingID, ErrSelfCitation)
	}
	return nil
}

// ValidateOpinionType validates that an OpinionType has a known value.
func ValidateOpinionType(t OpinionType) error {
	switch t {
	case "", OpinionCombined, OpinionMajority, OpinionConcurrence, OpinionDissent:
		return nil
	}
	return fmt.Errorf("%w: value %q", ErrInvalidOpinionType, t)
}

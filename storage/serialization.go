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

package storage

import (
	"fmt"

	"github.com/poiesic/courtgraph/core"
	"github.com/vmihailenco/msgpack/v5"
)

// MarshalRecord serializes a stored entity to bytes.
func MarshalRecord(rec core.Record) ([]byte, error) {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, rec.Kind(), err)
	}
	return data, nil
}

// UnmarshalRecord deserializes an entity of the given kind from bytes.
func UnmarshalRecord(kind core.EntityKind, data []byte) (core.Record, error) {
	rec, err := newRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, kind, err)
	}
	return rec, nil
}

func newRecord(kind core.EntityKind) (core.Record, error) {
	switch kind {
	case core.KindCourt:
		return &core.Court{}, nil
	case core.KindJudge:
		return &core.Judge{}, nil
	case core.KindDocket:
		return &core.Docket{}, nil
	case core.KindCluster:
		return &core.Cluster{}, nil
	case core.KindOpinion:
		return &core.Opinion{}, nil
	case core.KindCitation:
		return &core.Citation{}, nil
	}
	return nil, fmt.Errorf("%w: %d", core.ErrUnknownKind, kind)
}

// MarshalRunOutcome serializes a RunOutcome to bytes.
func MarshalRunOutcome(run *core.RunOutcome) ([]byte, error) {
	data, err := msgpack.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("%w: run: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalRunOutcome deserializes a RunOutcome from bytes.
func UnmarshalRunOutcome(data []byte) (*core.RunOutcome, error) {
	var run core.RunOutcome
	if err := msgpack.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("%w: run: %w", ErrSerializationFailed, err)
	}
	return &run, nil
}

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

import "errors"

// Domain validation errors
var (
	// ErrInvalidRecord indicates a record failed validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptyID indicates a record or reference has no natural identifier.
	ErrEmptyID = errors.New("natural id cannot be empty")

	// ErrMissingParentRef indicates a child record does not name its owner.
	ErrMissingParentRef = errors.New("parent reference cannot be empty")

	// ErrSelfCitation indicates a citation edge points at its own source.
	ErrSelfCitation = errors.New("opinion cannot cite itself")

	// ErrInvalidOpinionType indicates an unknown opinion type tag.
	ErrInvalidOpinionType = errors.New("invalid opinion type")

	// ErrUnknownKind indicates an entity kind outside the closed set.
	ErrUnknownKind = errors.New("unknown entity kind")
)

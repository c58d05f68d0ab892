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


package source

import "errors"

var (
	// ErrNotFound indicates the record is absent upstream. Not retried.
	ErrNotFound = errors.New("record not found upstream")

	// ErrRateLimited indicates the upstream quota was exhausted. Retried with backoff.
	ErrRateLimited = errors.New("rate limited by record source")

	// ErrTransient indicates a network or server failure. Retried with backoff.
	ErrTransient = errors.New("transient record source failure")

	// ErrPermanent indicates malformed data or a rejected request. Not retried.
	ErrPermanent = errors.New("permanent record source failure")

	// ErrUnsupported indicates a kind or relation the source does not serve.
	ErrUnsupported = errors.New("unsupported record source query")
)

// IsRetryable reports whether err is worth retrying after a backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

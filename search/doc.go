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


// Package search answers natural-language queries over the stored judicial records.
//
// The Ranker embeds a query once, searches the Opinion, Docket, and Judge
// embedding spaces concurrently, and fuses the per-space hits into one ranked
// list:
//   - distances in each space are min-max scaled to a [0, 1] relevance
//   - hits are pooled and sorted by relevance, then by space, then by id
//   - a result cap and an optional per-space minimum shape the final list
//
// A space that fails or misses the deadline contributes no hits and is
// reported in the response instead of failing the query.
package search

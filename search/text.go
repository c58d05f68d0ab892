package search

import "strings"

// normalizeQuery collapses runs of whitespace and trims the query.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

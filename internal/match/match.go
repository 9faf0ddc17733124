// Package match implements the predicates behind the sent-email assertions.
package match

import (
	"strings"

	"github.com/shineum/smtp-capture-lite/internal/email"
)

// Find returns the first record in which every criterion's value is a
// case-sensitive substring of the record field of the same name. A record
// missing a field never satisfies the criterion for that field. Empty
// criteria match the first record.
func Find(records []email.Record, criteria email.Criteria) (email.Record, bool) {
	for _, r := range records {
		if matches(r, criteria) {
			return r, true
		}
	}
	return nil, false
}

// MatchesAny reports whether at least one record satisfies all criteria.
func MatchesAny(records []email.Record, criteria email.Criteria) bool {
	_, ok := Find(records, criteria)
	return ok
}

// Filter returns every record satisfying all criteria, in capture order.
func Filter(records []email.Record, criteria email.Criteria) []email.Record {
	out := make([]email.Record, 0, len(records))
	for _, r := range records {
		if matches(r, criteria) {
			out = append(out, r)
		}
	}
	return out
}

// CountEquals reports whether exactly expected records were captured.
func CountEquals(records []email.Record, expected int) bool {
	return len(records) == expected
}

func matches(r email.Record, criteria email.Criteria) bool {
	matched := 0
	for field, search := range criteria {
		value, ok := r[field]
		if ok && strings.Contains(value, search) {
			matched++
		}
	}
	return matched == len(criteria)
}

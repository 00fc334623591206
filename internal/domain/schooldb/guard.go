// Package schooldb runs guarded read-only SQL against the school database
// (the schooltoneighborhood table). The guard classifies a query before the
// store is ever touched; rejected queries never open a connection.
package schooldb

import (
	"errors"
	"strings"
)

// ErrQueryNotAllowed is returned when a query is classified as a mutation.
var ErrQueryNotAllowed = errors.New("only read queries are allowed")

// Classification is the result of inspecting a query string.
type Classification int

const (
	// ClassificationRead marks a query safe to execute.
	ClassificationRead Classification = iota
	// ClassificationRejected marks a query that must not reach the store.
	ClassificationRejected
)

// deniedPrefixes are the statement kinds rejected outright.
var deniedPrefixes = []string{"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER"}

// Classify decides whether a query is a safe read. The check is a prefix
// match on the trimmed, upper-cased query — it does not parse SQL, so a
// mutation hidden inside a comment or subquery is not caught here. That is a
// known limitation of this guard; the read-only connection mode is the
// second line of defense (see sqlite.OpenReadOnly).
func Classify(query string) Classification {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(head, prefix) {
			return ClassificationRejected
		}
	}
	return ClassificationRead
}

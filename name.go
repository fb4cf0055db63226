package metacache

import "strings"

// CaseMode selects how object names are compared.
type CaseMode uint8

const (
	// Exact compares names byte for byte.
	Exact CaseMode = iota
	// Upper folds names to upper case before comparing (Oracle, DB2, Firebird style).
	Upper
	// Lower folds names to lower case before comparing (PostgreSQL, SQLite, DuckDB style).
	Lower
)

func (m CaseMode) String() string {
	switch m {
	case Upper:
		return "upper"
	case Lower:
		return "lower"
	default:
		return "exact"
	}
}

// ParseCaseMode maps "exact", "upper" and "lower" (any case) to a CaseMode.
func ParseCaseMode(s string) (CaseMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return Exact, true
	case "upper":
		return Upper, true
	case "lower":
		return Lower, true
	}
	return Exact, false
}

// NamePolicy is applied uniformly to lookup, uniqueness and merge-by-name.
// The zero value compares names exactly.
type NamePolicy struct {
	Mode CaseMode
	// Trim strips surrounding blanks (CHAR-padded catalog columns).
	Trim bool
}

// Key returns the normalized form of name under the policy.
func (p NamePolicy) Key(name string) string {
	if p.Trim {
		name = strings.TrimSpace(name)
	}
	switch p.Mode {
	case Upper:
		return strings.ToUpper(name)
	case Lower:
		return strings.ToLower(name)
	}
	return name
}

// Equal reports whether a and b name the same object.
func (p NamePolicy) Equal(a, b string) bool { return p.Key(a) == p.Key(b) }

package metacache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MapRow is a Row backed by a map. Field lookup is case-insensitive: keys are expected
// in lower case and the requested field is lower-cased before the lookup.
type MapRow map[string]any

func (r MapRow) Value(field string) (any, bool) {
	if v, ok := r[field]; ok {
		return v, true
	}
	v, ok := r[strings.ToLower(field)]
	return v, ok
}

// RowString returns field as a string. Missing fields and NULLs yield "".
func RowString(r Row, field string) (string, error) {
	v, ok := r.Value(field)
	if !ok || v == nil {
		return "", nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	case int64, int32, int, int16, int8, uint64, uint32, uint, float64, float32, bool:
		return fmt.Sprint(x), nil
	}
	return "", RowErrorf(field, "unsupported type %T", v)
}

// RowRequiredString is RowString but rejects missing, NULL and blank values.
func RowRequiredString(r Row, field string) (string, error) {
	s, err := RowString(r, field)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", RowErrorf(field, "required value is empty")
	}
	return s, nil
}

// RowInt returns field as an int64. Missing fields and NULLs yield 0.
func RowInt(r Row, field string) (int64, error) {
	v, ok := r.Value(field)
	if !ok || v == nil {
		return 0, nil
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseInt(field, x)
	case []byte:
		return parseInt(field, string(x))
	}
	return 0, RowErrorf(field, "unsupported type %T", v)
}

func parseInt(field, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &RowError{Field: field, Err: err}
	}
	return n, nil
}

// RowBool returns field as a bool. Numbers are true when non-zero; strings accept
// the usual catalog spellings (YES/NO, Y/N, TRUE/FALSE, 1/0).
func RowBool(r Row, field string) (bool, error) {
	v, ok := r.Value(field)
	if !ok || v == nil {
		return false, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return parseBool(field, x)
	case []byte:
		return parseBool(field, string(x))
	}
	n, err := RowInt(r, field)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func parseBool(field, s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES", "T", "TRUE", "1":
		return true, nil
	case "", "N", "NO", "F", "FALSE", "0":
		return false, nil
	}
	return false, RowErrorf(field, "not a boolean: %q", s)
}

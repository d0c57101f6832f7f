package vectorstore

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// pqFloatArray is a minimal Postgres float8[] Scanner/Valuer, duplicated
// from pkg/graphstore's equivalent rather than exported across package
// boundaries for an unrelated storage concern.
type pqFloatArray []float64

func (a pqFloatArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func (a *pqFloatArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("pqFloatArray: unsupported scan type %T", src)
	}
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		*a = pqFloatArray{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(pqFloatArray, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("pqFloatArray: parse %q: %w", p, err)
		}
		out[i] = f
	}
	*a = out
	return nil
}

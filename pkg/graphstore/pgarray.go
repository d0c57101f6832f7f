package graphstore

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// float64Array is a minimal Postgres float8[] Scanner/Valuer, used for
// the episodes.embedding column. The pack carries no pgvector driver, so
// embeddings are stored as a plain array and compared with an in-Go
// cosine fallback (pkg/vectorstore) rather than a native vector type.
type float64Array []float64

func (a float64Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func (a *float64Array) Scan(src interface{}) error {
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
		return fmt.Errorf("float64Array: unsupported scan type %T", src)
	}

	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		*a = float64Array{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(float64Array, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("float64Array: parse %q: %w", p, err)
		}
		out[i] = f
	}
	*a = out
	return nil
}

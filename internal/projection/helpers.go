package projection

import (
	"encoding/json"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// jsonColumn marshals v for a TEXT column, falling back when v is nil or
// does not marshal. Projections must never fail on optional structure.
func jsonColumn(v interface{}, fallback string) string {
	if v == nil {
		return fallback
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}

// nullStr maps an optional string onto a nullable column value.
func nullStr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// nullTime maps an optional time onto a nullable canonical timestamp.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return types.FormatTime(*t)
}

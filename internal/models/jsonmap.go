package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a custom type for JSONB columns holding free-form objects,
// such as the type-specific source payload.
type JSONMap map[string]any

// Value implements driver.Valuer for database storage.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("scan JSONMap: unexpected type %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Merge returns a copy of m with the given keys overlaid. Existing keys not
// present in overlay are preserved.
func (m JSONMap) Merge(overlay map[string]any) JSONMap {
	merged := make(JSONMap, len(m)+len(overlay))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

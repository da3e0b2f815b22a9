package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func ConvertToJSON(data interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(bytes), nil
}

// MetadataMap decodes a JSONB column into a map, returning an empty map for
// null or invalid payloads so callers can mutate it safely.
func MetadataMap(data datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(data) == 0 {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

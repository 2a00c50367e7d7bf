package rowstore

import (
	"encoding/json"
	"fmt"
)

func loggableRow(m *Model, vals []any) string {
	if vals == nil {
		return "<none>"
	}
	if m != nil && m.suppressContent {
		return "<suppressed>"
	}
	return loggableVal(vals)
}

func loggableVal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// NaN and Inf are not representable in JSON
		return fmt.Sprint(v)
	}
	return string(raw)
}

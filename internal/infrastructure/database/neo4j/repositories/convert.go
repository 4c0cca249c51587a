package repositories

import (
	"encoding/json"
	"time"
)

// Conversion helpers between neo4j record values and domain types.  The
// driver returns lists as []interface{} and integers as int64; properties
// maps are stored as a JSON string because neo4j node properties cannot nest.

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func asTime(v interface{}) time.Time {
	t, _ := v.(time.Time)
	return t
}

func asStringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asFloat32Slice(v interface{}) []float32 {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, item := range list {
		out = append(out, float32(asFloat(item)))
	}
	return out
}

func toAnySlice(xs []string) []interface{} {
	out := make([]interface{}, len(xs))
	for i, s := range xs {
		out[i] = s
	}
	return out
}

func embeddingToFloat64(e []float32) []interface{} {
	if len(e) == 0 {
		return nil
	}
	out := make([]interface{}, len(e))
	for i, f := range e {
		out[i] = float64(f)
	}
	return out
}

func marshalProps(props map[string]interface{}) (string, error) {
	if len(props) == 0 {
		return "", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalProps(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var props map[string]interface{}
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, err
	}
	return props, nil
}

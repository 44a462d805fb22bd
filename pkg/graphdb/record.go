package graphdb

import "fmt"

// Map returns a property map value, or nil.
func (r Record) Map(key string) map[string]interface{} {
	if r == nil {
		return nil
	}
	m, _ := r[key].(map[string]interface{})
	return m
}

// String returns a string value, or "".
func (r Record) String(key string) string {
	if r == nil {
		return ""
	}
	switch v := r[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns an integer value, or 0.
func (r Record) Int64(key string) int64 {
	if r == nil {
		return 0
	}
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

package attrs

import "fmt"

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// fmt.Stringer values (addresses, hashes, roles) are rendered with String.
// Returns empty string if the key is not found.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

// ToMap flattens the attribute slice into string form, skipping the listed
// keys. Values that are neither strings nor Stringers use %v.
func ToMap(attrs []any, skip ...string) map[string]string {
	skipped := make(map[string]struct{}, len(skip))
	for _, k := range skip {
		skipped[k] = struct{}{}
	}
	out := map[string]string{}
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if _, drop := skipped[k]; drop {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			out[k] = v
		case fmt.Stringer:
			out[k] = v.String()
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

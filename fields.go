package teamsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// toFields converts any JSON-serializable value into its canonical Fields form.
func toFields(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("decode fields: value is not an object")
	}
	return f, nil
}

// canonical round-trips f through JSON so values have the shapes they will
// have after a load from the local store (float64 numbers, RFC 3339 strings).
func canonical(f Fields) (Fields, error) {
	return toFields(f)
}

func fromFields[T any](f Fields) (*T, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// documentFromFields extracts the indexed metadata from a record.
func documentFromFields(f Fields) (Document, error) {
	id := f.ID()
	if id == "" {
		return Document{}, fmt.Errorf("document has no id")
	}
	doc := Document{ID: id, Fields: f}
	if v, ok := f[keyVersion]; ok && v != nil {
		n, ok := toInt64(v)
		if !ok {
			return Document{}, fmt.Errorf("document %s: version %v is not an integer", id, v)
		}
		doc.Version = n
	}
	if v, ok := f[keyIsDeleted].(bool); ok {
		doc.IsDeleted = v
	}
	if t, ok := toTime(f[keyUpdatedAt]); ok {
		doc.UpdatedAt = t
	}
	return doc, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

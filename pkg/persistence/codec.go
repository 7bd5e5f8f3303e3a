package persistence

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/actiond/pkg/models"
)

// typedValue is the stored form of a property value. JSON alone would turn
// every number into a float64 and every date or node reference into a string.
type typedValue struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

const (
	typeNull    = "null"
	typeString  = "string"
	typeBool    = "bool"
	typeInt     = "int"
	typeInt64   = "int64"
	typeFloat   = "float64"
	typeTime    = "time"
	typeNodeRef = "noderef"
	typeStrings = "strings"
	typeList    = "list"
	typeMap     = "map"
)

// EncodeProperties serializes properties keeping their Go types.
func EncodeProperties(props map[string]any) ([]byte, error) {
	encoded := make(map[string]typedValue, len(props))

	for name, value := range props {
		tv, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}

		encoded[name] = tv
	}

	return json.Marshal(encoded)
}

// DecodeProperties reverses EncodeProperties.
func DecodeProperties(data []byte) (map[string]any, error) {
	var encoded map[string]typedValue
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}

	props := make(map[string]any, len(encoded))

	for name, tv := range encoded {
		value, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}

		props[name] = value
	}

	return props, nil
}

func encodeValue(value any) (typedValue, error) {
	var (
		kind string
		raw  any
	)

	switch v := value.(type) {
	case nil:
		return typedValue{Type: typeNull}, nil
	case string:
		kind, raw = typeString, v
	case bool:
		kind, raw = typeBool, v
	case int:
		kind, raw = typeInt, v
	case int32:
		kind, raw = typeInt, int(v)
	case int64:
		kind, raw = typeInt64, v
	case float32:
		kind, raw = typeFloat, float64(v)
	case float64:
		kind, raw = typeFloat, v
	case time.Time:
		kind, raw = typeTime, v.Format(time.RFC3339Nano)
	case models.NodeRef:
		kind, raw = typeNodeRef, v.String()
	case []string:
		kind, raw = typeStrings, v
	case []models.NodeRef:
		items := make([]any, len(v))
		for i, ref := range v {
			items[i] = ref
		}

		return encodeList(items)
	case []any:
		return encodeList(v)
	case map[string]any:
		nested, err := EncodeProperties(v)
		if err != nil {
			return typedValue{}, err
		}

		return typedValue{Type: typeMap, Value: nested}, nil
	default:
		return typedValue{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return typedValue{}, err
	}

	return typedValue{Type: kind, Value: data}, nil
}

func encodeList(items []any) (typedValue, error) {
	encoded := make([]typedValue, len(items))

	for i, item := range items {
		tv, err := encodeValue(item)
		if err != nil {
			return typedValue{}, err
		}

		encoded[i] = tv
	}

	data, err := json.Marshal(encoded)
	if err != nil {
		return typedValue{}, err
	}

	return typedValue{Type: typeList, Value: data}, nil
}

func decodeValue(tv typedValue) (any, error) {
	switch tv.Type {
	case typeNull:
		return nil, nil
	case typeString:
		return decodeAs[string](tv.Value)
	case typeBool:
		return decodeAs[bool](tv.Value)
	case typeInt:
		return decodeAs[int](tv.Value)
	case typeInt64:
		return decodeAs[int64](tv.Value)
	case typeFloat:
		return decodeAs[float64](tv.Value)
	case typeTime:
		s, err := decodeAs[string](tv.Value)
		if err != nil {
			return nil, err
		}

		return time.Parse(time.RFC3339Nano, s)
	case typeNodeRef:
		s, err := decodeAs[string](tv.Value)
		if err != nil {
			return nil, err
		}

		return models.ParseNodeRef(s)
	case typeStrings:
		return decodeAs[[]string](tv.Value)
	case typeList:
		items, err := decodeAs[[]typedValue](tv.Value)
		if err != nil {
			return nil, err
		}

		out := make([]any, len(items))
		for i, item := range items {
			if out[i], err = decodeValue(item); err != nil {
				return nil, err
			}
		}

		return out, nil
	case typeMap:
		return DecodeProperties(tv.Value)
	default:
		return nil, fmt.Errorf("%w: stored type %q", ErrUnsupportedValue, tv.Type)
	}
}

func decodeAs[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)

	return v, err
}

// CopyValue returns a copy of a property value that shares no mutable state
// with the original.
func CopyValue(value any) any {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v)
	case []models.NodeRef:
		return slices.Clone(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = CopyValue(item)
		}

		return out
	case map[string]any:
		return CopyProperties(v)
	default:
		return value
	}
}

// CopyProperties deep-copies a property map.
func CopyProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}

	out := make(map[string]any, len(props))
	for name, value := range props {
		out[name] = CopyValue(value)
	}

	return out
}

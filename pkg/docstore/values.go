package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC form used by backends that serialize
// documents as JSON. Values in this layout sort lexicographically by time.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// resolveRecord deep-copies data, replacing ServerTimestamp with now.
func resolveRecord(data Record, now time.Time) Record {
	if data == nil {
		return nil
	}
	out := make(Record, len(data))
	for k, v := range data {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch val := v.(type) {
	case serverTimestamp:
		return now.UTC()
	case Record:
		return resolveRecord(val, now)
	case map[string]any:
		return map[string]any(resolveRecord(Record(val), now))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, now)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// mergeRecords applies patch onto base. Nested maps merge field by field,
// every other value replaces what was there.
func mergeRecords(base, patch Record) Record {
	out := make(Record, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		existing, ok := asMap(out[k])
		incoming, isMap := asMap(v)
		if ok && isMap {
			out[k] = map[string]any(mergeRecords(Record(existing), Record(incoming)))
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case Record:
		return val, true
	case map[string]any:
		return val, true
	default:
		return nil, false
	}
}

func cloneRecord(data Record) Record {
	return resolveRecord(data, time.Time{})
}

// applyQuery filters, orders and limits docs according to q.
func applyQuery(q Query, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		v, ok := doc.Data[q.OrderBy]
		if !ok || v == nil {
			continue
		}
		if !inRange(q, v) {
			continue
		}
		out = append(out, doc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
		if c == 0 {
			c = strings.Compare(out[i].ID, out[j].ID)
		}
		if q.Direction == Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func inRange(q Query, v any) bool {
	if q.StartAt != nil && compareValues(v, q.StartAt) < 0 {
		return false
	}
	if q.EndBefore != nil && compareValues(v, q.EndBefore) >= 0 {
		return false
	}
	return true
}

// compareValues orders values the way document stores do: first by type
// (bool < number < timestamp < string), then by value within a type.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int, int32, int64, float32, float64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// encodeValue converts times to TimeLayout strings for JSON backends.
func encodeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case Record:
		return map[string]any(encodeRecord(val))
	case map[string]any:
		return map[string]any(encodeRecord(Record(val)))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

func encodeRecord(data Record) Record {
	out := make(Record, len(data))
	for k, v := range data {
		out[k] = encodeValue(v)
	}
	return out
}

func marshalRecord(data Record) ([]byte, error) {
	raw, err := json.Marshal(encodeRecord(data))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return raw, nil
}

func unmarshalRecord(raw []byte) (Record, error) {
	var data Record
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if data == nil {
		data = Record{}
	}
	return data, nil
}

// encodeBound converts a query bound into the representation JSON backends
// compare against.
func encodeBound(v any) any {
	if v == nil {
		return nil
	}
	return encodeValue(v)
}

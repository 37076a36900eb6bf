// README: Timestamp normalization; every adapter converts incoming instants to epoch milliseconds here.
package types

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// dateConverter is implemented by store wrappers that expose a to-date conversion.
type dateConverter interface {
	ToDate() time.Time
}

// protoTimestamp matches timestamppb.Timestamp, the Firestore wire representation.
type protoTimestamp interface {
	AsTime() time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToEpochMillis converts any supported instant shape to epoch milliseconds.
// The boolean is false when v is absent or cannot be interpreted.
func ToEpochMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return ToEpochMillis(f)
		}
		return 0, false
	case EpochMillis:
		return int64(t), t != 0
	case time.Time:
		if t.IsZero() {
			return 0, false
		}
		return t.UnixMilli(), true
	case *time.Time:
		if t == nil {
			return 0, false
		}
		return ToEpochMillis(*t)
	case string:
		return parseTimeString(t)
	case map[string]any:
		return fromSecondsMap(t)
	case protoTimestamp:
		if isNilPointer(t) {
			return 0, false
		}
		return t.AsTime().UnixMilli(), true
	case dateConverter:
		if isNilPointer(t) {
			return 0, false
		}
		return t.ToDate().UnixMilli(), true
	}
	return 0, false
}

// NormalizeMillis is ToEpochMillis with the fallback rule applied: absent or
// unparseable values become now, and unparseable ones are logged.
func NormalizeMillis(v any, now time.Time, log *zap.Logger) int64 {
	if ms, ok := ToEpochMillis(v); ok {
		return ms
	}
	if v != nil && log != nil {
		log.Warn("unparseable timestamp, defaulting to now", zap.Any("value", v))
	}
	return now.UnixMilli()
}

// FromMillis is the inverse used when handing instants back to time-based code.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func parseTimeString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// fromSecondsMap handles JSON-serialized Firestore timestamps, which arrive as
// {"seconds": n, "nanoseconds": n} or the admin SDK's {"_seconds": n, "_nanoseconds": n}.
func fromSecondsMap(m map[string]any) (int64, bool) {
	secs, ok := numberField(m, "seconds", "_seconds")
	if !ok {
		return 0, false
	}
	nanos, _ := numberField(m, "nanoseconds", "_nanoseconds")
	return secs*1000 + nanos/int64(time.Millisecond), true
}

func numberField(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, present := m[k]
		if !present {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n), true
		case int64:
			return n, true
		case int:
			return int64(n), true
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// EpochMillis is the canonical instant crossing every boundary. It marshals as
// a JSON number and unmarshals from a number, an ISO-8601 string or a
// serialized store timestamp.
type EpochMillis int64

// MillisOf returns the canonical value for t.
func MillisOf(t time.Time) EpochMillis {
	if t.IsZero() {
		return 0
	}
	return EpochMillis(t.UnixMilli())
}

// Time returns the zero time for 0 so IsZero round-trips.
func (m EpochMillis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return FromMillis(int64(m))
}

func (m EpochMillis) IsZero() bool { return m == 0 }

func (m EpochMillis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(m), 10), nil
}

func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = 0
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*m = EpochMillis(NormalizeMillis(raw, time.Now(), zap.L()))
	return nil
}

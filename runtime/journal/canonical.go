package journal

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// canonicalEvent is the on-disk shape hashed and written for each line. It
// mirrors Event without HashSelf and is rendered through a sorted-key map so
// key order is controlled explicitly; HashSelf is never part of the hashed
// bytes, since it is the hash of everything else.
type canonicalEvent struct {
	EventID   string
	Seq       int64
	Timestamp string
	SessionID string
	Type      EventType
	Payload   map[string]any
	HashPrev  string
}

// canonicalJSON renders v as canonical JSON: object keys sorted
// lexicographically, UTF-8 strings, and numbers in their shortest
// round-trip form. It is a fixed point under encode(decode(encode(v))) for
// any value produced by this package.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeCanonicalString(buf, val)
	case EventType:
		encodeCanonicalString(buf, string(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		encodeCanonicalNumber(buf, val)
	case map[string]any:
		return encodeCanonicalObject(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case canonicalEvent:
		return encodeCanonicalObject(buf, map[string]any{
			"event_id":   val.EventID,
			"seq":        val.Seq,
			"timestamp":  val.Timestamp,
			"session_id": val.SessionID,
			"type":       val.Type,
			"payload":    val.Payload,
			"hash_prev":  val.HashPrev,
		})
	default:
		return fmt.Errorf("journal: unsupported canonical type %T", v)
	}
	return nil
}

func encodeCanonicalObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeCanonicalString(buf, k)
		buf.WriteByte(':')
		if err := encodeCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// encodeCanonicalNumber writes f using the shortest representation that
// round-trips, matching Go's strconv.FormatFloat with precision -1.
// Integral values are written without a trailing ".0" to match common
// canonical-JSON conventions used elsewhere in the stack.
func encodeCanonicalNumber(buf *bytes.Buffer, f float64) {
	if math.Trunc(f) == f && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalid is returned when input is not well-formed RFC 8259 JSON.
var ErrInvalid = errors.New("invalid JSON")

// Valid reports whether text is a single well-formed JSON value.
// Surrounding whitespace is allowed; trailing data is not.
func Valid(text string) bool {
	return json.Valid([]byte(text))
}

// Parse decodes JSON text into a generic value tree.
// Numbers are returned as json.Number so their literal text survives.
func Parse(text string) (any, error) {
	if !Valid(text) {
		return nil, ErrInvalid
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return v, nil
}

// Canonicalize parses text and returns its canonical serialization.
func Canonicalize(text string) ([]byte, error) {
	v, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Marshal(v)
}

// Equal reports whether a and b hold the same logical JSON content.
// Returns ErrInvalid (wrapped) if either side is malformed.
func Equal(a, b string) (bool, error) {
	ca, err := Canonicalize(a)
	if err != nil {
		return false, fmt.Errorf("left: %w", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false, fmt.Errorf("right: %w", err)
	}
	return bytes.Equal(ca, cb), nil
}

// IsNFC reports whether every string and object key in text is in Unicode
// Normalization Form C. Canonicalize and Equal never normalize: two
// documents differing only in normalization compare unequal.
func IsNFC(text string) (bool, error) {
	v, err := Parse(text)
	if err != nil {
		return false, err
	}
	return isNFC(v), nil
}

func isNFC(v any) bool {
	switch val := v.(type) {
	case string:
		return norm.NFC.IsNormalString(val)
	case []any:
		for _, elem := range val {
			if !isNFC(elem) {
				return false
			}
		}
	case map[string]any:
		for k, elem := range val {
			if !norm.NFC.IsNormalString(k) || !isNFC(elem) {
				return false
			}
		}
	}
	return true
}

// Marshal produces the canonical serialization of a value tree as returned
// by Parse. Go primitives (string, bool, int, int64, float64) are accepted
// for convenience.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case int:
		fmt.Fprintf(buf, "%d", val)
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case float64:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
	case string:
		return marshalString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalValue(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range SortedKeys(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := marshalValue(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// marshalString writes s without HTML escaping and with U+2028/U+2029 left
// literal. Code points are written as they are; no Unicode normalization.
func marshalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators rewrites \u2028 and \u2029 escapes to the literal
// characters. Escape pairs are consumed two bytes at a time, so an escaped
// backslash followed by the text "u2028" is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		if i+5 < len(data) && string(data[i+1:i+5]) == "u202" && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}

// SortedKeys returns the keys of m in RFC 8785 order (UTF-16 code units).
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

package value

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// CanonicalForm produces the text that content hashes are computed over.
//
// Objects become arrays of {"key":k,"value":v} pairs ordered by key
// (UTF-16 code units). Arrays become arrays of pairs whose keys are the
// decimal element indexes. Scalars render as compact JSON. The rule
// applies recursively, so two structurally equal payloads always produce
// identical bytes no matter how their members were inserted.
//
// Strings are NFC normalized and escaped the way peer clients escape them:
// quote, backslash and solidus are backslash-escaped, control characters
// use their short forms or \u00XX, everything else is emitted as UTF-8.
//
// Numbers render in a canonical form so that 1, 1.0 and 1e0 agree.
func CanonicalForm(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return errors.New("nil value has no canonical form")
	case Null:
		buf.WriteString("null")
	case String:
		writeCanonicalString(buf, string(val))
	case Number:
		text, err := canonicalNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(text)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writePair(buf, strconv.Itoa(i), elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('[')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writePair(buf, k, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported type for canonical form: %T", v)
	}
	return nil
}

func writePair(buf *bytes.Buffer, key string, v Value) error {
	buf.WriteString(`{"key":`)
	writeCanonicalString(buf, key)
	buf.WriteString(`,"value":`)
	if err := writeCanonical(buf, v); err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString writes s as a quoted, NFC-normalized JSON string.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)

	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf.WriteString(`�`)
			} else {
				buf.WriteString(s[i : i+size])
			}
			i += size
			continue
		}

		switch c {
		case '"', '\\', '/':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, c)
			} else {
				buf.WriteByte(c)
			}
		}
		i++
	}
	buf.WriteByte('"')
}

// canonicalNumber renders integers (and integral floats below 1e21) as plain
// digits and every other finite number in shortest round-trip form.
func canonicalNumber(n Number) (string, error) {
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) && isNumberLiteral(s) {
			// Out of float64 range: the literal itself is the only faithful form.
			return s, nil
		}
		return "", fmt.Errorf("invalid number literal %q", s)
	}

	if f == 0 {
		return "0", nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

// Package canon produces the canonical JSON encoding used for every hash in a
// resolution report, and renders digests in the 0x-prefixed hex form.
//
// The encoding follows RFC 8785: object keys sorted by UTF-16 code units, no
// insignificant whitespace, numbers in the ES6 shortest round-trip form.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/getwalmarket/walmarket/oracle"
)

// Canonicalize returns the canonical JSON encoding of v.
//
// v may be anything encoding/json can marshal. json.RawMessage is accepted and
// re-canonicalized, so bytes fetched from storage hash the same as the value
// they were produced from.
func Canonicalize(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns "0x" + hex(sha256(Canonicalize(v))).
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes b as-is.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return FormatHex(sum[:])
}

func normalize(v any) (out any, err error) {
	defer func() {
		// encoding/json can panic on exotic Marshaler implementations.
		if r := recover(); r != nil {
			out = nil
			err = oracle.NewError(oracle.KindValidation, "ORACLE-CANON-001", fmt.Sprintf("value is not JSON-representable: %v", r))
		}
	}()

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-CANON-001", "value is not JSON-representable", err)
	}
	// encoding/json rewrites invalid UTF-8 to U+FFFD, which would let distinct
	// strings (and map keys) collapse into one.
	if !utf8.Valid(raw) || !pairedSurrogates(raw) {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-CANON-005", "invalid UTF-8 in JSON text")
	}
	if err := checkUTF8(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-CANON-002", "invalid JSON", err)
	}
	if dec.More() {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-CANON-002", "trailing data after JSON value")
	}
	return out, nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		s, err := formatNumber(x)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case string:
		writeString(buf, x)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return oracle.NewError(oracle.KindInternal, "ORACLE-CANON-003", fmt.Sprintf("unexpected decoded type %T", v))
	}
	return nil
}

// pairedSurrogates reports whether every \uXXXX surrogate escape in raw is
// part of a valid pair. Lone surrogates decode to U+FFFD.
func pairedSurrogates(raw []byte) bool {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			continue
		}
		if raw[i+1] != 'u' {
			i++
			continue
		}
		r, ok := hexRune(raw, i+2)
		if !ok {
			return false
		}
		switch {
		case r >= 0xD800 && r < 0xDC00:
			if i+11 >= len(raw) || raw[i+6] != '\\' || raw[i+7] != 'u' {
				return false
			}
			lo, ok := hexRune(raw, i+8)
			if !ok || lo < 0xDC00 || lo >= 0xE000 {
				return false
			}
			i += 11
		case r >= 0xDC00 && r < 0xE000:
			return false
		default:
			i += 5
		}
	}
	return true
}

func hexRune(raw []byte, at int) (rune, bool) {
	if at+4 > len(raw) {
		return 0, false
	}
	n, err := strconv.ParseUint(string(raw[at:at+4]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// checkUTF8 walks the strings encoding/json would emit. Types with their own
// MarshalJSON are covered by the utf8.Valid check on the marshaled bytes.
func checkUTF8(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	if v.Type().Implements(marshalerType) || reflect.PointerTo(v.Type()).Implements(marshalerType) {
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return oracle.NewError(oracle.KindValidation, "ORACLE-CANON-005", fmt.Sprintf("invalid UTF-8 in string %q", v.String()))
		}
	case reflect.Interface, reflect.Pointer:
		if !v.IsNil() {
			return checkUTF8(v.Elem())
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key()); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := checkUTF8(v.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatNumber emits the ES6 form when it denotes exactly the literal's
// value. Integers float64 cannot hold are emitted as exact decimal integers;
// any other literal that does not survive the float64 round trip is rejected,
// so distinct values never share an encoding.
func formatNumber(n json.Number) (string, error) {
	lit := n.String()
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return "", oracle.NewError(oracle.KindValidation, "ORACLE-CANON-004", "number out of IEEE-754 range: "+lit)
		}
		return "", oracle.WrapError(oracle.KindValidation, "ORACLE-CANON-004", "invalid number: "+lit, err)
	}
	s, err := FormatFloat(f)
	if err != nil {
		return "", err
	}
	if f == 0 {
		mant, _, _ := strings.Cut(strings.ToLower(lit), "e")
		if strings.Trim(mant, "-0.") == "" {
			return s, nil
		}
		return "", inexact(lit)
	}
	exact, ok := new(big.Rat).SetString(lit)
	if !ok {
		return "", oracle.NewError(oracle.KindValidation, "ORACLE-CANON-004", "invalid number: "+lit)
	}
	if short, ok := new(big.Rat).SetString(s); ok && short.Cmp(exact) == 0 {
		return s, nil
	}
	if exact.IsInt() {
		return exact.Num().String(), nil
	}
	return "", inexact(lit)
}

func inexact(lit string) error {
	return oracle.NewError(oracle.KindValidation, "ORACLE-CANON-004", "number is not exactly representable: "+lit)
}

// FormatFloat renders f in the ES6 Number.prototype.toString form.
func FormatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", oracle.NewError(oracle.KindValidation, "ORACLE-CANON-004", "non-finite number")
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs < 1e21 && abs >= 1e-6 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + sign + digits, nil
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[r>>4])
			buf.WriteByte(hexDigits[r&0xf])
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// serialize.go — Bounded, total serialization of arbitrary captured values.
// Serialize never panics and never returns more than maxLength characters.
// Rule order matters: binary checks run before generic JSON encoding, and the
// string-coercion fallback runs last.
package serialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/url"
	"reflect"
	"unicode/utf8"
)

// DefaultMaxLength is the cap applied when callers pass a non-positive maxLength.
const DefaultMaxLength = 4096

// FilePlaceholder replaces file fields of form data.
const FilePlaceholder = "[File]"

// Serialize converts v into a string of at most maxLength characters.
//
//  1. nil and falsy-empty values (nil pointers, "", false, 0) serialize to "".
//  2. Strings are truncated.
//  3. Form data becomes a JSON object of field values, files replaced by "[File]".
//  4. Byte buffers become a placeholder naming their length; bytes are never emitted.
//  5. Everything else is JSON encoded and truncated.
//  6. If JSON encoding fails the value is coerced to a string and truncated.
func Serialize(v any, maxLength int) (out string) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	defer func() {
		if r := recover(); r != nil {
			out = Truncate(Coerce(v), maxLength)
		}
	}()

	if IsEmpty(v) {
		return ""
	}

	switch x := v.(type) {
	case string:
		return Truncate(x, maxLength)
	case json.RawMessage:
		return Truncate(string(x), maxLength)
	case *multipart.Form:
		return encode(FormFields(x), maxLength)
	case url.Values:
		return encode(valuesFields(x), maxLength)
	case []byte:
		return Truncate(BinaryPlaceholder(x), maxLength)
	case *bytes.Buffer:
		return Truncate(BinaryPlaceholder(x.Bytes()), maxLength)
	case *bytes.Reader:
		return Truncate(fmt.Sprintf("[Binary data: %d bytes]", x.Len()), maxLength)
	case io.Reader:
		return Truncate(fmt.Sprintf("[Stream: %T]", x), maxLength)
	}

	return encode(v, maxLength)
}

func encode(v any, maxLength int) string {
	data, err := json.Marshal(v)
	if err != nil {
		return Truncate(Coerce(v), maxLength)
	}
	return Truncate(string(data), maxLength)
}

// FormFields maps multipart form fields to their last value, with file fields
// replaced by FilePlaceholder.
func FormFields(form *multipart.Form) map[string]string {
	fields := make(map[string]string, len(form.Value)+len(form.File))
	for key, values := range form.Value {
		if len(values) > 0 {
			fields[key] = values[len(values)-1]
		}
	}
	for key := range form.File {
		fields[key] = FilePlaceholder
	}
	return fields
}

func valuesFields(values url.Values) map[string]string {
	fields := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			fields[key] = vals[len(vals)-1]
		}
	}
	return fields
}

// BinaryPlaceholder describes a byte buffer without emitting its contents.
func BinaryPlaceholder(data []byte) string {
	if format := DetectFormat(data); format != "" {
		return fmt.Sprintf("[Binary data: %d bytes, %s]", len(data), format)
	}
	return fmt.Sprintf("[Binary data: %d bytes]", len(data))
}

// IsEmpty reports whether v is nil or falsy-empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	case reflect.Slice:
		return rv.IsNil()
	case reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || math.IsNaN(f)
	}
	return false
}

// Coerce renders v with generic string coercion. Composite values render as
// "[object <type>]" so that self-referential values cannot recurse.
func Coerce(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("[%T]", v)
		}
	}()

	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
		return "[object " + rv.Type().String() + "]"
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "[" + rv.Type().String() + "]"
	}
	return fmt.Sprint(v)
}

// Length returns the character count used for capping.
// Invalid UTF-8 bytes count as one character each.
func Length(s string) int { return utf8.RuneCountInString(s) }

// Truncate returns the longest prefix of s holding at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// -- Form Data --

// FormValue is a single form input value. Submissions carry either strings or
// booleans; numbers are accepted and kept in their textual form.
type FormValue struct {
	Text   string
	Bool   bool
	IsBool bool
}

// StringValue wraps a textual value.
func StringValue(s string) FormValue { return FormValue{Text: s} }

// BoolValue wraps a boolean value.
func BoolValue(b bool) FormValue { return FormValue{Bool: b, IsBool: true, Text: strconv.FormatBool(b)} }

// String returns the value as it should be typed into a text-like field.
func (v FormValue) String() string {
	if v.IsBool {
		return strconv.FormatBool(v.Bool)
	}
	return v.Text
}

// Truthy interprets the value as the desired state of a checkbox or radio.
func (v FormValue) Truthy() bool {
	if v.IsBool {
		return v.Bool
	}
	switch strings.ToLower(strings.TrimSpace(v.Text)) {
	case "", "false", "0", "no", "off":
		return false
	}
	return true
}

func (v FormValue) MarshalJSON() ([]byte, error) {
	if v.IsBool {
		return json.Marshal(v.Bool)
	}
	return json.Marshal(v.Text)
}

func (v *FormValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = BoolValue(t)
	case string:
		*v = StringValue(t)
	case json.Number:
		*v = StringValue(t.String())
	case nil:
		*v = StringValue("")
	default:
		return fmt.Errorf("form value must be a string or boolean, got %T", raw)
	}
	return nil
}

// FormData is an ordered mapping of field keys to values. Order is insertion
// order, or document order when decoded from JSON; value resolution relies on
// it to make fuzzy matching deterministic.
type FormData struct {
	keys   []string
	values map[string]FormValue
}

// NewFormData creates an empty FormData.
func NewFormData() *FormData {
	return &FormData{values: make(map[string]FormValue)}
}

// FormDataFromPairs builds FormData from alternating key/value arguments.
// Values may be strings or booleans; anything else is formatted with %v.
func FormDataFromPairs(pairs ...interface{}) *FormData {
	fd := NewFormData()
	for i := 0; i+1 < len(pairs); i += 2 {
		key := fmt.Sprint(pairs[i])
		switch v := pairs[i+1].(type) {
		case bool:
			fd.Set(key, BoolValue(v))
		case string:
			fd.Set(key, StringValue(v))
		case FormValue:
			fd.Set(key, v)
		default:
			fd.Set(key, StringValue(fmt.Sprint(v)))
		}
	}
	return fd
}

// Set inserts or replaces a key. Replacing keeps the original position.
func (f *FormData) Set(key string, v FormValue) {
	if f.values == nil {
		f.values = make(map[string]FormValue)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

// Get returns the value for key and whether it exists.
func (f *FormData) Get(key string) (FormValue, bool) {
	if f == nil {
		return FormValue{}, false
	}
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the keys in order. The returned slice is a copy.
func (f *FormData) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *FormData) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

func (f *FormData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := f.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object while preserving key order.
func (f *FormData) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("formData must be a JSON object")
	}

	*f = FormData{values: make(map[string]FormValue)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("formData key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("formData[%q]: %w", key, err)
		}
		var v FormValue
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("formData[%q]: %w", key, err)
		}
		f.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

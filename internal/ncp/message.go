package ncp

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Wire-stable field names.
const (
	FieldMessage    = "__message__"
	FieldError      = "__error__"
	FieldWarning    = "__warning__"
	FieldWhoami     = "__whoami__"
	FieldNonce      = "__nonce__"
	FieldResource   = "resource"
	FieldReason     = "reason"
	FieldName       = "name"
	FieldStatus     = "status"
	FieldBenchmark  = "benchmark"
	FieldSuccess    = "success"
	FieldSettings   = "settings"
	FieldBenchmarks = "benchmarks"
	FieldDrivers    = "drivers"
	FieldSize       = "size"
	FieldTrace      = "__trace__"
)

// Protocol-level messages accepted regardless of catalog.
const (
	MsgConnectionRequest  = "__CONNECTION_REQUEST__"
	MsgConnectionResponse = "__CONNECTION_RESPONSE__"
	MsgAbortRequest       = "__ABORT_REQUEST__"
)

// Fields holds the payload of an outbound message.
type Fields map[string]any

// Message is one control message. Outbound messages are built from Name and
// Fields; decoded messages keep their original bytes, so re-encoding them is
// byte-identical.
type Message struct {
	Name   string
	Fields Fields

	raw []byte
}

// NewMessage builds an outbound message.
func NewMessage(name string, fields Fields) *Message {
	if fields == nil {
		fields = Fields{}
	}
	return &Message{Name: name, Fields: fields}
}

// Set assigns a field and returns m for chaining. A decoded message is
// converted to its field form first.
func (m *Message) Set(key string, value any) *Message {
	if m.raw != nil {
		fields := Fields{}
		_ = json.Unmarshal(m.raw, &fields)
		delete(fields, FieldMessage)
		m.Fields = fields
		m.raw = nil
	}
	if m.Fields == nil {
		m.Fields = Fields{}
	}
	m.Fields[key] = value
	return m
}

// Encode returns the JSON payload of m.
func (m *Message) Encode() ([]byte, error) {
	if m.raw != nil {
		return m.raw, nil
	}
	out := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	out[FieldMessage] = m.Name
	return json.Marshal(out)
}

// DecodeMessage parses a control payload. The payload must be a JSON object
// with a string __message__ field.
func DecodeMessage(data []byte) (*Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, protocolErrorf("invalid JSON payload")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, protocolErrorf("control payload is not a JSON object")
	}
	name := root.Get(FieldMessage)
	if name.Type != gjson.String || name.Str == "" {
		return nil, protocolErrorf("missing %s", FieldMessage)
	}
	return &Message{Name: name.Str, raw: append([]byte(nil), data...)}, nil
}

// Get returns the value at a gjson path. On a message built locally a plain
// field name is read from Fields without encoding the whole message.
func (m *Message) Get(path string) gjson.Result {
	if m.raw != nil {
		return gjson.GetBytes(m.raw, path)
	}
	if path == FieldMessage {
		return marshalResult(m.Name)
	}
	if v, ok := m.Fields[path]; ok {
		return marshalResult(v)
	}
	if !strings.ContainsAny(path, `.|#*?@\!`) {
		return gjson.Result{}
	}
	data, err := m.Encode()
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(data, path)
}

func marshalResult(v any) gjson.Result {
	data, err := json.Marshal(v)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(data)
}

// String returns a field as a string, or "" when absent.
func (m *Message) String(field string) string {
	return m.Get(field).String()
}

// Strings returns an array field as strings.
func (m *Message) Strings(field string) []string {
	var out []string
	m.Get(field).ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	return out
}

// Object returns an object field as plain Go values: numbers are float64
// and nested objects map[string]interface{}. It returns nil when the field
// is absent or not an object.
func (m *Message) Object(field string) map[string]interface{} {
	v := m.Get(field)
	if !v.IsObject() {
		return nil
	}
	obj, _ := v.Value().(map[string]interface{})
	return obj
}

// StringMap returns an object field with every value rendered as a string.
func (m *Message) StringMap(field string) map[string]string {
	v := m.Get(field)
	if !v.IsObject() {
		return nil
	}
	out := make(map[string]string)
	v.ForEach(func(k, val gjson.Result) bool {
		out[k.String()] = val.String()
		return true
	})
	return out
}

// Has reports whether the field is present.
func (m *Message) Has(field string) bool {
	return m.Get(field).Exists()
}

// ErrorText returns the __error__ field.
func (m *Message) ErrorText() string { return m.String(FieldError) }

// WarningText returns the __warning__ field.
func (m *Message) WarningText() string { return m.String(FieldWarning) }

// Success reports the success flag of a response. Responses without the flag
// succeed unless they carry an error.
func (m *Message) Success() bool {
	if v := m.Get(FieldSuccess); v.Exists() {
		return v.Bool()
	}
	return m.ErrorText() == ""
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

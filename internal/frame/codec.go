package frame

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the union of every known frame's wire fields.
type envelope struct {
	Type      string                 `json:"type"`
	Data      json.RawMessage        `json:"data,omitempty"`
	Cols      *int                   `json:"cols,omitempty"`
	Rows      *int                   `json:"rows,omitempty"`
	Message   *string                `json:"message,omitempty"`
	ErrorType *string                `json:"error_type,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Encode serializes f as a JSON text message of the form {"type": <kind>, ...}.
// Raw frames are returned unchanged. Input and output bytes are carried as
// JSON strings, so invalid UTF-8 sequences are replaced with U+FFFD.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case Input:
		return json.Marshal(struct {
			Type Kind   `json:"type"`
			Data string `json:"data"`
		}{KindInput, string(v.Data)})
	case Resize:
		if v.Cols <= 0 || v.Rows <= 0 {
			return nil, fmt.Errorf("resize: invalid size %dx%d", v.Cols, v.Rows)
		}
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Cols int  `json:"cols"`
			Rows int  `json:"rows"`
		}{KindResize, v.Cols, v.Rows})
	case Output:
		return json.Marshal(struct {
			Type Kind   `json:"type"`
			Data string `json:"data"`
		}{KindOutput, string(v.Data)})
	case Metrics:
		return json.Marshal(struct {
			Type Kind          `json:"type"`
			Data MetricsSample `json:"data"`
		}{KindMetrics, v.Sample})
	case Connected:
		return json.Marshal(struct {
			Type    Kind   `json:"type"`
			Message string `json:"message"`
		}{KindConnected, v.Message})
	case Error:
		errType := v.Type
		if errType == "" {
			errType = ErrorUnknown
		}
		return json.Marshal(struct {
			Type      Kind                   `json:"type"`
			Message   string                 `json:"message"`
			ErrorType ErrorType              `json:"error_type"`
			Details   map[string]interface{} `json:"details,omitempty"`
		}{KindError, v.Message, errType, v.Details})
	case Unknown:
		out := make(map[string]interface{}, len(v.Fields)+1)
		for k, val := range v.Fields {
			out[k] = val
		}
		if v.Type != "" {
			out["type"] = v.Type
		}
		return json.Marshal(out)
	case Raw:
		return append([]byte(nil), v.Data...), nil
	case nil:
		return nil, fmt.Errorf("encode: nil frame")
	default:
		return nil, fmt.Errorf("encode: unsupported frame %T", f)
	}
}

// Decode interprets one text message. It never fails: payloads that are not
// JSON objects, or known kinds whose fields have the wrong shape, come back as
// Raw; well-formed objects with a missing or unrecognized type come back as
// Unknown.
func Decode(text []byte) Frame {
	var fields map[string]interface{}
	if err := json.Unmarshal(text, &fields); err != nil || fields == nil {
		return Raw{Data: copyBytes(text)}
	}

	typ, _ := fields["type"].(string)
	if !isKnown(Kind(typ)) {
		delete(fields, "type")
		return Unknown{Type: typ, Fields: fields, Text: copyBytes(text)}
	}

	var env envelope
	if err := json.Unmarshal(text, &env); err != nil {
		return Raw{Data: copyBytes(text)}
	}
	f, ok := decodeKnown(env)
	if !ok {
		return Raw{Data: copyBytes(text)}
	}
	return f
}

// DecodeMessage decodes a WebSocket message. Binary messages are never frames;
// some backends push PTY bytes that way.
func DecodeMessage(binary bool, data []byte) Frame {
	if binary {
		return Raw{Data: copyBytes(data)}
	}
	return Decode(data)
}

func decodeKnown(env envelope) (Frame, bool) {
	switch Kind(env.Type) {
	case KindInput:
		data, ok := decodeString(env.Data)
		if !ok {
			return nil, false
		}
		return Input{Data: []byte(data)}, true
	case KindOutput:
		data, ok := decodeString(env.Data)
		if !ok {
			return nil, false
		}
		return Output{Data: []byte(data)}, true
	case KindResize:
		if env.Cols == nil || env.Rows == nil {
			return nil, false
		}
		return Resize{Cols: *env.Cols, Rows: *env.Rows}, true
	case KindMetrics:
		if len(env.Data) == 0 {
			return nil, false
		}
		var sample MetricsSample
		if err := json.Unmarshal(env.Data, &sample); err != nil {
			return nil, false
		}
		return Metrics{Sample: sample}, true
	case KindConnected:
		msg := ""
		if env.Message != nil {
			msg = *env.Message
		}
		return Connected{Message: msg}, true
	case KindError:
		e := Error{Type: ErrorUnknown, Details: env.Details}
		if env.Message != nil {
			e.Message = *env.Message
		}
		if env.ErrorType != nil && strings.TrimSpace(*env.ErrorType) != "" {
			e.Type = ErrorType(*env.ErrorType)
		}
		return e, true
	}
	return nil, false
}

// decodeString reads a JSON string payload. An absent payload is empty.
func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isKnown(k Kind) bool {
	switch k {
	case KindInput, KindResize, KindOutput, KindMetrics, KindConnected, KindError:
		return true
	}
	return false
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

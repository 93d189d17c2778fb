package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// payloadIndent is the pretty-print indent converted to tabs on the wire.
const payloadIndent = "    "

// DecodePayload base64-decodes (standard alphabet, padded) and parses a
// presence payload. The decoded text must be exactly one JSON object. Numbers
// are kept as json.Number so re-encoding a payload reproduces them exactly.
func DecodePayload(b64 string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode presence payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse presence payload: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("parse presence payload: not an object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse presence payload: trailing data after object")
	}
	return payload, nil
}

// FormatPayload renders a payload as a sorted-key pretty print with one tab
// per nesting level, lines joined by CRLF and no trailing line break.
func FormatPayload(payload map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", payloadIndent)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("encode presence payload: %w", err)
	}
	return indentToTabs(strings.TrimRight(buf.String(), "\n")), nil
}

func indentToTabs(pretty string) string {
	lines := strings.Split(pretty, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		spaces := len(line) - len(trimmed)
		tabs := spaces / len(payloadIndent)
		if spaces%len(payloadIndent) > 0 {
			tabs++
		}
		lines[i] = strings.Repeat("\t", tabs) + trimmed
	}
	return strings.Join(lines, "\r\n")
}

// EncodePayload formats and base64-encodes a payload for the <p> element.
func EncodePayload(payload map[string]any) (string, error) {
	text, err := FormatPayload(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(text)), nil
}

// ClonePayload returns a deep copy of a decoded JSON tree.
func ClonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	return cloneValue(payload).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}

// Object returns payload[key] when it is a JSON object.
func Object(payload map[string]any, key string) (map[string]any, bool) {
	if payload == nil {
		return nil, false
	}
	obj, ok := payload[key].(map[string]any)
	return obj, ok
}

// StringField returns payload[object][key] when it is a string.
func StringField(payload map[string]any, object, key string) string {
	obj, ok := Object(payload, object)
	if !ok {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

// DisplayValue renders a nested field for log lines; missing values render as null.
func DisplayValue(payload map[string]any, object, key string) string {
	obj, ok := Object(payload, object)
	if !ok {
		return "null"
	}
	v, ok := obj[key]
	if !ok {
		return "null"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(raw)
}

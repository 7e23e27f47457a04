package workflow

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Document is a decoded workflow payload.
type Document map[string]any

// Outputs returns the outputs map of the document, if any.
func (d Document) Outputs() (map[string]any, bool) {
	outputs, ok := d["outputs"].(map[string]any)
	return outputs, ok
}

// Decoder turns a captured payload into a Document. It reports false when the
// payload is not in the shape it understands.
type Decoder struct {
	Name   string
	Decode func(payload []byte) (Document, bool)
}

// DefaultDecoders returns the decoders applied to every payload, in priority
// order: whole JSON document, first balanced JSON object embedded in text, and
// finally the raw text as the value of outputField.
func DefaultDecoders(outputField string) []Decoder {
	return []Decoder{
		{Name: "document", Decode: decodeDocument},
		{Name: "embedded_document", Decode: decodeEmbeddedDocument},
		{Name: "scalar", Decode: scalarDecoder(outputField)},
	}
}

// DecodePayload applies decoders in order and returns the first success.
func DecodePayload(payload []byte, decoders ...Decoder) (Document, error) {
	for _, d := range decoders {
		doc, ok := d.Decode(payload)
		if !ok {
			zap.S().Named("workflow").Debugw("decoder did not match", "decoder", d.Name)
			continue
		}
		zap.S().Named("workflow").Debugw("payload decoded", "decoder", d.Name)
		return doc, nil
	}
	return nil, NewErrNoOutput("payload could not be decoded: " + truncate(string(payload), 200))
}

func decodeDocument(payload []byte) (Document, bool) {
	var doc Document
	if err := json.Unmarshal(bytes.TrimSpace(payload), &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

func decodeEmbeddedDocument(payload []byte) (Document, bool) {
	for start := bytes.IndexByte(payload, '{'); start >= 0; {
		end := balancedEnd(payload[start:])
		if end > 0 {
			if doc, ok := decodeDocument(payload[start : start+end]); ok {
				return doc, true
			}
		}
		next := bytes.IndexByte(payload[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func scalarDecoder(outputField string) func([]byte) (Document, bool) {
	return func(payload []byte) (Document, bool) {
		text := strings.TrimSpace(string(payload))
		if text == "" {
			return nil, false
		}
		return Document{"outputs": map[string]any{outputField: text}}, true
	}
}

// balancedEnd returns the length of the balanced object starting at b[0],
// or -1. Braces inside JSON strings are ignored.
func balancedEnd(b []byte) int {
	depth := 0
	inString := false
	escaped := false
	for i, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

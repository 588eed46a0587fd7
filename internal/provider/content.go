package provider

import (
	"bytes"
	"encoding/json"
	"strings"
)

type contentKind int

const (
	contentAbsent contentKind = iota
	contentText
	contentParts
	contentObject
)

// Content is the reply payload of a chat backend. Backends return either a
// plain string, a list of parts (strings or objects with a text field), or a
// single object with a text field.
type Content struct {
	kind  contentKind
	text  string
	parts []json.RawMessage
}

// UnmarshalJSON records which shape arrived. Unknown shapes decode as absent.
func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*c = Content{}
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		c.kind = contentText
		return json.Unmarshal(b, &c.text)
	case '[':
		c.kind = contentParts
		return json.Unmarshal(b, &c.parts)
	case '{':
		c.kind = contentObject
		c.text = partText(b)
	}
	return nil
}

// String flattens the content to text; parts are joined by newline.
func (c Content) String() string {
	switch c.kind {
	case contentText:
		return c.text
	case contentParts:
		return joinParts(c.parts)
	case contentObject:
		return c.text
	default:
		return ""
	}
}

// Normalize flattens a raw content field.
func Normalize(raw json.RawMessage) string {
	var c Content
	if err := c.UnmarshalJSON(raw); err != nil {
		return ""
	}
	return c.String()
}

func joinParts(parts []json.RawMessage) string {
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = partText(p)
	}
	return strings.Join(texts, "\n")
}

// partText reads a string part or the text field of an object part.
func partText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	switch raw[0] {
	case '"':
		_ = json.Unmarshal(raw, &s)
	case '{':
		var obj struct {
			Text json.RawMessage `json:"text"`
		}
		if json.Unmarshal(raw, &obj) == nil && len(obj.Text) > 0 && obj.Text[0] == '"' {
			_ = json.Unmarshal(obj.Text, &s)
		}
	}
	return s
}

package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeShapesAgree(t *testing.T) {
	shapes := map[string]string{
		"string":           `"Use a prefab.\nThen drag it in."`,
		"array of strings": `["Use a prefab.", "Then drag it in."]`,
		"array of objects": `[{"type":"text","text":"Use a prefab."},{"type":"text","text":"Then drag it in."}]`,
		"mixed array":      `["Use a prefab.", {"text":"Then drag it in."}]`,
		"object":           `{"text":"Use a prefab.\nThen drag it in."}`,
	}
	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, "Use a prefab.\nThen drag it in.", Normalize(json.RawMessage(raw)))
		})
	}
}

func TestNormalizeMissingParts(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want string
	}{
		"null":              {`null`, ""},
		"empty":             {``, ""},
		"number":            {`42`, ""},
		"object no text":    {`{"type":"tool_use"}`, ""},
		"object null text":  {`{"text":null}`, ""},
		"part without text": {`["a", {"type":"image"}, "b"]`, "a\n\nb"},
		"null part":         {`["a", null]`, "a\n"},
		"empty array":       {`[]`, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(json.RawMessage(tc.raw)))
		})
	}
}

func TestContentInsideEnvelope(t *testing.T) {
	var resp chatCompletionResponse
	assert.NoError(t, json.Unmarshal([]byte(`{"choices":[{"message":{}}]}`), &resp))
	assert.Equal(t, "", resp.Choices[0].Message.Content.String())

	var anth anthropicResponse
	assert.NoError(t, json.Unmarshal([]byte(`{"content":null}`), &anth))
	assert.Equal(t, "", anth.Content.String())
}

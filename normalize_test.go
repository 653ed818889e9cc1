package chatlink

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shape Shape
		want  Event
	}{
		{
			name:  "canonical frame passes through",
			raw:   `{"type":"message","data":{"id":1,"body":"hi"}}`,
			shape: ShapeCanonical,
			want:  Event{Type: "message", Data: map[string]any{"id": json.Number("1"), "body": "hi"}},
		},
		{
			name:  "event and payload",
			raw:   `{"event":"typing","payload":{"user":"a"}}`,
			shape: ShapeEventPayload,
			want:  Event{Type: "typing", Data: map[string]any{"user": "a"}},
		},
		{
			name:  "message wrapper",
			raw:   `{"message":{"id":2,"body":"yo"}}`,
			shape: ShapeWrapped,
			want:  Event{Type: "message", Data: map[string]any{"id": json.Number("2"), "body": "yo"}},
		},
		{
			name:  "bare object is the message",
			raw:   `{"id":3,"body":"bare"}`,
			shape: ShapeBare,
			want:  Event{Type: "message", Data: map[string]any{"id": json.Number("3"), "body": "bare"}},
		},
		{
			name:  "plain text",
			raw:   `plain text`,
			shape: ShapeText,
			want:  Event{Type: "message_text", Data: "plain text"},
		},
		{
			name:  "empty frame",
			raw:   ``,
			shape: ShapeText,
			want:  Event{Type: "message_text", Data: ""},
		},
		{
			name:  "truncated json",
			raw:   `{"type":"message"`,
			shape: ShapeText,
			want:  Event{Type: "message_text", Data: `{"type":"message"`},
		},
		{
			name:  "trailing garbage",
			raw:   `{"a":1}}`,
			shape: ShapeText,
			want:  Event{Type: "message_text", Data: `{"a":1}}`},
		},
		{
			name:  "json null",
			raw:   `null`,
			shape: ShapeScalar,
			want:  Event{Type: "message_text", Data: "null"},
		},
		{
			name:  "json string",
			raw:   `"hello"`,
			shape: ShapeScalar,
			want:  Event{Type: "message_text", Data: "hello"},
		},
		{
			name:  "json number",
			raw:   `12.5`,
			shape: ShapeScalar,
			want:  Event{Type: "message_text", Data: "12.5"},
		},
		{
			name:  "json bool",
			raw:   `true`,
			shape: ShapeScalar,
			want:  Event{Type: "message_text", Data: "true"},
		},
		{
			name:  "array is a bare message",
			raw:   `[1,"a"]`,
			shape: ShapeBare,
			want:  Event{Type: "message", Data: []any{json.Number("1"), "a"}},
		},
		{
			name:  "type without data is not canonical",
			raw:   `{"type":"presence","message":"x"}`,
			shape: ShapeWrapped,
			want:  Event{Type: "message", Data: "x"},
		},
		{
			name:  "canonical wins over other keys",
			raw:   `{"type":"read","data":null,"event":"x","payload":1,"message":"m"}`,
			shape: ShapeCanonical,
			want:  Event{Type: "read", Data: nil},
		},
		{
			name:  "event without payload falls through",
			raw:   `{"event":"typing"}`,
			shape: ShapeBare,
			want:  Event{Type: "message", Data: map[string]any{"event": "typing"}},
		},
		{
			name:  "non-string type keeps json text",
			raw:   `{"type":7,"data":"x"}`,
			shape: ShapeCanonical,
			want:  Event{Type: "7", Data: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, ev := Classify([]byte(tt.raw))
			assert.Equal(t, tt.shape, shape)
			assert.Equal(t, tt.want, ev)
			assert.Equal(t, tt.want, Normalize([]byte(tt.raw)))
		})
	}
}

func TestNormalizeNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0xff, 0xfe, 0x00},
		[]byte("   "),
		[]byte("{"),
		[]byte("[[[[[[[[]]]]]]]]"),
		[]byte(`{"message":null}`),
		[]byte(`"\ud800"`),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			ev := Normalize(in)
			assert.NotEmpty(t, ev.Type)
		})
	}
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "canonical", ShapeCanonical.String())
	assert.Equal(t, "bare", ShapeBare.String())
	assert.Equal(t, "unknown", Shape(99).String())
}

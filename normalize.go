package chatlink

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Event types produced by the normalizer itself.
const (
	EventMessage     = "message"
	EventMessageText = "message_text"
)

// Event is the canonical shape delivered to consumers, whatever the server
// sent on the wire.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Shape identifies which wire convention an inbound frame used.
type Shape int

const (
	// ShapeText is a frame that is not JSON at all.
	ShapeText Shape = iota
	// ShapeCanonical is {"type": ..., "data": ...}.
	ShapeCanonical
	// ShapeEventPayload is {"event": ..., "payload": ...}.
	ShapeEventPayload
	// ShapeWrapped is {"message": ...}.
	ShapeWrapped
	// ShapeBare is any other JSON object, taken as the message itself.
	ShapeBare
	// ShapeScalar is valid JSON that is not an object.
	ShapeScalar
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeCanonical:
		return "canonical"
	case ShapeEventPayload:
		return "event_payload"
	case ShapeWrapped:
		return "wrapped"
	case ShapeBare:
		return "bare"
	case ShapeScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// Normalize maps one raw inbound frame to exactly one Event. It never fails.
func Normalize(raw []byte) Event {
	_, ev := Classify(raw)
	return ev
}

// Classify is Normalize that also reports which shape matched.
func Classify(raw []byte) (Shape, Event) {
	if !json.Valid(raw) {
		return ShapeText, Event{Type: EventMessageText, Data: string(raw)}
	}
	var parsed any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return ShapeText, Event{Type: EventMessageText, Data: string(raw)}
	}

	switch v := parsed.(type) {
	case map[string]any:
		return classifyObject(v)
	case []any:
		// An array carries no wrapper keys, so it is taken as a bare message.
		return ShapeBare, Event{Type: EventMessage, Data: v}
	default:
		return ShapeScalar, Event{Type: EventMessageText, Data: scalarString(v)}
	}
}

func classifyObject(obj map[string]any) (Shape, Event) {
	if typ, ok := obj["type"]; ok {
		if data, ok := obj["data"]; ok {
			return ShapeCanonical, Event{Type: typeName(typ), Data: data}
		}
	}
	if name, ok := obj["event"]; ok {
		if payload, ok := obj["payload"]; ok {
			return ShapeEventPayload, Event{Type: typeName(name), Data: payload}
		}
	}
	if msg, ok := obj["message"]; ok {
		return ShapeWrapped, Event{Type: EventMessage, Data: msg}
	}
	return ShapeBare, Event{Type: EventMessage, Data: obj}
}

// typeName renders a type discriminator as a string. Strings pass through,
// anything else keeps its JSON text.
func typeName(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return scalarString(v)
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

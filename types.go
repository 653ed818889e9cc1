package chatlink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-2xx response from the chat API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chat api %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("chat api %d: %s", e.Status, e.Message)
}

// ID is a backend identifier. The API sends some ids as JSON numbers and
// others as strings; both decode to the same text.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ============================================================================
// Chat API Types
// ============================================================================

type Message struct {
	ID        ID             `json:"id"`
	ThreadID  ID             `json:"thread_id"`
	Body      string         `json:"body"`
	Direction string         `json:"direction,omitempty"` // "inbound" or "outbound"
	Channel   string         `json:"channel,omitempty"`
	Author    string         `json:"author,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Thread struct {
	ID            ID        `json:"id"`
	Title         string    `json:"title,omitempty"`
	LeadID        ID        `json:"lead_id,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

type SendOptions struct {
	IdempotencyKey string
	Channel        string
	Metadata       map[string]any
}

type PaginationOptions struct {
	Limit  int
	Offset int
}

// listPage accepts a bare JSON array or an object wrapping the array under
// "items", "results" or "data".
type listPage[T any] struct {
	Items []T
	Total int
}

func (p *listPage[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &p.Items)
	}
	var wrapped struct {
		Items   []T `json:"items"`
		Results []T `json:"results"`
		Data    []T `json:"data"`
		Total   int `json:"total"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	switch {
	case wrapped.Items != nil:
		p.Items = wrapped.Items
	case wrapped.Results != nil:
		p.Items = wrapped.Results
	default:
		p.Items = wrapped.Data
	}
	p.Total = wrapped.Total
	return nil
}

type messagePage = listPage[Message]

type threadPage = listPage[Thread]

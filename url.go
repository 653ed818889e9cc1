package chatlink

import (
	"net/url"
	"strings"
)

// LiveChatPath is the per-conversation path of the live chat endpoint.
const LiveChatPath = "/api/v1/ws/chat/"

// BuildLiveURL derives the live connection URL for a conversation from the
// HTTP base URL of the backend. An https base yields wss, anything else ws.
//
// When baseHTTPURL is empty or not an absolute URL the relative path
// "/api/v1/ws/chat/{conversationID}" is returned instead, with the token
// appended as an escaped query string.
func BuildLiveURL(baseHTTPURL, conversationID, token string) string {
	u, err := url.Parse(baseHTTPURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fallbackLiveURL(conversationID, token)
	}

	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = LiveChatPath + conversationID
	u.RawPath = LiveChatPath + url.PathEscape(conversationID)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = percentEncode(q.Encode())
	return u.String()
}

func fallbackLiveURL(conversationID, token string) string {
	path := LiveChatPath + url.PathEscape(conversationID)
	if token == "" {
		return path
	}
	return path + "?token=" + percentEncode(url.QueryEscape(token))
}

// percentEncode turns form-encoded spaces into %20. A literal '+' is already
// escaped as %2B, so every remaining '+' stands for a space.
func percentEncode(query string) string {
	return strings.ReplaceAll(query, "+", "%20")
}

// redactToken strips the token query parameter so the URL can be logged.
func redactToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return LiveChatPath
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = percentEncode(q.Encode())
	}
	return u.String()
}

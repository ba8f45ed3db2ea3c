// Package push registers devices for web push and handles payloads in the background agent.
package push

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultURL is opened when a payload carries no url.
const DefaultURL = "/"

// Payload is the wire format delivered through the push transport.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Encode renders the payload, defaulting the url.
func (p Payload) Encode() ([]byte, error) {
	if strings.TrimSpace(p.URL) == "" {
		p.URL = DefaultURL
	}
	return json.Marshal(p)
}

// DecodePayload parses data leniently: unknown fields are ignored and a missing url becomes
// DefaultURL. Anything that is not a JSON object is an error.
func DecodePayload(data []byte) (Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, fmt.Errorf("push: malformed payload: %w", err)
	}
	if raw == nil {
		return Payload{}, fmt.Errorf("push: payload is not an object")
	}

	var p Payload
	p.Title = stringField(raw, "title")
	p.Body = stringField(raw, "body")
	p.URL = stringField(raw, "url")
	if strings.TrimSpace(p.URL) == "" {
		p.URL = DefaultURL
	}
	return p, nil
}

// stringField reads key as a string. Non-string values are rendered as their JSON text.
func stringField(raw map[string]json.RawMessage, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	if string(value) == "null" {
		return ""
	}
	return string(value)
}

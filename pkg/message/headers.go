// Package message implements the HTTP/1.1 data model: URIs, query strings,
// headers, media types, bodies, and request/response messages.
package message

import (
	"net/textproto"
	"strings"
)

// Headers is an ordered, case-insensitive multi-value header map.
// Keys are stored under their canonical Title-Cased-Dash-Separated form
// (net/textproto.CanonicalMIMEHeaderKey), matching the wire form spec.md
// requires. Insertion order of distinct keys is preserved; values for a
// repeated key accumulate in the order they were added.
type Headers struct {
	order  []string
	values map[string][]string
}

// NewHeaders returns an empty Headers.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

func canonKey(key string) string {
	return textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
}

// Set replaces all values for key with the comma-split values of value.
func (h *Headers) Set(key, value string) {
	k := canonKey(key)
	if _, exists := h.values[k]; !exists {
		h.order = append(h.order, k)
	}
	h.values[k] = splitHeaderValue(value)
}

// SetList replaces all values for key with vals verbatim (no comma-splitting).
func (h *Headers) SetList(key string, vals []string) {
	k := canonKey(key)
	if _, exists := h.values[k]; !exists {
		h.order = append(h.order, k)
	}
	h.values[k] = append([]string(nil), vals...)
}

// Add appends value (after comma-splitting) to any existing values for key.
func (h *Headers) Add(key, value string) {
	k := canonKey(key)
	if _, exists := h.values[k]; !exists {
		h.order = append(h.order, k)
	}
	h.values[k] = append(h.values[k], splitHeaderValue(value)...)
}

// Get returns the comma-joined value for key, or "" if absent.
func (h *Headers) Get(key string) string {
	vals := h.values[canonKey(key)]
	if len(vals) == 0 {
		return ""
	}
	return strings.Join(vals, ", ")
}

// GetList returns the raw, unjoined values for key.
func (h *Headers) GetList(key string) []string {
	return h.values[canonKey(key)]
}

// Has reports whether key is present (case-insensitively).
func (h *Headers) Has(key string) bool {
	_, ok := h.values[canonKey(key)]
	return ok
}

// Del removes all values for key.
func (h *Headers) Del(key string) {
	k := canonKey(key)
	if _, ok := h.values[k]; !ok {
		return
	}
	delete(h.values, k)
	for i, existing := range h.order {
		if existing == k {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Keys returns the canonical keys in insertion order.
func (h *Headers) Keys() []string {
	return append([]string(nil), h.order...)
}

func splitHeaderValue(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// String serializes the headers as "Name: v1, v2\r\n" lines, one per key,
// with no trailing blank line (callers append the header/body separator).
func (h *Headers) String() string {
	var b strings.Builder
	for _, k := range h.order {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.Join(h.values[k], ", "))
		b.WriteString("\r\n")
	}
	return b.String()
}

// ParseHeaders parses RFC 5322-style fold-free header lines ("Name: value"
// separated by "\r\n") and canonicalizes each name, splitting comma-separated
// values into a list.
func ParseHeaders(raw string) *Headers {
	h := NewHeaders()
	if raw == "" {
		return h
	}
	lines := strings.Split(raw, "\r\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		h.Add(name, value)
	}
	return h
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() *Headers {
	c := NewHeaders()
	for _, k := range h.order {
		c.SetList(k, h.values[k])
	}
	return c
}

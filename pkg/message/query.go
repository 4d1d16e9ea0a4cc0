package message

import (
	"net/url"
	"strings"
)

// Query is an ordered key -> list<value> mapping parsed from a URI query
// string. Duplicate keys preserve all values in the order they appeared;
// empty values are preserved rather than dropped, matching parse_qs-style
// semantics.
type Query struct {
	order  []string
	values map[string][]string
}

// NewQuery returns an empty Query.
func NewQuery() *Query {
	return &Query{values: make(map[string][]string)}
}

// ParseQuery parses a raw query string (without the leading '?').
func ParseQuery(raw string) *Query {
	q := NewQuery()
	if raw == "" {
		return q
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var key, value string
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
			value = pair[idx+1:]
		} else {
			key = pair
			value = ""
		}
		k, errK := url.QueryUnescape(key)
		if errK != nil {
			k = key
		}
		v, errV := url.QueryUnescape(value)
		if errV != nil {
			v = value
		}
		q.Add(k, v)
	}
	return q
}

// Add appends value to key's value list, recording key's first-seen order.
func (q *Query) Add(key, value string) {
	if _, ok := q.values[key]; !ok {
		q.order = append(q.order, key)
	}
	q.values[key] = append(q.values[key], value)
}

// Get returns the first value for key, or "" if absent.
func (q *Query) Get(key string) string {
	vals := q.values[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// GetAll returns all values for key in insertion order.
func (q *Query) GetAll(key string) []string {
	return q.values[key]
}

// Set replaces all values for key with a single value.
func (q *Query) Set(key, value string) {
	if _, ok := q.values[key]; !ok {
		q.order = append(q.order, key)
	}
	q.values[key] = []string{value}
}

// Del removes key entirely.
func (q *Query) Del(key string) {
	if _, ok := q.values[key]; !ok {
		return
	}
	delete(q.values, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Keys returns the distinct keys in first-seen order.
func (q *Query) Keys() []string {
	return append([]string(nil), q.order...)
}

// String serializes the query back to "k=v&k=v" form, doseq-style: every
// value of a repeated key gets its own "key=value" pair.
func (q *Query) String() string {
	var b strings.Builder
	first := true
	for _, k := range q.order {
		for _, v := range q.values[k] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

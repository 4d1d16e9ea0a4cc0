package message

import (
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

// Body is raw payload bytes with an optional media type.
type Body struct {
	Raw       []byte
	MediaType *MediaType
}

// Len returns the byte length of Raw.
func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Raw)
}

// ParsedBodyKind tags the variant held by a ParsedBody, replacing dynamic
// dispatch on the body's guessed media type with an explicit sum type.
type ParsedBodyKind int

const (
	// ParsedBodyNone indicates the body could not be classified.
	ParsedBodyNone ParsedBodyKind = iota
	// ParsedBodyJSON indicates the body decoded as JSON.
	ParsedBodyJSON
	// ParsedBodyForm indicates the body decoded as application/x-www-form-urlencoded.
	ParsedBodyForm
	// ParsedBodyMultipart indicates the body decoded as multipart/form-data.
	ParsedBodyMultipart
)

// ParsedBody is the tagged-union result of RequestBody.Parse.
type ParsedBody struct {
	Kind      ParsedBodyKind
	JSON      any
	Form      url.Values
	Multipart map[string][]string
}

// RequestBody is a request-side Body with media-type sniffing and structured
// parsing.
type RequestBody struct {
	Body
}

// NewRequestBody wraps raw with the media type declared in headers'
// Content-Type, if any. Callers that need to classify a body with no
// declared Content-Type fall back to GuessMediaType.
func NewRequestBody(raw []byte, headers *Headers) *RequestBody {
	rb := &RequestBody{Body: Body{Raw: raw}}
	if ct := headers.Get("Content-Type"); ct != "" {
		rb.MediaType = ParseMediaType(ct)
	}
	return rb
}

// GuessMediaType sniffs the body's media type when no Content-Type header was
// present, trying JSON, then form-urlencoded, then multipart/form-data in
// that order; returns nil if nothing matches.
func (rb *RequestBody) GuessMediaType() *MediaType {
	if len(rb.Raw) == 0 {
		return nil
	}

	var probe any
	if json.Unmarshal(rb.Raw, &probe) == nil {
		return ParseMediaType("application/json")
	}

	if vals, err := url.ParseQuery(string(rb.Raw)); err == nil && len(vals) > 0 {
		return ParseMediaType("application/x-www-form-urlencoded")
	}

	if looksLikeMultipart(rb.Raw) {
		return ParseMediaType("multipart/form-data; boundary=----")
	}

	return nil
}

func looksLikeMultipart(raw []byte) bool {
	s := strings.TrimLeft(string(raw), "\r\n")
	return strings.HasPrefix(s, "--")
}

// Parse dispatches on mt (or the body's own MediaType if mt is nil) and
// returns the corresponding ParsedBody variant.
func (rb *RequestBody) Parse(mt *MediaType) (ParsedBody, error) {
	if mt == nil {
		mt = rb.MediaType
	}
	if mt == nil {
		mt = rb.GuessMediaType()
	}
	if mt == nil {
		return ParsedBody{Kind: ParsedBodyNone}, nil
	}

	switch {
	case mt.Subtype == "json" || mt.Suffix == "json":
		var v any
		if err := json.Unmarshal(rb.Raw, &v); err != nil {
			return ParsedBody{}, err
		}
		return ParsedBody{Kind: ParsedBodyJSON, JSON: v}, nil

	case mt.Subtype == "x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(rb.Raw))
		if err != nil {
			return ParsedBody{}, err
		}
		return ParsedBody{Kind: ParsedBodyForm, Form: vals}, nil

	case mt.Subtype == "form-data":
		_, params, err := mime.ParseMediaType(mt.String())
		if err != nil {
			return ParsedBody{}, err
		}
		boundary := params["boundary"]
		mr := multipart.NewReader(strings.NewReader(string(rb.Raw)), boundary)
		fields := make(map[string][]string)
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			buf := make([]byte, 0, 512)
			chunk := make([]byte, 512)
			for {
				n, rerr := part.Read(chunk)
				if n > 0 {
					buf = append(buf, chunk[:n]...)
				}
				if rerr != nil {
					break
				}
			}
			name := part.FormName()
			fields[name] = append(fields[name], string(buf))
		}
		return ParsedBody{Kind: ParsedBodyMultipart, Multipart: fields}, nil

	default:
		return ParsedBody{Kind: ParsedBodyNone}, nil
	}
}

package handler

import (
	"encoding/base64"
	"testing"

	"github.com/tryunoo/mitmproxy/pkg/message"
)

func validRequestWithProxyAuth(t *testing.T, user, pass string) *message.RequestMessage {
	t.Helper()
	h := message.NewHeaders()
	h.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	req, err := message.NewRequestMessage("GET", "http://example.com/", "HTTP/1.1", h, nil)
	if err != nil {
		t.Fatalf("NewRequestMessage: %v", err)
	}
	return req
}

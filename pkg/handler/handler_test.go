package handler

import "testing"

func TestParseHostHeaderDefaultsPort(t *testing.T) {
	host, port, err := parseHostHeader("example.com", 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" || port != 80 {
		t.Errorf("got (%q, %d), want (example.com, 80)", host, port)
	}
}

func TestParseHostHeaderExplicitPort(t *testing.T) {
	host, port, err := parseHostHeader("example.com:8443", 443)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" || port != 8443 {
		t.Errorf("got (%q, %d), want (example.com, 8443)", host, port)
	}
}

func TestParseHostHeaderRejectsEmpty(t *testing.T) {
	if _, _, err := parseHostHeader("", 80); err == nil {
		t.Error("expected error for empty host header")
	}
}

func TestAuthorizedAcceptsMatchingCredentials(t *testing.T) {
	h := &Handler{Auth: AuthConfig{Enabled: true, Username: "u", Password: "p"}}
	req := validRequestWithProxyAuth(t, "u", "p")
	if !h.authorized(req) {
		t.Error("expected matching Basic credentials to authorize")
	}
}

func TestAuthorizedRejectsWrongCredentials(t *testing.T) {
	h := &Handler{Auth: AuthConfig{Enabled: true, Username: "u", Password: "p"}}
	req := validRequestWithProxyAuth(t, "u", "wrong")
	if h.authorized(req) {
		t.Error("expected mismatched credentials to be rejected")
	}
}

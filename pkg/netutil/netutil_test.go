package netutil

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{name: "ipv4 with port", input: "192.0.2.4:8080", expected: "192.0.2.4", ok: true},
		{name: "ipv6 with port", input: "[2001:db8::1]:443", expected: "2001:db8::1", ok: true},
		{name: "ipv6 textual port", input: "[::1]:port", expected: "::1", ok: true},
		{name: "plain ipv4", input: "203.0.113.9", expected: "203.0.113.9", ok: true},
		{name: "mapped ipv4", input: "::ffff:203.0.113.9", expected: "203.0.113.9", ok: true},
		{name: "garbage", input: "not-an-ip", expected: "not-an-ip", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeIP(tc.input)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestClientIPPrefersFirstForwardedEntry(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := ClientIP(r); got != "198.51.100.7" {
		t.Fatalf("expected forwarded client, got %q", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := ClientIP(r); got != "10.0.0.2" {
		t.Fatalf("expected remote addr, got %q", got)
	}
}

func TestIsLocal(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "::1", "10.1.2.3", "192.168.0.4", "", "nope", "0.0.0.0"} {
		if !IsLocal(ip) {
			t.Fatalf("expected %q to be local", ip)
		}
	}
	if IsLocal("203.0.113.9") {
		t.Fatalf("expected public address to be non-local")
	}
}

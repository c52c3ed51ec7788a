package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", "fd00::/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted *TrustedProxies
		want    string
	}{
		{"untrusted peer ignores headers", "198.51.100.10:1234", map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "203.0.113.6"}, nil, "198.51.100.10"},
		{"trusted peer reads forwarded for", "10.0.0.20:1234", map[string]string{"X-Forwarded-For": "203.0.113.5"}, trusted, "203.0.113.5"},
		{"walks past trusted hops", "10.0.0.20:1234", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.10"}, trusted, "203.0.113.5"},
		{"spoofed leftmost hop is skipped", "10.0.0.20:1234", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5"}, trusted, "203.0.113.5"},
		{"real ip fallback", "10.0.0.20:1234", map[string]string{"X-Forwarded-For": "garbage", "X-Real-IP": "203.0.113.7"}, trusted, "203.0.113.7"},
		{"edge header first", "10.0.0.20:1234", map[string]string{"X-Forwarded-For": "203.0.113.5", "CF-Connecting-IP": "198.51.100.77"}, trusted, "198.51.100.77"},
		{"edge header from untrusted peer", "198.51.100.10:1234", map[string]string{"CF-Connecting-IP": "203.0.113.99"}, trusted, "198.51.100.10"},
		{"all hops trusted", "10.0.0.20:1234", map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.10"}, trusted, "10.0.0.5"},
		{"ipv6 peer", "[fd00::1]:443", map[string]string{"X-Forwarded-For": "2001:db8::7"}, trusted, "2001:db8::7"},
		{"ipv4 mapped peer", "[::ffff:10.0.0.20]:80", map[string]string{"X-Real-IP": "203.0.113.8"}, trusted, "203.0.113.8"},
		{"unparseable peer kept verbatim", "pipe", nil, trusted, "pipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://edgepress.test/v1/blog", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{" ", "10.1.2.3/8"})
	if err != nil {
		t.Fatalf("valid entries: %v", err)
	}
	if !tp.Contains(netip.MustParseAddr("10.200.0.1")) {
		t.Fatalf("prefix should be masked to 10.0.0.0/8")
	}
	if empty, err := NewTrustedProxies([]string{"", "  "}); err != nil || empty != nil {
		t.Fatalf("blank entries should give nil set: %v %v", empty, err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/40"}); err == nil {
		t.Fatalf("expected prefix error")
	}
}

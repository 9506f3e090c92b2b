package router

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resolvedAddr(trusted []netip.Prefix, remote string, headers map[string]string) string {
	var got string
	h := ClientIPMiddleware(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.RemoteAddr
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		headers map[string]string
		want    string
	}{
		{"no trusted proxies", nil, "198.51.100.7:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "198.51.100.7:4000"},
		{"untrusted peer", proxies, "198.51.100.7:4000", map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "1.2.3.4"}, "198.51.100.7:4000"},
		{"trusted peer", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "203.0.113.5"},
		{"spoofed leftmost hop", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5, 10.0.0.3"}, "203.0.113.5"},
		{"real ip fallback", proxies, "10.0.0.2:4000", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"garbage header", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.2:4000"},
		{"only proxies", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "10.1.1.1"}, "10.0.0.2:4000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolvedAddr(tc.trusted, tc.remote, tc.headers))
		})
	}
}

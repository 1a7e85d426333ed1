package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureClientIP(trusted TrustedProxies) (http.Handler, *string) {
	var got string
	h := RealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))
	return h, &got
}

func mustTrusted(t *testing.T, entries ...string) TrustedProxies {
	t.Helper()
	trusted, err := ParseTrustedProxies(entries)
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}
	return trusted
}

func TestRealIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	h, got := captureClientIP(mustTrusted(t, "10.0.0.0/8"))
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "203.0.113.7:4411"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-Ip", fmt.Sprintf("192.0.2.%d", i))
		h.ServeHTTP(httptest.NewRecorder(), req)
		if *got != "203.0.113.7" {
			t.Fatalf("request %d keyed on %q", i, *got)
		}
	}
}

func TestRealIPWithoutTrustedProxies(t *testing.T) {
	h, got := captureClientIP(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:80"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if *got != "10.1.2.3" {
		t.Fatalf("got %q", *got)
	}
}

func TestRealIPTakesRightmostUntrustedHop(t *testing.T) {
	h, got := captureClientIP(mustTrusted(t, "10.0.0.0/8", "172.16.0.5"))

	tests := []struct {
		name string
		xff  []string
		want string
	}{
		{name: "single hop", xff: []string{"198.51.100.9"}, want: "198.51.100.9"},
		{name: "spoofed left entries", xff: []string{"1.1.1.1, 198.51.100.9"}, want: "198.51.100.9"},
		{name: "chained trusted proxies", xff: []string{"198.51.100.9, 172.16.0.5", "10.0.0.2"}, want: "198.51.100.9"},
		{name: "all hops trusted", xff: []string{"10.0.0.7, 10.0.0.2"}, want: "10.0.0.7"},
		{name: "garbage hop keeps peer", xff: []string{"not-an-ip"}, want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:443"
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if *got != tt.want {
				t.Fatalf("got %q, want %q", *got, tt.want)
			}
		})
	}
}

func TestRealIPFallsBackToXRealIP(t *testing.T) {
	h, got := captureClientIP(mustTrusted(t, "10.0.0.1"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Real-Ip", "198.51.100.3")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if *got != "198.51.100.3" {
		t.Fatalf("got %q", *got)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{" 10.0.0.0/8 ", "", "2001:db8::1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trusted) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(trusted))
	}
	if _, err := ParseTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname")
	}
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected error for bad CIDR")
	}
}

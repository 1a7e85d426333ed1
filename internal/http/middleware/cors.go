package middleware

import (
	"net/http"
	"strings"
)

// CORS provides an allowlist-based CORS middleware.
// "*" echoes any Origin; "https://*.example.com" matches any subdomain.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	allowedHeaders := "Authorization, Content-Type, X-Lumen-Secret, X-Request-Id"
	allowedMethods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin != "" && policy.allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Max-Age", "600")
				if !policy.any {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type originPolicy struct {
	any      bool
	exact    map[string]struct{}
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	suffix string
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{exact: map[string]struct{}{}}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			p.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			p.suffixes = append(p.suffixes, originSuffix{scheme: scheme + "://", suffix: host})
		default:
			p.exact[origin] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, s := range p.suffixes {
		if strings.HasPrefix(origin, s.scheme) && strings.HasSuffix(origin, s.suffix) && len(origin) > len(s.scheme)+len(s.suffix) {
			return true
		}
	}
	return false
}

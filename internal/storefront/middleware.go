package storefront

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/BUIHOANGDU/nail-store/internal/platform/requestctx"
	"github.com/BUIHOANGDU/nail-store/internal/session"
)

const (
	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "csrf_token"
)

// localeMiddleware resolves the display language from the hl query
// parameter, the session, then Accept-Language.
func (s *Server) localeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := s.messages.Fallback()
		if sess, ok := session.FromContext(r.Context()); ok {
			q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("hl")))
			switch {
			case q != "" && s.messages.IsSupported(q):
				sess.SetLocale(q)
			case sess.Locale() == "" || !s.messages.IsSupported(sess.Locale()):
				sess.SetLocale(s.messages.Resolve(r.Header.Get("Accept-Language")))
			}
			lang = sess.Locale()
		}
		w.Header().Set("Content-Language", lang)
		next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), lang)))
	})
}

// csrfMiddleware checks the session-bound token on unsafe methods. The token
// may arrive in the X-CSRF-Token header or the csrf_token form field.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		token := sess.EnsureCSRFToken()
		if !isSafeMethod(r.Method) {
			got := r.Header.Get(csrfHeader)
			if got == "" {
				got = r.PostFormValue(csrfFormField)
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				requestctx.Logger(r.Context()).Warn("csrf token mismatch")
				s.respond(w, r, sess, nil, outcome{
					status: http.StatusForbidden,
					code:   "invalid_csrf",
					tone:   session.ToneError,
					key:    "error.csrf",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

package session

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/platform/requestctx"
)

type contextKey string

const requestSessionKey contextKey = "storefront.session"

// Middleware attaches the session to the request context and writes the
// cookie just before the response header goes out, when the session changed.
func Middleware(manager *Manager) func(http.Handler) http.Handler {
	if manager == nil {
		panic("session manager is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := manager.Load(r)

			ctx := context.WithValue(r.Context(), requestSessionKey, sess)
			ctx = requestctx.WithSessionID(ctx, sess.ID())

			sw := &saveOnWrite{ResponseWriter: w, save: func() {
				if !sess.Dirty() {
					return
				}
				if err := manager.Save(w, sess); err != nil {
					requestctx.Logger(ctx).Warn("session save failed", zap.Error(err))
				}
			}}
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.flush()
		})
	}
}

// FromContext retrieves the session attached to this request.
func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(requestSessionKey).(*Session)
	return sess, ok && sess != nil
}

type saveOnWrite struct {
	http.ResponseWriter
	save  func()
	saved bool
}

func (w *saveOnWrite) flush() {
	if w.saved {
		return
	}
	w.saved = true
	w.save()
}

func (w *saveOnWrite) WriteHeader(status int) {
	w.flush()
	w.ResponseWriter.WriteHeader(status)
}

func (w *saveOnWrite) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *saveOnWrite) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

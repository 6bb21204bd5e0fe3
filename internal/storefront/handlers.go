package storefront

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/cart"
	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/format"
	"github.com/BUIHOANGDU/nail-store/internal/orders"
	"github.com/BUIHOANGDU/nail-store/internal/platform/httpx"
	"github.com/BUIHOANGDU/nail-store/internal/platform/requestctx"
	"github.com/BUIHOANGDU/nail-store/internal/session"
)

// outcome describes the user-facing result of a cart or order action.
type outcome struct {
	status int
	code   string
	tone   string
	key    string
	arg    string
}

func (o outcome) failed() bool { return o.status >= http.StatusBadRequest }

var tooLarge = outcome{
	status: http.StatusUnprocessableEntity,
	code:   "total_too_large",
	tone:   session.ToneError,
	key:    "cart.too_large",
}

func (s *Server) cartKey(sessionID string) string {
	return s.keyPrefix + ":" + sessionID
}

// openCart locks the session's cart and loads it. The returned func releases
// the lock and must be called once the request is done with the store.
func (s *Server) openCart(ctx context.Context, sess *session.Session, opts ...cart.Option) (*cart.Store, func(), error) {
	key := s.cartKey(sess.ID())
	unlock := s.locks.lock(key)
	opts = append([]cart.Option{cart.WithLogger(requestctx.Logger(ctx))}, opts...)
	store, err := cart.Open(ctx, s.snapshots, key, opts...)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return store, unlock, nil
}

func (s *Server) cartLines(ctx context.Context, sess *session.Session) []domain.CartLine {
	store, unlock, err := s.openCart(ctx, sess)
	if err != nil {
		requestctx.Logger(ctx).Warn("cart unavailable", zap.Error(err))
		return nil
	}
	defer unlock()
	return store.Lines()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, nil)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	lang := requestctx.Locale(r.Context())
	q := r.URL.Query()
	view := &detailView{
		Lang:    lang,
		CSRF:    sess.EnsureCSRFToken(),
		Payload: s.detail.Present(q.Get("name"), q.Get("desc"), q.Get("image"), q.Get("price")),
	}
	if isHTMX(r) {
		s.renderFragment(w, r, http.StatusOK, "detail", view)
		return
	}
	s.renderPage(w, r, func(p *pageView) { p.Detail = view })
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	lang := requestctx.Locale(r.Context())
	lines := s.cartLines(r.Context(), sess)
	if isHTMX(r) {
		view := buildCartView(lang, sess.EnsureCSRFToken(), lines, s.flashViews(lang, sess.TakeFlashes()))
		s.renderFragment(w, r, http.StatusOK, "cart", view)
		return
	}
	s.renderPage(w, r, func(p *pageView) {
		p.Cart = buildCartView(lang, p.CSRF, lines, nil)
	})
}

func (s *Server) handleCartJSON(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	store, unlock, err := s.openCart(r.Context(), sess)
	if err != nil {
		s.respondUnavailable(w, r, sess, err)
		return
	}
	defer unlock()
	httpx.WriteJSON(w, http.StatusOK, buildCartJSON(store.Lines(), ""))
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		s.respond(w, r, sess, nil, outcome{
			status: http.StatusBadRequest,
			code:   "invalid_item",
			tone:   session.ToneError,
			key:    "cart.invalid_item",
		})
		return
	}

	var added *domain.CartLine
	notifier := cart.NotifierFunc(func(_ context.Context, line domain.CartLine) {
		added = &line
	})
	store, unlock, err := s.openCart(r.Context(), sess, cart.WithNotifier(notifier))
	if err != nil {
		s.respondUnavailable(w, r, sess, err)
		return
	}
	defer unlock()

	_, err = store.Add(r.Context(), name, r.PostFormValue("imageUrl"), r.PostFormValue("price"))
	switch {
	case errors.Is(err, cart.ErrTotalTooLarge):
		s.respond(w, r, sess, store.Lines(), tooLarge)
		return
	case err != nil:
		s.respondUnavailable(w, r, sess, err)
		return
	}
	sess.SetOrderToken("")

	result := outcome{status: http.StatusOK, tone: session.ToneSuccess, key: "cart.added", arg: name}
	if added != nil {
		result.arg = added.Name
	}
	s.respond(w, r, sess, store.Lines(), result)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	invalid := outcome{
		status: http.StatusBadRequest,
		code:   "invalid_index",
		tone:   session.ToneError,
		key:    "cart.invalid_index",
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respond(w, r, sess, nil, invalid)
		return
	}

	store, unlock, err := s.openCart(r.Context(), sess)
	if err != nil {
		s.respondUnavailable(w, r, sess, err)
		return
	}
	defer unlock()

	removed, err := store.Remove(r.Context(), index)
	switch {
	case errors.Is(err, cart.ErrInvalidIndex):
		s.respond(w, r, sess, store.Lines(), invalid)
		return
	case err != nil:
		s.respondUnavailable(w, r, sess, err)
		return
	}
	sess.SetOrderToken("")
	s.respond(w, r, sess, store.Lines(), outcome{
		status: http.StatusOK,
		tone:   session.ToneSuccess,
		key:    "cart.removed",
		arg:    removed.Name,
	})
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	store, unlock, err := s.openCart(r.Context(), sess)
	if err != nil {
		s.respondUnavailable(w, r, sess, err)
		return
	}
	defer unlock()

	if err := store.Clear(r.Context()); err != nil {
		s.respondUnavailable(w, r, sess, err)
		return
	}
	sess.SetOrderToken("")
	s.respond(w, r, sess, store.Lines(), outcome{status: http.StatusOK, tone: session.ToneSuccess, key: "cart.cleared"})
}

// handleSubmitOrder reuses the session's pending request token so a retry
// after a lost acknowledgment targets the same order record.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := mustSession(r)
	store, unlock, err := s.openCart(ctx, sess)
	if err != nil {
		s.respondUnavailable(w, r, sess, err)
		return
	}
	defer unlock()

	token := sess.OrderToken()
	if token == "" {
		token = s.orders.NewRequestID()
		sess.SetOrderToken(token)
	}

	order, err := s.orders.Submit(ctx, store, orders.WithRequestID(token))
	cleared := true
	switch {
	case errors.Is(err, orders.ErrCartNotCleared):
		// The order is recorded. Keep the token so a resubmission of the
		// leftover cart targets the same record.
		requestctx.Logger(ctx).Warn("order recorded but cart not cleared", zap.String("request_id", token), zap.Error(err))
		cleared = false
	case errors.Is(err, orders.ErrEmptyCart):
		sess.SetOrderToken("")
		s.respond(w, r, sess, store.Lines(), outcome{
			status: http.StatusUnprocessableEntity,
			code:   "empty_cart",
			tone:   session.ToneError,
			key:    "cart.empty_submit",
		})
		return
	case errors.Is(err, orders.ErrTotalTooLarge):
		sess.SetOrderToken("")
		s.respond(w, r, sess, store.Lines(), tooLarge)
		return
	case err != nil:
		requestctx.Logger(ctx).Error("order submission failed", zap.String("request_id", token), zap.Error(err))
		s.respond(w, r, sess, store.Lines(), outcome{
			status: http.StatusBadGateway,
			code:   "submission_failed",
			tone:   session.ToneError,
			key:    "order.failed",
		})
		return
	}

	if cleared {
		sess.SetOrderToken("")
	}
	result := outcome{status: http.StatusOK, tone: session.ToneSuccess, key: "order.submitted"}
	if wantsJSON(r) {
		lang := requestctx.Locale(ctx)
		httpx.WriteJSON(w, http.StatusOK, orderJSON{
			RequestID:    order.RequestID,
			Total:        order.Total,
			TotalDisplay: format.Price(order.Total),
			Lines:        len(order.Items),
			CartCleared:  cleared,
			Message:      s.messages.T(lang, result.key),
		})
		return
	}
	s.respond(w, r, sess, store.Lines(), result)
}

func (s *Server) respondUnavailable(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) {
	requestctx.Logger(r.Context()).Error("cart storage failed", zap.Error(err))
	s.respond(w, r, sess, nil, outcome{
		status: http.StatusServiceUnavailable,
		code:   "cart_unavailable",
		tone:   session.ToneError,
		key:    "cart.unavailable",
	})
}

// respond answers a cart action as JSON, as an htmx cart fragment, or with a
// flash and a redirect for plain form posts.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, sess *session.Session, lines []domain.CartLine, o outcome) {
	ctx := r.Context()
	lang := requestctx.Locale(ctx)
	if lang == "" {
		lang = s.messages.Fallback()
	}
	var message string
	if o.arg != "" {
		message = s.messages.T(lang, o.key, o.arg)
	} else {
		message = s.messages.T(lang, o.key)
	}

	switch {
	case wantsJSON(r):
		if o.failed() {
			httpx.WriteError(ctx, w, httpx.NewError(o.code, message, o.status))
			return
		}
		httpx.WriteJSON(w, o.status, buildCartJSON(lines, message))
	case isHTMX(r):
		flashes := []flashView{{Tone: o.tone, Message: message}}
		if o.failed() && lines == nil {
			s.renderFragment(w, r, http.StatusOK, "flashes", flashes)
			return
		}
		w.Header().Set("HX-Trigger", "cart-updated")
		csrf := ""
		if sess != nil {
			csrf = sess.EnsureCSRFToken()
		}
		s.renderFragment(w, r, http.StatusOK, "cart", buildCartView(lang, csrf, lines, flashes))
	default:
		if sess != nil {
			sess.AddFlash(o.tone, o.key, o.arg)
		}
		http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
	}
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, decorate func(*pageView)) {
	ctx := r.Context()
	sess := mustSession(r)
	lang := requestctx.Locale(ctx)

	highlighted, _ := s.catalog.Load(ctx, domain.CategoryHighlighted)
	gallery, _ := s.catalog.Load(ctx, domain.CategoryGallery)
	lines := s.cartLines(ctx, sess)
	count := 0
	for _, line := range lines {
		count += line.Quantity
	}

	page := &pageView{
		Lang:        lang,
		Langs:       s.messages.Supported(),
		CSRF:        sess.EnsureCSRFToken(),
		Count:       count,
		Flashes:     s.flashViews(lang, sess.TakeFlashes()),
		Highlighted: listingItems(highlighted),
		Gallery:     listingItems(gallery),
	}
	if decorate != nil {
		decorate(page)
	}
	s.renderFragment(w, r, http.StatusOK, "page", page)
}

func (s *Server) renderFragment(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.views.render(&buf, name, data); err != nil {
		requestctx.Logger(r.Context()).Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func mustSession(r *http.Request) *session.Session {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		panic("storefront: session middleware not installed")
	}
	return sess
}

// returnPath picks the local redirect target for form posts.
func returnPath(r *http.Request) string {
	target := strings.TrimSpace(r.PostFormValue("return"))
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return "/"
	}
	return target
}

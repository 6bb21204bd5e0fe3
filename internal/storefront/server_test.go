package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BUIHOANGDU/nail-store/internal/catalog"
	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/i18n"
	"github.com/BUIHOANGDU/nail-store/internal/orders"
	"github.com/BUIHOANGDU/nail-store/internal/platform/snapshot"
	"github.com/BUIHOANGDU/nail-store/internal/session"
)

type fakeCatalog map[domain.Category][]domain.CatalogItem

func (f fakeCatalog) Load(_ context.Context, category domain.Category) ([]domain.CatalogItem, catalog.Source) {
	return f[category], catalog.SourceRemote
}

type recordingSink struct {
	mu     sync.Mutex
	orders []domain.Order
	fail   int
}

func (s *recordingSink) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	if s.fail > 0 {
		s.fail--
		return errors.New("deadline exceeded")
	}
	return nil
}

func (s *recordingSink) calls() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.orders...)
}

var testCatalog = fakeCatalog{
	domain.CategoryHighlighted: {
		{Name: "Combo 1", Description: "Sơn gel + dưỡng", ImageURL: "/img/c1.jpg", Price: 100000, Category: domain.CategoryHighlighted},
		{Name: "Combo 2", Description: "Đắp bột", ImageURL: "/img/c2.jpg", Category: domain.CategoryHighlighted},
	},
	domain.CategoryGallery: {
		{Name: "Mẫu hoa", Description: "hidden in gallery", ImageURL: "/img/g1.jpg", Price: 50000, Category: domain.CategoryGallery},
	},
}

// flakyStorage fails the next deleteFails Delete calls.
type flakyStorage struct {
	*snapshot.Memory
	mu          sync.Mutex
	deleteFails int
}

func (f *flakyStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	fail := f.deleteFails > 0
	if fail {
		f.deleteFails--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("permission denied")
	}
	return f.Memory.Delete(ctx, key)
}

type testEnv struct {
	handler   http.Handler
	snapshots *snapshot.Memory
	storage   *flakyStorage
	sink      *recordingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bundle, err := i18n.Load("vi", []string{"vi", "en"})
	require.NoError(t, err)
	sessions, err := session.NewManager(session.Config{HashKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	sink := &recordingSink{}
	submitter, err := orders.NewSubmitter(sink, orders.WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	snapshots := snapshot.NewMemory()
	storage := &flakyStorage{Memory: snapshots}

	srv, err := New(Deps{
		Catalog:   testCatalog,
		Snapshots: storage,
		Orders:    submitter,
		Sessions:  sessions,
		Messages:  bundle,
	})
	require.NoError(t, err)
	return &testEnv{handler: srv.Routes(), snapshots: snapshots, storage: storage, sink: sink}
}

// browser replays cookies between requests.
type browser struct {
	t       *testing.T
	env     *testEnv
	cookies map[string]*http.Cookie
}

func (e *testEnv) browser(t *testing.T) *browser {
	return &browser{t: t, env: e, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.env.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return b.do(req)
}

func (b *browser) post(path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return b.do(req)
}

func (b *browser) page(path string) *goquery.Document {
	rec := b.get(path, nil)
	require.Equal(b.t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(b.t, err)
	return doc
}

func (b *browser) csrfToken() string {
	token, ok := b.page("/").Find(`meta[name="csrf-token"]`).Attr("content")
	require.True(b.t, ok)
	require.NotEmpty(b.t, token)
	return token
}

func jsonHeaders(token string) map[string]string {
	return map[string]string{"Accept": "application/json", csrfHeader: token}
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) cartJSON {
	t.Helper()
	var body cartJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.browser(t).get("/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}

func TestIndexRendersListings(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	rec := b.get("/", map[string]string{"Accept-Language": "vi-VN,vi;q=0.9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vi", rec.Header().Get("Content-Language"))

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)

	highlighted := doc.Find("#highlighted li.item")
	require.Equal(t, 2, highlighted.Length())
	first := highlighted.First()
	assert.Equal(t, "Combo 1", first.Find("h3").Text())
	assert.Equal(t, "Sơn gel + dưỡng", first.Find(".description").Text())
	assert.Equal(t, "100.000VND", first.Find(".price").Text())
	price, _ := first.Find(`input[name="price"]`).Attr("value")
	assert.Equal(t, "100000", price)
	assert.Zero(t, highlighted.Eq(1).Find(".price").Length(), "zero price is not displayed")

	gallery := doc.Find("#gallery li.item")
	require.Equal(t, 1, gallery.Length())
	assert.Zero(t, gallery.Find(".description").Length(), "gallery hides descriptions")
	assert.Equal(t, "50.000VND", gallery.Find(".price").Text())

	assert.Equal(t, "0", doc.Find("#cart-count").Text())
	assert.Equal(t, "Thêm vào giỏ", first.Find("button").Text())
}

func TestLocaleQueryOverridesSession(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	doc := b.page("/?hl=en")
	assert.Equal(t, "Featured combos", doc.Find("#highlighted h2").Text())

	doc = b.page("/")
	assert.Equal(t, "Featured combos", doc.Find("#highlighted h2").Text(), "language sticks to the session")

	doc = b.page("/?hl=xx")
	assert.Equal(t, "Featured combos", doc.Find("#highlighted h2").Text(), "unsupported languages are ignored")
}

func TestAddItemFormPostRedirectsWithFlash(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	token := b.csrfToken()

	form := url.Values{
		"csrf_token": {token},
		"name":       {"Combo 1"},
		"imageUrl":   {"/img/c1.jpg"},
		"price":      {"100000"},
	}
	rec := b.post("/cart/items", form, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	doc := b.page("/")
	assert.Equal(t, "Đã thêm Combo 1 vào giỏ hàng!", strings.TrimSpace(doc.Find("#flashes .flash-success").Text()))
	assert.Equal(t, "1", doc.Find("#cart-count").Text())

	doc = b.page("/")
	assert.Zero(t, doc.Find("#flashes").Length(), "flashes are shown once")

	rec = b.post("/cart/items", form, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	cart := decodeCart(t, b.get("/api/cart", nil))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, 2, cart.Count)
	assert.Equal(t, int64(200000), cart.Total)
	assert.Equal(t, "200.000VND", cart.TotalDisplay)
}

func TestCartIsScopedToSession(t *testing.T) {
	env := newTestEnv(t)
	alice := env.browser(t)
	bob := env.browser(t)

	token := alice.csrfToken()
	rec := alice.post("/cart/items", url.Values{"name": {"Combo 1"}, "price": {"100000"}}, jsonHeaders(token))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, decodeCart(t, alice.get("/api/cart", nil)).Count)
	assert.Equal(t, 0, decodeCart(t, bob.get("/api/cart", nil)).Count)
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	b.csrfToken()

	rec := b.post("/cart/items", url.Values{"name": {"Combo 1"}}, map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_csrf", body["error"])

	rec = b.post("/cart/items", url.Values{"name": {"Combo 1"}}, jsonHeaders("forged"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, decodeCart(t, b.get("/api/cart", nil)).Count)
}

func TestAddItemRequiresName(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	rec := b.post("/cart/items", url.Values{"name": {"  "}, "price": {"1"}}, jsonHeaders(b.csrfToken()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_item")
}

func TestRemoveItem(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	headers := jsonHeaders(b.csrfToken())

	b.post("/cart/items", url.Values{"name": {"A"}, "price": {"100"}}, headers)
	b.post("/cart/items", url.Values{"name": {"B"}, "price": {"200"}}, headers)

	rec := b.post("/cart/items/5/delete", nil, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_index")
	assert.Equal(t, 2, decodeCart(t, b.get("/api/cart", nil)).Count, "cart untouched on invalid index")

	rec = b.post("/cart/items/abc/delete", nil, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.post("/cart/items/0/delete", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decodeCart(t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "B", cart.Items[0].Name)
	assert.Equal(t, "Đã xóa A khỏi giỏ hàng.", cart.Message)
}

func TestClearCartDeletesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	headers := jsonHeaders(b.csrfToken())
	b.post("/cart/items", url.Values{"name": {"A"}, "price": {"100"}}, headers)

	rec := b.post("/cart/clear", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeCart(t, rec).Count)

	sessCookie := b.cookies["nail_store_session"]
	require.NotNil(t, sessCookie)
	keys := env.snapshots.Keys()
	assert.Empty(t, keys)
}

func TestSubmitEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	rec := b.post("/orders", nil, jsonHeaders(b.csrfToken()))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty_cart")
	assert.Contains(t, rec.Body.String(), "Giỏ hàng đang trống.")
	assert.Empty(t, env.sink.calls())
}

func TestSubmitOrderClearsCart(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	headers := jsonHeaders(b.csrfToken())
	b.post("/cart/items", url.Values{"name": {"Combo 1"}, "imageUrl": {"/img/c1.jpg"}, "price": {"100000"}}, headers)
	b.post("/cart/items", url.Values{"name": {"Combo 1"}, "price": {"100000"}}, headers)
	b.post("/cart/items", url.Values{"name": {"Mẫu hoa"}, "price": {"50.000VND"}}, headers)

	rec := b.post("/orders", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var body orderJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(250000), body.Total)
	assert.Equal(t, "250.000VND", body.TotalDisplay)
	assert.Equal(t, "🧾 Đơn hàng đã được gửi đến máy in!", body.Message)
	assert.NotEmpty(t, body.RequestID)

	calls := env.sink.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, body.RequestID, calls[0].RequestID)
	require.Len(t, calls[0].Items, 2)
	assert.Equal(t, 2, calls[0].Items[0].Quantity)

	assert.Equal(t, 0, decodeCart(t, b.get("/api/cart", nil)).Count)
}

func TestSubmitFailureKeepsCartAndReusesRequestToken(t *testing.T) {
	env := newTestEnv(t)
	env.sink.fail = 1
	b := env.browser(t)
	headers := jsonHeaders(b.csrfToken())
	b.post("/cart/items", url.Values{"name": {"Combo 1"}, "price": {"100000"}}, headers)

	rec := b.post("/orders", nil, headers)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "submission_failed")
	assert.Equal(t, 1, decodeCart(t, b.get("/api/cart", nil)).Count)

	rec = b.post("/orders", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	calls := env.sink.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].RequestID, calls[1].RequestID)

	b.post("/cart/items", url.Values{"name": {"Combo 2"}, "price": {"1"}}, headers)
	b.post("/orders", nil, headers)
	calls = env.sink.calls()
	require.Len(t, calls, 3)
	assert.NotEqual(t, calls[1].RequestID, calls[2].RequestID, "a new order gets a new token")
}

func TestSubmitKeepsRequestTokenWhenCartNotCleared(t *testing.T) {
	env := newTestEnv(t)
	env.storage.deleteFails = 1
	b := env.browser(t)
	headers := jsonHeaders(b.csrfToken())
	b.post("/cart/items", url.Values{"name": {"Combo 1"}, "price": {"100000"}}, headers)

	rec := b.post("/orders", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var first orderJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.CartCleared)
	assert.Equal(t, 1, decodeCart(t, b.get("/api/cart", nil)).Count, "cart survives the failed clear")

	rec = b.post("/orders", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var second orderJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.CartCleared)
	assert.Equal(t, first.RequestID, second.RequestID, "resubmission targets the recorded order")

	calls := env.sink.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].RequestID, calls[1].RequestID)
	assert.Equal(t, 0, decodeCart(t, b.get("/api/cart", nil)).Count)
}

func TestAddItemRejectsTotalAboveLimit(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	headers := jsonHeaders(b.csrfToken())

	rec := b.post("/cart/items", url.Values{"name": {"A"}, "price": {"999999999999999"}}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = b.post("/cart/items", url.Values{"name": {"A"}, "price": {"999999999999999"}}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_too_large")

	cart := decodeCart(t, b.get("/api/cart", nil))
	assert.Equal(t, 1, cart.Count)
	assert.Equal(t, domain.MaxAmount, cart.Total)
}

func TestSubmitFailureFormPostShowsFlash(t *testing.T) {
	env := newTestEnv(t)
	env.sink.fail = 1
	b := env.browser(t)
	token := b.csrfToken()
	b.post("/cart/items", url.Values{"csrf_token": {token}, "name": {"Combo 1"}, "price": {"1"}}, nil)
	b.page("/")

	rec := b.post("/orders", url.Values{"csrf_token": {token}, "return": {"//evil.example"}}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	doc := b.page("/")
	assert.Equal(t, "Lỗi khi gửi đơn hàng.", strings.TrimSpace(doc.Find("#flashes .flash-error").Text()))
}

func TestCartFragment(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	htmx := map[string]string{"HX-Request": "true"}

	rec := b.get("/cart", htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Giỏ hàng trống!", doc.Find(".cart-empty").Text())
	assert.Zero(t, doc.Find("header").Length(), "fragment has no page chrome")

	token := b.csrfToken()
	rec = b.post("/cart/items", url.Values{"name": {"Combo 1"}, "price": {"100000"}}, map[string]string{"HX-Request": "true", csrfHeader: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cart-updated", rec.Header().Get("HX-Trigger"))
	doc, err = goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Đã thêm Combo 1 vào giỏ hàng!", strings.TrimSpace(doc.Find(".flash").Text()))
	assert.Equal(t, 1, doc.Find("tr.cart-line").Length())
	assert.Equal(t, "100.000VND", doc.Find(".cart-total strong").Text())

	page := b.page("/cart")
	assert.Equal(t, 1, page.Find("#cart-popup tr.cart-line").Length())
}

func TestDetailModal(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	q := url.Values{
		"name":  {"Combo 1"},
		"desc":  {"**Sơn gel** <script>alert(1)</script>"},
		"image": {"/img/c1.jpg"},
		"price": {"100.000VND"},
	}
	rec := b.get("/detail?"+q.Encode(), map[string]string{"HX-Request": "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, "Combo 1", doc.Find("#detail-title").Text())
	assert.Equal(t, "Sơn gel", doc.Find(".description strong").Text())
	assert.Zero(t, doc.Find(".description script").Length())
	assert.Equal(t, "Giá: 100.000VND", doc.Find(".price").Text())
	priceText, _ := doc.Find(`input[name="price"]`).Attr("value")
	assert.Equal(t, "100.000VND", priceText)
	assert.Equal(t, "Đóng", doc.Find("a.close").Text())

	token := b.csrfToken()
	form := url.Values{"name": {"Combo 1"}, "imageUrl": {"/img/c1.jpg"}, "price": {priceText}}
	rec = b.post("/cart/items", form, jsonHeaders(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(100000), decodeCart(t, rec).Total)

	page := b.page("/detail?" + q.Encode())
	assert.Equal(t, 1, page.Find("#detail-modal .modal").Length())
	assert.Equal(t, 2, page.Find("#highlighted li.item").Length())
}

func TestHTMXFailureRendersFlashOnly(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	b.csrfToken()

	rec := b.post("/cart/items", url.Values{"name": {"Combo 1"}}, map[string]string{"HX-Request": "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("HX-Trigger"))
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Phiên làm việc đã hết hạn, vui lòng tải lại trang.", strings.TrimSpace(doc.Find(".flash-error").Text()))
	assert.Zero(t, doc.Find(".cart").Length())
}

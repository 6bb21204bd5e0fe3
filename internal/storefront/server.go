// Package storefront serves the listing, cart popup, detail modal and order
// endpoints over HTTP.
package storefront

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/cart"
	"github.com/BUIHOANGDU/nail-store/internal/catalog"
	"github.com/BUIHOANGDU/nail-store/internal/detail"
	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/i18n"
	"github.com/BUIHOANGDU/nail-store/internal/orders"
	"github.com/BUIHOANGDU/nail-store/internal/platform/observability"
	"github.com/BUIHOANGDU/nail-store/internal/platform/snapshot"
	"github.com/BUIHOANGDU/nail-store/internal/session"
)

// CatalogLoader resolves a category listing.
type CatalogLoader interface {
	Load(ctx context.Context, category domain.Category) ([]domain.CatalogItem, catalog.Source)
}

// OrderSubmitter records carts as orders.
type OrderSubmitter interface {
	NewRequestID() string
	Submit(ctx context.Context, cart orders.Cart, opts ...orders.SubmitOption) (domain.Order, error)
}

// DetailPresenter builds the detail modal payload.
type DetailPresenter interface {
	Present(name, description, imageURL, priceDisplay string) detail.Payload
}

// Deps bundles the collaborators required by the server.
type Deps struct {
	Catalog   CatalogLoader
	Snapshots snapshot.Storage
	Orders    OrderSubmitter
	Detail    DetailPresenter
	Sessions  *session.Manager
	Messages  *i18n.Bundle
	Logger    *zap.Logger

	// CartKeyPrefix namespaces snapshot keys; defaults to "cart".
	CartKeyPrefix string
}

// Server holds the storefront handlers.
type Server struct {
	catalog   CatalogLoader
	snapshots snapshot.Storage
	orders    OrderSubmitter
	detail    DetailPresenter
	sessions  *session.Manager
	messages  *i18n.Bundle
	logger    *zap.Logger
	views     *renderer
	locks     *sessionLocks
	keyPrefix string
}

// New validates deps and parses the templates.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("storefront: catalog loader is required")
	case deps.Snapshots == nil:
		return nil, errors.New("storefront: snapshot storage is required")
	case deps.Orders == nil:
		return nil, errors.New("storefront: order submitter is required")
	case deps.Sessions == nil:
		return nil, errors.New("storefront: session manager is required")
	case deps.Messages == nil:
		return nil, errors.New("storefront: message bundle is required")
	}
	presenter := deps.Detail
	if presenter == nil {
		presenter = detail.NewPresenter()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := deps.CartKeyPrefix
	if prefix == "" {
		prefix = cart.DefaultKey
	}
	views, err := newRenderer(deps.Messages)
	if err != nil {
		return nil, err
	}
	return &Server{
		catalog:   deps.Catalog,
		snapshots: deps.Snapshots,
		orders:    deps.Orders,
		detail:    presenter,
		sessions:  deps.Sessions,
		messages:  deps.Messages,
		logger:    logger,
		views:     views,
		locks:     newSessionLocks(),
		keyPrefix: prefix,
	}, nil
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	// RealIP trusts X-Forwarded-For; deploy behind a proxy that sets it.
	r.Use(middleware.RealIP)
	r.Use(observability.InjectLoggerMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(s.sessions))
		r.Use(observability.RequestLoggerMiddleware())
		r.Use(observability.RecoveryMiddleware(s.logger))
		r.Use(s.localeMiddleware)
		r.Use(s.csrfMiddleware)

		r.Get("/", s.handleIndex)
		r.Get("/detail", s.handleDetail)
		r.Get("/cart", s.handleCart)
		r.Get("/api/cart", s.handleCartJSON)
		r.Post("/cart/items", s.handleAddItem)
		r.Post("/cart/items/{index}/delete", s.handleRemoveItem)
		r.Post("/cart/clear", s.handleClearCart)
		r.Post("/orders", s.handleSubmitOrder)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
	return r
}

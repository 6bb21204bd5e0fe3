// Package catalog loads the storefront listings from the remote combos
// collection and falls back to a static document when the remote store cannot
// serve a category.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
)

const instrumentationName = "github.com/BUIHOANGDU/nail-store/internal/catalog"

// Source reports where a listing came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceStatic Source = "static"
	// SourceNone means neither source produced a listing; the result is empty.
	SourceNone Source = "none"
)

// FallbackPolicy controls which categories are served from the static document.
type FallbackPolicy string

const (
	// FallbackAllCategories filters the static document by category for every listing.
	FallbackAllCategories FallbackPolicy = "all"
	// FallbackHighlightedOnly serves the whole static document as the highlighted
	// listing and leaves the gallery empty.
	FallbackHighlightedOnly FallbackPolicy = "highlighted-only"
)

// RemoteSource queries the remote store for one category.
type RemoteSource interface {
	Query(ctx context.Context, category domain.Category) ([]domain.CatalogItem, error)
}

// StaticItems returns the full static document.
type StaticItems interface {
	Items(ctx context.Context) ([]domain.CatalogItem, error)
}

// Loader resolves category listings. Load never returns an error; failures are
// logged and degrade to the fallback or an empty listing.
type Loader struct {
	remote       RemoteSource
	static       StaticItems
	policy       FallbackPolicy
	queryTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker[[]domain.CatalogItem]
	logger       *zap.Logger
	tracer       trace.Tracer
	fallbacks    metric.Int64Counter
}

type loaderConfig struct {
	policy          FallbackPolicy
	queryTimeout    time.Duration
	breakerFailures uint32
	breakerCooldown time.Duration
	logger          *zap.Logger
	meter           metric.Meter
	tracer          trace.Tracer
}

// LoaderOption customises a Loader.
type LoaderOption func(*loaderConfig)

// WithFallbackPolicy selects the fallback policy. Unknown values keep the default.
func WithFallbackPolicy(policy FallbackPolicy) LoaderOption {
	return func(cfg *loaderConfig) {
		switch policy {
		case FallbackAllCategories, FallbackHighlightedOnly:
			cfg.policy = policy
		}
	}
}

// WithQueryTimeout bounds each remote query.
func WithQueryTimeout(timeout time.Duration) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.queryTimeout = timeout
	}
}

// WithBreaker configures the circuit breaker guarding remote queries.
func WithBreaker(consecutiveFailures int, cooldown time.Duration) LoaderOption {
	return func(cfg *loaderConfig) {
		if consecutiveFailures > 0 {
			cfg.breakerFailures = uint32(consecutiveFailures)
		}
		if cooldown > 0 {
			cfg.breakerCooldown = cooldown
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(cfg *loaderConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(meter metric.Meter) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.meter = meter
	}
}

// WithTracer injects an OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.tracer = tracer
	}
}

// NewLoader builds a loader. remote may be nil when no remote store is
// configured; every load then uses the static source.
func NewLoader(remote RemoteSource, static StaticItems, opts ...LoaderOption) *Loader {
	cfg := loaderConfig{
		policy:          FallbackAllCategories,
		queryTimeout:    10 * time.Second,
		breakerFailures: 3,
		breakerCooldown: 30 * time.Second,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}

	loader := &Loader{
		remote:       remote,
		static:       static,
		policy:       cfg.policy,
		queryTimeout: cfg.queryTimeout,
		logger:       cfg.logger,
		tracer:       cfg.tracer,
	}

	failures := cfg.breakerFailures
	loader.breaker = gobreaker.NewCircuitBreaker[[]domain.CatalogItem](gobreaker.Settings{
		Name:    "catalog-remote",
		Timeout: cfg.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.logger.Info("catalog: breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	counter, err := cfg.meter.Int64Counter(
		"catalog.fallback.loads",
		metric.WithDescription("Count of category loads served by the static fallback"),
	)
	if err != nil {
		cfg.logger.Warn("catalog: unable to register fallback metric", zap.Error(err))
	} else {
		loader.fallbacks = counter
	}
	return loader
}

// Load returns the listing for category and the source that produced it.
// Unknown categories yield an empty listing from SourceNone without any I/O.
func (l *Loader) Load(ctx context.Context, category domain.Category) ([]domain.CatalogItem, Source) {
	ctx, span := l.tracer.Start(ctx, "catalog.Load", trace.WithAttributes(
		attribute.String("catalog.category", string(category)),
	))
	defer span.End()

	if !category.Valid() {
		l.logger.Warn("catalog: unknown category", zap.String("category", string(category)))
		span.SetStatus(codes.Error, "unknown category")
		return []domain.CatalogItem{}, SourceNone
	}

	items, err := l.queryRemote(ctx, category)
	if err == nil {
		if items == nil {
			items = []domain.CatalogItem{}
		}
		span.SetAttributes(attribute.String("catalog.source", string(SourceRemote)), attribute.Int("catalog.items", len(items)))
		return items, SourceRemote
	}

	span.RecordError(err)
	l.logger.Warn("catalog: remote load failed; using fallback",
		zap.String("category", string(category)),
		zap.Bool("remote_unavailable", errors.Is(err, ErrRemoteUnavailable)),
		zap.Error(err),
	)

	items, source := l.loadFallback(ctx, category)
	if l.fallbacks != nil {
		l.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(category)),
			attribute.String("source", string(source)),
		))
	}
	if source == SourceNone {
		span.SetStatus(codes.Error, "no catalog source available")
	}
	span.SetAttributes(attribute.String("catalog.source", string(source)), attribute.Int("catalog.items", len(items)))
	return items, source
}

func (l *Loader) queryRemote(ctx context.Context, category domain.Category) ([]domain.CatalogItem, error) {
	if l.remote == nil {
		return nil, ErrRemoteUnavailable
	}
	items, err := l.breaker.Execute(func() ([]domain.CatalogItem, error) {
		queryCtx := ctx
		if l.queryTimeout > 0 {
			var cancel context.CancelFunc
			queryCtx, cancel = context.WithTimeout(ctx, l.queryTimeout)
			defer cancel()
		}
		return l.remote.Query(queryCtx, category)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errors.Join(ErrQueryFailed, err)
	case err != nil && !errors.Is(err, ErrRemoteUnavailable) && !errors.Is(err, ErrQueryFailed):
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return items, err
}

func (l *Loader) loadFallback(ctx context.Context, category domain.Category) ([]domain.CatalogItem, Source) {
	if l.policy == FallbackHighlightedOnly && category != domain.CategoryHighlighted {
		return []domain.CatalogItem{}, SourceNone
	}
	if l.static == nil {
		return []domain.CatalogItem{}, SourceNone
	}

	all, err := l.static.Items(ctx)
	if err != nil {
		l.logger.Error("catalog: static fallback failed",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return []domain.CatalogItem{}, SourceNone
	}

	if l.policy == FallbackHighlightedOnly {
		for i := range all {
			all[i].Category = domain.CategoryHighlighted
		}
		return all, SourceStatic
	}

	filtered := make([]domain.CatalogItem, 0, len(all))
	for _, item := range all {
		if item.Category == category {
			filtered = append(filtered, item)
		}
	}
	return filtered, SourceStatic
}

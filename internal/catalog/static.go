package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/catalog/bundled"
	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/platform/storage"
)

const (
	// LocationEmbedded selects the combos.json compiled into the binary.
	LocationEmbedded = "embedded"

	maxStaticBytes = 4 << 20
)

// ObjectReader fetches gs:// documents.
type ObjectReader interface {
	ReadURL(ctx context.Context, rawURL string) ([]byte, error)
}

// StaticSource reads the fallback catalog document. The first successful
// parse is kept for the life of the process.
type StaticSource struct {
	location   string
	objects    ObjectReader
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	cached []domain.CatalogItem
	loaded bool
}

// StaticOption customises a StaticSource.
type StaticOption func(*StaticSource)

// WithObjectReader enables gs:// locations.
func WithObjectReader(reader ObjectReader) StaticOption {
	return func(s *StaticSource) {
		s.objects = reader
	}
}

// WithHTTPClient overrides the client used for http(s) locations.
func WithHTTPClient(client *http.Client) StaticOption {
	return func(s *StaticSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithStaticLogger sets the logger used for dropped records.
func WithStaticLogger(logger *zap.Logger) StaticOption {
	return func(s *StaticSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStaticSource builds a source for location: "embedded", a file path, an
// http(s) URL or a gs://bucket/object URL.
func NewStaticSource(location string, opts ...StaticOption) *StaticSource {
	location = strings.TrimSpace(location)
	if location == "" {
		location = LocationEmbedded
	}
	source := &StaticSource{
		location:   location,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(source)
		}
	}
	return source
}

// Location returns the configured document location.
func (s *StaticSource) Location() string { return s.location }

// Items returns every record in the static document. Records without a type
// belong to the highlighted category.
func (s *StaticSource) Items(ctx context.Context) ([]domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return cloneItems(s.cached), nil
	}

	raw, err := s.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaticUnavailable, err)
	}
	items, err := s.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaticUnavailable, err)
	}
	s.cached = items
	s.loaded = true
	return cloneItems(items), nil
}

func (s *StaticSource) read(ctx context.Context) ([]byte, error) {
	switch {
	case s.location == LocationEmbedded:
		return bundled.Combos, nil
	case storage.IsObjectURL(s.location):
		if s.objects == nil {
			return nil, fmt.Errorf("no object reader configured for %s", s.location)
		}
		return s.objects.ReadURL(ctx, s.location)
	case strings.HasPrefix(s.location, "http://"), strings.HasPrefix(s.location, "https://"):
		return s.fetch(ctx)
	default:
		return os.ReadFile(s.location)
	}
}

func (s *StaticSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", s.location, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxStaticBytes))
}

type staticRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Price       any    `json:"price"`
	Type        string `json:"type"`
}

func (s *StaticSource) parse(raw []byte) ([]domain.CatalogItem, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []staticRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.location, err)
	}

	items := make([]domain.CatalogItem, 0, len(records))
	for i, rec := range records {
		name := strings.TrimSpace(rec.Title)
		if name == "" {
			s.logger.Warn("catalog: dropping static record without title",
				zap.String("location", s.location),
				zap.Int("index", i),
			)
			continue
		}
		category := domain.CategoryHighlighted
		if rec.Type != "" {
			parsed, ok := domain.CategoryFromWire(strings.TrimSpace(rec.Type))
			if !ok {
				s.logger.Warn("catalog: dropping static record with unknown type",
					zap.String("location", s.location),
					zap.String("type", rec.Type),
				)
				continue
			}
			category = parsed
		}
		items = append(items, domain.CatalogItem{
			Name:        name,
			Description: strings.TrimSpace(rec.Description),
			ImageURL:    strings.TrimSpace(rec.Image),
			Price:       priceValue(rec.Price),
			Category:    category,
		})
	}
	return items, nil
}

func cloneItems(items []domain.CatalogItem) []domain.CatalogItem {
	if items == nil {
		return nil
	}
	return append([]domain.CatalogItem(nil), items...)
}

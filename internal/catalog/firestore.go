package catalog

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
	pfirestore "github.com/BUIHOANGDU/nail-store/internal/platform/firestore"
)

const defaultCollection = "combos"

// FirestoreSource queries the remote combos collection by category.
type FirestoreSource struct {
	provider *pfirestore.Provider
	repo     *pfirestore.BaseRepository[map[string]any]
	logger   *zap.Logger
}

// NewFirestoreSource binds a source to collection. An empty collection uses "combos".
func NewFirestoreSource(provider *pfirestore.Provider, collection string, logger *zap.Logger) *FirestoreSource {
	if collection == "" {
		collection = defaultCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreSource{
		provider: provider,
		repo:     pfirestore.NewBaseRepository[map[string]any](provider, collection, nil, pfirestore.MapDecoder()),
		logger:   logger,
	}
}

// Query returns the items whose type field matches category.
func (s *FirestoreSource) Query(ctx context.Context, category domain.Category) ([]domain.CatalogItem, error) {
	if s == nil || s.provider == nil {
		return nil, ErrRemoteUnavailable
	}
	if _, err := s.provider.Client(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	docs, err := s.repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("type", "==", category.WireValue())
	})
	if err != nil {
		return nil, classifyQueryError(err)
	}

	items := make([]domain.CatalogItem, 0, len(docs))
	for _, doc := range docs {
		item, ok := decodeRemoteRecord(doc.Data, category)
		if !ok {
			s.logger.Warn("catalog: dropping remote record without name",
				zap.String("collection", s.repo.Collection()),
				zap.String("document_id", doc.ID),
			)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// classifyQueryError marks transient backend outages as ErrRemoteUnavailable
// and every other query failure as ErrQueryFailed.
func classifyQueryError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if pfirestore.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrQueryFailed, err)
}

// decodeRemoteRecord applies the remote schema: name, desc, imageUrl, price.
// Records without a name cannot be added to the cart and are rejected.
func decodeRemoteRecord(data map[string]any, category domain.Category) (domain.CatalogItem, bool) {
	name := stringField(data["name"])
	if name == "" {
		return domain.CatalogItem{}, false
	}
	return domain.CatalogItem{
		Name:        name,
		Description: stringField(data["desc"]),
		ImageURL:    stringField(data["imageUrl"]),
		Price:       priceValue(data["price"]),
		Category:    category,
	}, true
}

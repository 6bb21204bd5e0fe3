package orders

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
	pfirestore "github.com/BUIHOANGDU/nail-store/internal/platform/firestore"
)

const defaultCollection = "orders"

// FirestoreSink writes orders to a Firestore collection keyed by request id.
type FirestoreSink struct {
	repo   *pfirestore.BaseRepository[domain.Order]
	logger *zap.Logger
}

// NewFirestoreSink binds a sink to collection. An empty collection uses "orders".
func NewFirestoreSink(provider *pfirestore.Provider, collection string, logger *zap.Logger) *FirestoreSink {
	if collection == "" {
		collection = defaultCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreSink{
		repo:   pfirestore.NewBaseRepository[domain.Order](provider, collection, nil, nil),
		logger: logger,
	}
}

// Create writes order with create-only semantics. An existing document with
// the same request id means an earlier attempt already landed.
func (s *FirestoreSink) Create(ctx context.Context, order domain.Order) error {
	if s == nil || s.repo == nil {
		return errors.New("orders: firestore sink not initialised")
	}
	_, err := s.repo.Create(ctx, order.RequestID, order)
	if pfirestore.IsAlreadyExists(err) {
		s.logger.Info("orders: order already recorded", zap.String("request_id", order.RequestID))
		return nil
	}
	return err
}

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
)

// PlacedMessage is the payload published for every placed order.
type PlacedMessage struct {
	RequestID string            `json:"requestId"`
	Items     []domain.CartLine `json:"items"`
	Total     int64             `json:"total"`
	ItemCount int               `json:"itemCount"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PubSubNotifier publishes order-placed messages to a Pub/Sub topic.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotifier constructs a notifier bound to topic.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub order notifier: topic is required")
	}
	return &PubSubNotifier{topic: topic, marshal: json.Marshal}, nil
}

// OrderPlaced publishes order and waits for the server acknowledgment.
func (n *PubSubNotifier) OrderPlaced(ctx context.Context, order domain.Order) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub order notifier: not initialised")
	}

	count := 0
	for _, line := range order.Items {
		count += line.Quantity
	}
	data, err := n.marshal(PlacedMessage{
		RequestID: order.RequestID,
		Items:     order.Items,
		Total:     order.Total,
		ItemCount: count,
		CreatedAt: order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal order placed message: %w", err)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"requestId": order.RequestID,
			"total":     strconv.FormatInt(order.Total, 10),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order placed: %w", err)
	}
	return nil
}

// Package orders turns a cart into an order record and submits it to the
// remote orders collection.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
)

const instrumentationName = "github.com/BUIHOANGDU/nail-store/internal/orders"

// Cart is the view of the cart the submitter needs. *cart.Store satisfies it.
type Cart interface {
	Lines() []domain.CartLine
	Clear(ctx context.Context) error
}

// Sink records an order. Writing the same RequestID twice must not create a
// second record.
type Sink interface {
	Create(ctx context.Context, order domain.Order) error
}

// Notifier announces a placed order, e.g. to the salon's receipt printer.
type Notifier interface {
	OrderPlaced(ctx context.Context, order domain.Order) error
}

// Result carries the outcome of SubmitAsync.
type Result struct {
	Order domain.Order
	Err   error
}

// Submitter builds orders from carts and hands them to a Sink.
type Submitter struct {
	sink     Sink
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	counter  metric.Int64Counter
}

// Option customises a Submitter.
type Option func(*Submitter)

// WithNotifier sets the order-placed notifier. Notification failures are logged only.
func WithNotifier(notifier Notifier) Option {
	return func(s *Submitter) {
		s.notifier = notifier
	}
}

// WithLogger sets the submitter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the order timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides request token generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Submitter) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(meter metric.Meter) Option {
	return func(s *Submitter) {
		if meter == nil {
			return
		}
		counter, err := meter.Int64Counter("orders.submissions",
			metric.WithDescription("Count of order submissions by outcome"))
		if err == nil {
			s.counter = counter
		}
	}
}

// NewSubmitter constructs a Submitter writing to sink.
func NewSubmitter(sink Sink, opts ...Option) (*Submitter, error) {
	if sink == nil {
		return nil, errors.New("orders: sink is required")
	}
	s := &Submitter{
		sink:   sink,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
	}
	WithMeter(otel.GetMeterProvider().Meter(instrumentationName))(s)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// NewRequestID returns a fresh request token.
func (s *Submitter) NewRequestID() string {
	return s.newID()
}

// SubmitOption customises a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	requestID string
}

// WithRequestID reuses a request token issued earlier, so that resubmitting
// after a lost acknowledgment targets the same order record.
func WithRequestID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.requestID = strings.TrimSpace(id)
	}
}

// Submit records the cart as an order and clears the cart on success. An empty
// cart fails with ErrEmptyCart and an oversized total with ErrTotalTooLarge,
// both before any I/O. On failure the cart is kept and the error wraps
// ErrSubmissionFailed. If the order is recorded but the cart cannot be
// cleared, the order is returned along with an error wrapping ErrCartNotCleared.
func (s *Submitter) Submit(ctx context.Context, cart Cart, opts ...SubmitOption) (domain.Order, error) {
	if cart == nil {
		return domain.Order{}, ErrEmptyCart
	}
	lines := cart.Lines()
	if len(lines) == 0 {
		s.record(ctx, "empty")
		return domain.Order{}, ErrEmptyCart
	}

	total, ok := domain.CartTotal(lines)
	if !ok {
		s.record(ctx, "rejected")
		return domain.Order{}, ErrTotalTooLarge
	}

	options := submitOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	requestID := options.requestID
	if requestID != "" {
		if _, err := ulid.ParseStrict(requestID); err != nil {
			s.logger.Warn("orders: ignoring malformed request id", zap.String("request_id", requestID), zap.Error(err))
			requestID = ""
		}
	}
	if requestID == "" {
		requestID = s.newID()
	}

	order := domain.Order{
		RequestID: requestID,
		Items:     lines,
		Total:     total,
		CreatedAt: s.now().UTC(),
	}

	if err := s.sink.Create(ctx, order); err != nil {
		s.record(ctx, "failed")
		s.logger.Error("orders: submission failed",
			zap.String("request_id", order.RequestID),
			zap.Int64("total", order.Total),
			zap.Error(err),
		)
		return domain.Order{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	s.record(ctx, "submitted")
	s.logger.Info("orders: order submitted",
		zap.String("request_id", order.RequestID),
		zap.Int("lines", len(order.Items)),
		zap.Int64("total", order.Total),
	)

	var clearErr error
	if err := cart.Clear(ctx); err != nil {
		s.logger.Error("orders: clear cart after submission", zap.String("request_id", order.RequestID), zap.Error(err))
		clearErr = fmt.Errorf("%w: %w", ErrCartNotCleared, err)
	}

	if s.notifier != nil {
		if err := s.notifier.OrderPlaced(ctx, order); err != nil {
			s.logger.Warn("orders: order notification failed", zap.String("request_id", order.RequestID), zap.Error(err))
		}
	}
	return order, clearErr
}

// SubmitAsync runs Submit in a goroutine. The channel receives exactly one
// Result and is then closed.
func (s *Submitter) SubmitAsync(ctx context.Context, cart Cart, opts ...SubmitOption) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		order, err := s.Submit(ctx, cart, opts...)
		out <- Result{Order: order, Err: err}
	}()
	return out
}

func (s *Submitter) record(ctx context.Context, outcome string) {
	if s.counter == nil {
		return
	}
	s.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

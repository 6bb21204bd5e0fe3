package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BUIHOANGDU/nail-store/internal/cart"
	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/platform/snapshot"
)

type recordingSink struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	calls  int
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{orders: map[string]domain.Order{}}
}

func (s *recordingSink) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if _, ok := s.orders[order.RequestID]; ok {
		return nil
	}
	s.orders[order.RequestID] = order
	return nil
}

type recordingNotifier struct {
	orders []domain.Order
	err    error
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, order domain.Order) error {
	n.orders = append(n.orders, order)
	return n.err
}

func newCart(t *testing.T, items ...[3]string) (*cart.Store, *snapshot.Memory) {
	t.Helper()
	mem := snapshot.NewMemory()
	store, err := cart.Open(context.Background(), mem, cart.DefaultKey)
	require.NoError(t, err)
	for _, item := range items {
		_, err := store.Add(context.Background(), item[0], item[1], item[2])
		require.NoError(t, err)
	}
	return store, mem
}

func TestSubmitRecordsOrderAndClearsCart(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	notifier := &recordingNotifier{}
	fixed := time.Date(2025, 3, 8, 9, 30, 0, 0, time.FixedZone("ICT", 7*3600))
	submitter, err := NewSubmitter(sink, WithNotifier(notifier), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	store, mem := newCart(t,
		[3]string{"Combo A", "a.jpg", "100000"},
		[3]string{"Combo B", "b.jpg", "50.000VND"},
		[3]string{"Combo A", "a.jpg", "100000"},
	)

	order, err := submitter.Submit(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, int64(250000), order.Total)
	assert.Equal(t, fixed.UTC(), order.CreatedAt)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 2, order.Items[0].Quantity)
	_, err = ulid.ParseStrict(order.RequestID)
	assert.NoError(t, err)

	assert.Equal(t, order, sink.orders[order.RequestID])
	assert.True(t, store.Empty())
	_, err = mem.Load(ctx, cart.DefaultKey)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	require.Len(t, notifier.orders, 1)
	assert.Equal(t, order.RequestID, notifier.orders[0].RequestID)
}

func TestSubmitEmptyCartPerformsNoIO(t *testing.T) {
	sink := newRecordingSink()
	submitter, err := NewSubmitter(sink)
	require.NoError(t, err)
	store, _ := newCart(t)

	_, err = submitter.Submit(context.Background(), store)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, sink.calls)

	_, err = submitter.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestSubmitFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	sink.err = errors.New("unavailable")
	notifier := &recordingNotifier{}
	submitter, err := NewSubmitter(sink, WithNotifier(notifier))
	require.NoError(t, err)

	store, mem := newCart(t, [3]string{"Combo A", "a.jpg", "100000"})
	before, err := mem.Load(ctx, cart.DefaultKey)
	require.NoError(t, err)

	_, err = submitter.Submit(ctx, store)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, 1, store.Count())
	assert.Empty(t, notifier.orders)

	after, err := mem.Load(ctx, cart.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

type stubCart struct {
	lines    []domain.CartLine
	clearErr error
	cleared  int
}

func (c *stubCart) Lines() []domain.CartLine { return c.lines }

func (c *stubCart) Clear(context.Context) error {
	c.cleared++
	return c.clearErr
}

func TestSubmitRejectsOverflowingTotal(t *testing.T) {
	sink := newRecordingSink()
	submitter, err := NewSubmitter(sink)
	require.NoError(t, err)
	stub := &stubCart{lines: []domain.CartLine{
		{Name: "A", Price: domain.MaxAmount, Quantity: 1},
		{Name: "B", Price: 9_000_000_000_000_000, Quantity: 2},
	}}

	_, err = submitter.Submit(context.Background(), stub)
	assert.ErrorIs(t, err, ErrTotalTooLarge)
	assert.NotErrorIs(t, err, ErrSubmissionFailed)
	assert.Zero(t, sink.calls)
	assert.Zero(t, stub.cleared)
}

func TestSubmitReportsCartNotCleared(t *testing.T) {
	sink := newRecordingSink()
	submitter, err := NewSubmitter(sink)
	require.NoError(t, err)
	stub := &stubCart{
		lines:    []domain.CartLine{{Name: "A", Price: 1000, Quantity: 2}},
		clearErr: errors.New("disk full"),
	}
	token := submitter.NewRequestID()

	order, err := submitter.Submit(context.Background(), stub, WithRequestID(token))
	require.ErrorIs(t, err, ErrCartNotCleared)
	assert.NotErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, token, order.RequestID)
	assert.Equal(t, int64(2000), order.Total)
	assert.Equal(t, order, sink.orders[token])
	assert.Equal(t, 1, stub.cleared)
}

func TestSubmitReusesRequestID(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	submitter, err := NewSubmitter(sink)
	require.NoError(t, err)

	token := submitter.NewRequestID()
	first, _ := newCart(t, [3]string{"Combo A", "a.jpg", "100000"})
	second, _ := newCart(t, [3]string{"Combo A", "a.jpg", "100000"})

	o1, err := submitter.Submit(ctx, first, WithRequestID(token))
	require.NoError(t, err)
	o2, err := submitter.Submit(ctx, second, WithRequestID(token))
	require.NoError(t, err)

	assert.Equal(t, token, o1.RequestID)
	assert.Equal(t, token, o2.RequestID)
	assert.Len(t, sink.orders, 1)
	assert.Equal(t, 2, sink.calls)
}

func TestSubmitReplacesMalformedRequestID(t *testing.T) {
	sink := newRecordingSink()
	submitter, err := NewSubmitter(sink, WithIDGenerator(func() string { return "01J0000000000000000000000A" }))
	require.NoError(t, err)
	store, _ := newCart(t, [3]string{"Combo A", "", "1"})

	order, err := submitter.Submit(context.Background(), store, WithRequestID("not-a-ulid"))
	require.NoError(t, err)
	assert.Equal(t, "01J0000000000000000000000A", order.RequestID)
}

func TestNotifierFailureDoesNotFailSubmission(t *testing.T) {
	submitter, err := NewSubmitter(newRecordingSink(), WithNotifier(&recordingNotifier{err: errors.New("topic missing")}))
	require.NoError(t, err)
	store, _ := newCart(t, [3]string{"Combo A", "", "1"})

	_, err = submitter.Submit(context.Background(), store)
	assert.NoError(t, err)
	assert.True(t, store.Empty())
}

func TestSubmitAsync(t *testing.T) {
	submitter, err := NewSubmitter(newRecordingSink())
	require.NoError(t, err)
	store, _ := newCart(t, [3]string{"Combo A", "", "100000"})

	select {
	case res, ok := <-submitter.SubmitAsync(context.Background(), store):
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Equal(t, int64(100000), res.Order.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async result")
	}

	res := <-submitter.SubmitAsync(context.Background(), store)
	assert.ErrorIs(t, res.Err, ErrEmptyCart)
}

func TestNewSubmitterRequiresSink(t *testing.T) {
	_, err := NewSubmitter(nil)
	assert.Error(t, err)
}

package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/platform/snapshot"
)

type failingStorage struct {
	snapshot.Storage
	saveErr   error
	deleteErr error
	loadErr   error
}

func (f *failingStorage) Load(ctx context.Context, key string) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.Storage.Load(ctx, key)
}

func (f *failingStorage) Save(ctx context.Context, key string, value []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Storage.Save(ctx, key, value)
}

func (f *failingStorage) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Storage.Delete(ctx, key)
}

func openEmpty(t *testing.T) (*Store, *snapshot.Memory) {
	t.Helper()
	mem := snapshot.NewMemory()
	store, err := Open(context.Background(), mem, DefaultKey)
	require.NoError(t, err)
	return store, mem
}

func TestAddMergesByName(t *testing.T) {
	ctx := context.Background()
	store, mem := openEmpty(t)

	_, err := store.Add(ctx, "Combo A", "a.jpg", "100.000VND")
	require.NoError(t, err)
	line, err := store.Add(ctx, "Combo A", "other.jpg", "999")
	require.NoError(t, err)

	assert.Equal(t, domain.CartLine{Name: "Combo A", ImageURL: "a.jpg", Price: 100000, Quantity: 2}, line)
	assert.Equal(t, []domain.CartLine{line}, store.Lines())
	assert.Equal(t, int64(200000), store.Total())
	assert.Equal(t, 2, store.Count())

	raw, err := mem.Load(ctx, DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Combo A","imageUrl":"a.jpg","price":100000,"quantity":2}]`, string(raw))
}

func TestAddKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := openEmpty(t)

	for _, name := range []string{"B", "A", "B", "C"} {
		_, err := store.Add(ctx, name, "", "10")
		require.NoError(t, err)
	}
	lines := store.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "B", lines[0].Name)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "A", lines[1].Name)
	assert.Equal(t, "C", lines[2].Name)
	assert.Equal(t, 4, store.Count())
	assert.Equal(t, int64(40), store.Total())
}

func TestAddNotifies(t *testing.T) {
	var got []domain.CartLine
	notifier := NotifierFunc(func(_ context.Context, line domain.CartLine) {
		got = append(got, line)
	})
	store, err := Open(context.Background(), snapshot.NewMemory(), "", WithNotifier(notifier))
	require.NoError(t, err)

	_, err = store.Add(context.Background(), "Combo A", "a.jpg", "abc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].Price)
	assert.Equal(t, DefaultKey, store.Key())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store, mem := openEmpty(t)
	adds := []struct {
		name  string
		price string
		times int
	}{
		{"A", "1000", 1},
		{"B", "25000", 3},
		{"C", "400", 2},
	}
	for _, a := range adds {
		for i := 0; i < a.times; i++ {
			_, err := store.Add(ctx, a.name, "", a.price)
			require.NoError(t, err)
		}
	}
	totalBefore := store.Total()
	countBefore := store.Count()
	require.Equal(t, int64(1000+3*25000+2*400), totalBefore)
	require.Equal(t, 6, countBefore)

	removed, err := store.Remove(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", removed.Name)
	assert.Equal(t, []string{"A", "C"}, names(store.Lines()))
	assert.Equal(t, totalBefore-removed.Subtotal(), store.Total())
	assert.Equal(t, int64(1800), store.Total())
	assert.Equal(t, countBefore-removed.Quantity, store.Count())

	raw, err := mem.Load(ctx, DefaultKey)
	require.NoError(t, err)
	var persisted []domain.CartLine
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, store.Lines(), persisted)
}

func TestRemoveOutOfRangeLeavesCartUntouched(t *testing.T) {
	ctx := context.Background()
	store, mem := openEmpty(t)
	for _, name := range []string{"A", "B", "C"} {
		_, err := store.Add(ctx, name, "", "1000")
		require.NoError(t, err)
	}
	before, err := mem.Load(ctx, DefaultKey)
	require.NoError(t, err)

	for _, index := range []int{5, 3, -1} {
		_, err := store.Remove(ctx, index)
		assert.ErrorIs(t, err, ErrInvalidIndex)
	}
	assert.Equal(t, []string{"A", "B", "C"}, names(store.Lines()))

	after, err := mem.Load(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestClearDeletesSnapshot(t *testing.T) {
	ctx := context.Background()
	store, mem := openEmpty(t)
	_, err := store.Add(ctx, "A", "", "1")
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx))
	assert.True(t, store.Empty())
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, int64(0), store.Total())

	_, err = mem.Load(ctx, DefaultKey)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mem := openEmpty(t)
	_, err := store.Add(ctx, "Combo A", "a.jpg", "100000")
	require.NoError(t, err)
	_, err = store.Add(ctx, "Combo B", "b.jpg", "50000")
	require.NoError(t, err)
	_, err = store.Add(ctx, "Combo A", "a.jpg", "100000")
	require.NoError(t, err)

	reopened, err := Open(ctx, mem, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, store.Lines(), reopened.Lines())
	assert.Equal(t, store.Total(), reopened.Total())

	first, err := store.Snapshot()
	require.NoError(t, err)
	second, err := reopened.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestOpenRecoversFromMalformedSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := snapshot.NewMemory()
	require.NoError(t, mem.Save(ctx, DefaultKey, []byte(`{"not":"a list"`)))

	core, logs := observer.New(zapcore.WarnLevel)
	store, err := Open(ctx, mem, DefaultKey, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.True(t, store.Empty())
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].ContextMap()["error"], ErrMalformedSnapshot.Error())
}

func TestOpenNormalisesLegacyLines(t *testing.T) {
	ctx := context.Background()
	mem := snapshot.NewMemory()
	require.NoError(t, mem.Save(ctx, DefaultKey, []byte(`[
		{"name":"A","imageUrl":"a.jpg","price":1000},
		{"name":"B","price":500,"quantity":2},
		{"name":"A","price":1000,"quantity":3}
	]`)))

	store, err := Open(ctx, mem, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{
		{Name: "A", ImageURL: "a.jpg", Price: 1000, Quantity: 4},
		{Name: "B", Price: 500, Quantity: 2},
	}, store.Lines())
	assert.Equal(t, 6, store.Count())
}

func TestOpenPropagatesStorageFailure(t *testing.T) {
	storage := &failingStorage{Storage: snapshot.NewMemory(), loadErr: errors.New("redis down")}
	_, err := Open(context.Background(), storage, DefaultKey)
	assert.Error(t, err)
}

func TestFailedPersistRollsBack(t *testing.T) {
	ctx := context.Background()
	storage := &failingStorage{Storage: snapshot.NewMemory()}
	store, err := Open(ctx, storage, DefaultKey)
	require.NoError(t, err)
	_, err = store.Add(ctx, "A", "", "10")
	require.NoError(t, err)

	storage.saveErr = errors.New("disk full")
	_, err = store.Add(ctx, "A", "", "10")
	assert.Error(t, err)
	_, err = store.Remove(ctx, 0)
	assert.Error(t, err)
	assert.Equal(t, 1, store.Count())

	storage.deleteErr = errors.New("disk full")
	assert.Error(t, store.Clear(ctx))
	assert.False(t, store.Empty())
}

func TestLinesReturnsCopy(t *testing.T) {
	store, _ := openEmpty(t)
	_, err := store.Add(context.Background(), "A", "", "10")
	require.NoError(t, err)

	lines := store.Lines()
	lines[0].Quantity = 99
	assert.Equal(t, 1, store.Count())
}

func TestAddRejectsTotalAboveLimit(t *testing.T) {
	ctx := context.Background()
	store, mem := openEmpty(t)

	line, err := store.Add(ctx, "A", "", "9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, int64(0), line.Price, "prices above the limit parse as zero")

	_, err = store.Add(ctx, "B", "", "999.999.999.999.999VND")
	require.NoError(t, err)
	before := store.Lines()

	_, err = store.Add(ctx, "B", "", "1")
	require.ErrorIs(t, err, ErrTotalTooLarge)
	_, err = store.Add(ctx, "C", "", "1")
	require.ErrorIs(t, err, ErrTotalTooLarge)

	assert.Equal(t, before, store.Lines())
	assert.Equal(t, domain.MaxAmount, store.Total())
	assert.Positive(t, store.Total())

	raw, err := mem.Load(ctx, DefaultKey)
	require.NoError(t, err)
	var persisted []domain.CartLine
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, before, persisted)
}

func TestOpenDiscardsSnapshotWithOverflowingTotal(t *testing.T) {
	ctx := context.Background()
	mem := snapshot.NewMemory()
	raw := `[{"name":"A","price":500000000000000,"quantity":2},{"name":"B","price":500000000000000,"quantity":1}]`
	require.NoError(t, mem.Save(ctx, DefaultKey, []byte(raw)))

	store, err := Open(ctx, mem, DefaultKey)
	require.NoError(t, err)
	assert.True(t, store.Empty())
	assert.Equal(t, int64(0), store.Total())
}

func names(lines []domain.CartLine) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.Name)
	}
	return out
}

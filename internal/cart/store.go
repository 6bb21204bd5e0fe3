// Package cart implements the shopping cart and its persisted snapshot.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/format"
	"github.com/BUIHOANGDU/nail-store/internal/platform/snapshot"
)

// DefaultKey is the snapshot key used when no per-session key is supplied.
const DefaultKey = "cart"

// Notifier receives the confirmation signal after an item is added.
type Notifier interface {
	ItemAdded(ctx context.Context, line domain.CartLine)
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, line domain.CartLine)

// ItemAdded calls f.
func (f NotifierFunc) ItemAdded(ctx context.Context, line domain.CartLine) { f(ctx, line) }

// Store owns the cart lines and persists every mutation to its snapshot key.
type Store struct {
	storage  snapshot.Storage
	key      string
	logger   *zap.Logger
	notifier Notifier

	mu    sync.Mutex
	lines []domain.CartLine
}

// Option customises Open.
type Option func(*Store)

// WithLogger sets the logger used for snapshot diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier sets the add-to-cart confirmation receiver.
func WithNotifier(notifier Notifier) Option {
	return func(s *Store) {
		s.notifier = notifier
	}
}

// Open loads the cart persisted under key. A missing or undecodable snapshot
// yields an empty cart; only storage failures are returned.
func Open(ctx context.Context, storage snapshot.Storage, key string, opts ...Option) (*Store, error) {
	if storage == nil {
		return nil, errors.New("cart: snapshot storage is required")
	}
	if key == "" {
		key = DefaultKey
	}
	store := &Store{
		storage: storage,
		key:     key,
		logger:  zap.NewNop(),
		lines:   []domain.CartLine{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	raw, err := storage.Load(ctx, key)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("cart: load snapshot %s: %w", key, err)
	}

	lines, err := decodeSnapshot(raw)
	if err != nil {
		store.logger.Warn("cart: discarding persisted cart",
			zap.String("key", key),
			zap.Error(err),
		)
		return store, nil
	}
	store.lines = lines
	return store, nil
}

// Key returns the snapshot key.
func (s *Store) Key() string { return s.key }

// Add increments the quantity of the line called name, or appends a new line
// with quantity 1. Price and image of an existing line are left unchanged.
func (s *Store) Add(ctx context.Context, name, imageURL, priceText string) (domain.CartLine, error) {
	s.mu.Lock()
	previous := cloneLines(s.lines)

	var added domain.CartLine
	found := false
	for i := range s.lines {
		if s.lines[i].Name == name {
			s.lines[i].Quantity++
			added = s.lines[i]
			found = true
			break
		}
	}
	if !found {
		added = domain.CartLine{
			Name:     name,
			ImageURL: imageURL,
			Price:    format.ParsePrice(priceText),
			Quantity: 1,
		}
		s.lines = append(s.lines, added)
	}

	if _, ok := domain.CartTotal(s.lines); !ok {
		s.lines = previous
		s.mu.Unlock()
		return domain.CartLine{}, fmt.Errorf("%w: adding %q", ErrTotalTooLarge, name)
	}
	if err := s.persistLocked(ctx); err != nil {
		s.lines = previous
		s.mu.Unlock()
		return domain.CartLine{}, err
	}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.ItemAdded(ctx, added)
	}
	return added, nil
}

// Remove deletes the line at index.
func (s *Store) Remove(ctx context.Context, index int) (domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.lines) {
		return domain.CartLine{}, fmt.Errorf("%w: %d (cart has %d lines)", ErrInvalidIndex, index, len(s.lines))
	}
	previous := cloneLines(s.lines)
	removed := s.lines[index]
	s.lines = append(s.lines[:index:index], s.lines[index+1:]...)

	if err := s.persistLocked(ctx); err != nil {
		s.lines = previous
		return domain.CartLine{}, err
	}
	return removed, nil
}

// Clear empties the cart and deletes the persisted snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("cart: delete snapshot %s: %w", s.key, err)
	}
	s.lines = []domain.CartLine{}
	return nil
}

// Total returns the sum of price times quantity over all lines. Add and Open
// keep the total within domain.MaxAmount.
func (s *Store) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, _ := domain.CartTotal(s.lines)
	return total
}

// Count returns the sum of quantities over all lines.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, line := range s.lines {
		count += line.Quantity
	}
	return count
}

// Lines returns a copy of the cart lines in first-added order.
func (s *Store) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLines(s.lines)
}

// Empty reports whether the cart has no lines.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

// Snapshot returns the persisted representation of the current cart.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeSnapshot(s.lines)
}

func (s *Store) persistLocked(ctx context.Context) error {
	raw, err := encodeSnapshot(s.lines)
	if err != nil {
		return err
	}
	if err := s.storage.Save(ctx, s.key, raw); err != nil {
		return fmt.Errorf("cart: save snapshot %s: %w", s.key, err)
	}
	return nil
}

func encodeSnapshot(lines []domain.CartLine) ([]byte, error) {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("cart: encode snapshot: %w", err)
	}
	return raw, nil
}

// decodeSnapshot parses a persisted cart. Lines without a quantity count as
// one; repeated names are merged so a name identifies at most one line.
func decodeSnapshot(raw []byte) ([]domain.CartLine, error) {
	var decoded []domain.CartLine
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	lines := make([]domain.CartLine, 0, len(decoded))
	positions := make(map[string]int, len(decoded))
	for _, line := range decoded {
		if line.Quantity < 1 {
			line.Quantity = 1
		}
		if line.Price < 0 || line.Price > domain.MaxAmount {
			line.Price = 0
		}
		if i, ok := positions[line.Name]; ok {
			lines[i].Quantity += line.Quantity
			continue
		}
		positions[line.Name] = len(lines)
		lines = append(lines, line)
	}
	if _, ok := domain.CartTotal(lines); !ok {
		return nil, fmt.Errorf("%w: total exceeds limit", ErrMalformedSnapshot)
	}
	return lines, nil
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	return append([]domain.CartLine{}, lines...)
}

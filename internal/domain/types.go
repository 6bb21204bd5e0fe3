package domain

import (
	"time"
)

// MaxAmount is the largest price, subtotal or cart total the storefront
// accepts, in whole VND (15 digits).
const MaxAmount int64 = 999_999_999_999_999

// Category selects one of the two storefront listings.
type Category string

const (
	// CategoryHighlighted lists the featured combos.
	CategoryHighlighted Category = "highlighted"
	// CategoryGallery lists the nail gallery. Its stored type value is "top".
	CategoryGallery Category = "gallery"
)

// WireValue returns the value stored in the remote catalog's type field.
func (c Category) WireValue() string {
	switch c {
	case CategoryGallery:
		return "top"
	default:
		return "highlighted"
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryHighlighted || c == CategoryGallery
}

// CategoryFromWire maps a stored type value back to a Category. Unknown or
// empty values report false.
func CategoryFromWire(value string) (Category, bool) {
	switch value {
	case "highlighted":
		return CategoryHighlighted, true
	case "top":
		return CategoryGallery, true
	default:
		return "", false
	}
}

// CatalogItem is a normalized product entry produced by a catalog load.
type CatalogItem struct {
	Name        string
	Description string
	ImageURL    string
	Price       int64
	Category    Category
}

// CartLine is one distinct product in the cart. Name is the identity key.
type CartLine struct {
	Name     string `json:"name" firestore:"name"`
	ImageURL string `json:"imageUrl" firestore:"imageUrl"`
	Price    int64  `json:"price" firestore:"price"`
	Quantity int    `json:"quantity" firestore:"quantity"`
}

// Subtotal returns price multiplied by quantity.
func (l CartLine) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

// CartTotal returns the sum of price times quantity over lines. It reports
// false when a price is out of range or a subtotal or the running total would
// exceed MaxAmount.
func CartTotal(lines []CartLine) (int64, bool) {
	var total int64
	for _, line := range lines {
		if line.Price < 0 || line.Price > MaxAmount || line.Quantity < 0 {
			return 0, false
		}
		if line.Price > 0 && int64(line.Quantity) > MaxAmount/line.Price {
			return 0, false
		}
		sub := line.Subtotal()
		if sub > MaxAmount-total {
			return 0, false
		}
		total += sub
	}
	return total, true
}

// Order is the record written to the orders collection.
type Order struct {
	RequestID string     `json:"requestId" firestore:"requestId"`
	Items     []CartLine `json:"items" firestore:"items"`
	Total     int64      `json:"total" firestore:"total"`
	CreatedAt time.Time  `json:"createdAt" firestore:"createdAt"`
}

package material

import (
	"math"

	"github.com/shopspring/decimal"
)

// Item is a single material line of the estimate.
type Item struct {
	ID    int64   `json:"id"`
	Item  string  `json:"item"`
	Price float64 `json:"price"`
}

// Sum adds up every price in the collection using decimal arithmetic so
// repeated float additions do not drift. Infinite and NaN prices have no
// decimal value and count as zero.
func Sum(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if !finite(it.Price) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(it.Price))
	}
	return total
}

// Validate applies the only rules an item has: a non-empty name and a
// positive, finite price.
func Validate(name string, price float64) error {
	if name == "" {
		return ErrInvalidName
	}
	if !(price > 0) || !finite(price) {
		return ErrInvalidPrice
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// clone duplicates the slice so subscribers and readers never alias the store's state.
func clone(src []Item) []Item {
	out := make([]Item, len(src))
	copy(out, src)
	return out
}

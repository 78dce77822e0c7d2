package estimator

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"estimator/pkg/material"
)

// Source is the part of the store the Table reads from and deletes through.
type Source interface {
	Subscribe(ctx context.Context, fn func([]material.Item)) (func(), error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Row is one rendered table line. Rows are keyed by ID.
type Row struct {
	ID        int64
	Item      string
	Price     float64
	PriceText string
}

// Table mirrors the store's collection and keeps its total current.
type Table struct {
	store  Source
	format *Formatter

	mu          sync.RWMutex
	items       []material.Item
	total       decimal.Decimal
	onEdit      func(EditSignal)
	unsubscribe func()
}

// NewTable subscribes to store; the first snapshot is loaded before it returns.
func NewTable(ctx context.Context, store Source, format *Formatter) (*Table, error) {
	if format == nil {
		format = MustFormatter(DefaultLocale, DefaultCurrency)
	}
	t := &Table{store: store, format: format, total: decimal.Zero}
	unsubscribe, err := store.Subscribe(ctx, t.refresh)
	if err != nil {
		return nil, err
	}
	t.unsubscribe = unsubscribe
	return t, nil
}

func (t *Table) refresh(items []material.Item) {
	total := material.Sum(items)
	t.mu.Lock()
	t.items = items
	t.total = total
	t.mu.Unlock()
}

// OnEdit registers the receiver of edit signals, replacing any previous one.
func (t *Table) OnEdit(fn func(EditSignal)) {
	t.mu.Lock()
	t.onEdit = fn
	t.mu.Unlock()
}

// Rows returns the current lines, newest first.
func (t *Table) Rows() []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return NewRows(t.items, t.format)
}

// NewRows converts items into display rows.
func NewRows(items []material.Item, format *Formatter) []Row {
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, Row{
			ID:        it.ID,
			Item:      it.Item,
			Price:     it.Price,
			PriceText: format.Format(it.Price),
		})
	}
	return rows
}

// Snapshot returns the rows and their total from the same collection.
func (t *Table) Snapshot() ([]Row, decimal.Decimal) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return NewRows(t.items, t.format), t.total
}

// Len reports the number of lines.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Total is the exact sum of every price.
func (t *Table) Total() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// FormattedTotal is the total formatted for display.
func (t *Table) FormattedTotal() string {
	return t.format.FormatDecimal(t.Total())
}

// FormatPrice formats one price the way the rows show it.
func (t *Table) FormatPrice(v float64) string {
	return t.format.Format(v)
}

// Activate emits an edit signal for the row with id. It reports false when no
// such row is shown.
func (t *Table) Activate(id int64) bool {
	t.mu.RLock()
	var (
		sig   EditSignal
		found bool
	)
	for _, it := range t.items {
		if it.ID == id {
			sig = EditSignal{ID: it.ID, Item: it.Item, Price: it.Price}
			found = true
			break
		}
	}
	fn := t.onEdit
	t.mu.RUnlock()

	if found && fn != nil {
		fn(sig)
	}
	return found
}

// Delete removes the row's item from the store without confirmation.
func (t *Table) Delete(ctx context.Context, id int64) (bool, error) {
	return t.store.Delete(ctx, id)
}

// Close stops following the store.
func (t *Table) Close() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

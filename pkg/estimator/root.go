package estimator

import (
	"context"
	"sync"
)

// EditTarget is the item currently loaded into the Form. The zero value means
// nothing is being edited.
type EditTarget struct {
	ID    int64
	Item  string
	Price float64
}

// EditSignal is emitted by the Table when a row is activated.
type EditSignal struct {
	ID    int64
	Item  string
	Price float64
}

// Store is everything the page needs from the item store.
type Store interface {
	Editor
	Source
}

// Root owns the edit target shared by the Form and the Table.
type Root struct {
	form  *Form
	table *Table

	mu     sync.Mutex
	target EditTarget
}

// NewRoot wires a Form and a Table over the same store.
func NewRoot(ctx context.Context, store Store, format *Formatter) (*Root, error) {
	table, err := NewTable(ctx, store, format)
	if err != nil {
		return nil, err
	}
	r := &Root{form: NewForm(store), table: table}
	r.form.endSession = r.EndEditSession
	table.OnEdit(r.Edit)
	return r, nil
}

// Edit replaces the target with the signal's item and loads it into the Form.
func (r *Root) Edit(sig EditSignal) {
	target := EditTarget(sig)
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
	r.form.SetProps(target)
}

// EndEditSession clears the target and the Form, returning the page to add mode.
func (r *Root) EndEditSession() {
	r.mu.Lock()
	r.target = EditTarget{}
	r.mu.Unlock()
	r.form.SetProps(EditTarget{})
}

// Target returns the item being edited, if any.
func (r *Root) Target() EditTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Form returns the page's form.
func (r *Root) Form() *Form { return r.form }

// Table returns the page's table.
func (r *Root) Table() *Table { return r.table }

// Close releases the Table's subscription.
func (r *Root) Close() {
	r.table.Close()
}

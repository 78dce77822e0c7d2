package estimator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"estimator/pkg/material"
)

// Mode is the Form's operating state.
type Mode string

const (
	ModeAdd  Mode = "add"
	ModeEdit Mode = "edit"
)

// ErrCannotSubmit is returned by Submit when the name is empty or the price is not positive.
var ErrCannotSubmit = errors.New("form cannot be submitted")

// ErrItemGone is returned by Submit in edit mode when the item was deleted
// before the changes were saved. The form is still cleared.
var ErrItemGone = errors.New("item no longer exists")

// Editor is the part of the store the Form writes to.
type Editor interface {
	Add(ctx context.Context, name string, price float64) (material.Item, error)
	UpdateMaterial(ctx context.Context, name string, price float64, id int64) (bool, error)
}

// Form collects one item's name and price. With an id it edits that item,
// without one it adds a new item.
type Form struct {
	store Editor

	mu    sync.Mutex
	id    int64
	item  string
	price float64

	// endSession is invoked after Submit and Cancel so the owner can drop its edit target.
	endSession func()
}

// NewForm returns an empty form in add mode.
func NewForm(store Editor) *Form {
	return &Form{store: store}
}

// SetProps loads the values handed down by the parent.
func (f *Form) SetProps(t EditTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id, f.item, f.price = t.ID, t.Item, t.Price
}

// SetInput records what the user typed.
func (f *Form) SetInput(item string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.item, f.price = item, price
}

// Values returns the current id, name and price.
func (f *Form) Values() EditTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return EditTarget{ID: f.id, Item: f.item, Price: f.price}
}

// Mode is edit while an id is loaded, add otherwise.
func (f *Form) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode()
}

func (f *Form) mode() Mode {
	if f.id != 0 {
		return ModeEdit
	}
	return ModeAdd
}

// CanSubmit reports whether the name is non-empty and the price positive.
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return material.Validate(f.item, f.price) == nil
}

// SubmitLabel is the caption of the submit button.
func (f *Form) SubmitLabel() string {
	return string(f.Mode())
}

// Submit adds or updates the item depending on the mode, then clears the form
// and ends the edit session. An invalid form leaves the store untouched.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	if err := material.Validate(f.item, f.price); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCannotSubmit, err)
	}

	var err error
	found := true
	switch f.mode() {
	case ModeAdd:
		_, err = f.store.Add(ctx, f.item, f.price)
	case ModeEdit:
		found, err = f.store.UpdateMaterial(ctx, f.item, f.price, f.id)
	}
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.id, f.item, f.price = 0, "", 0
	end := f.endSession
	f.mu.Unlock()

	if end != nil {
		end()
	}
	if !found {
		return ErrItemGone
	}
	return nil
}

// Cancel abandons the edit: the fields are cleared and the form returns to add mode.
func (f *Form) Cancel() {
	f.mu.Lock()
	f.id, f.item, f.price = 0, "", 0
	end := f.endSession
	f.mu.Unlock()

	if end != nil {
		end()
	}
}

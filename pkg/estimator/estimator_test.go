package estimator

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"estimator/pkg/material"
	"estimator/pkg/storage/memkv"
)

func newStore(t *testing.T) *material.Store {
	t.Helper()
	store, err := material.Open(context.Background(), memkv.New())
	if err != nil {
		t.Fatalf("material.Open() error = %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func newRoot(t *testing.T, store *material.Store) *Root {
	t.Helper()
	root, err := NewRoot(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("NewRoot() error = %v", err)
	}
	t.Cleanup(root.Close)
	return root
}

func list(t *testing.T, store *material.Store) []material.Item {
	t.Helper()
	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return items
}

func TestFormModeFollowsID(t *testing.T) {
	form := NewForm(newStore(t))
	if form.Mode() != ModeAdd || form.SubmitLabel() != "add" {
		t.Fatalf("fresh form mode = %s", form.Mode())
	}
	form.SetProps(EditTarget{ID: 7, Item: "Wood", Price: 10})
	if form.Mode() != ModeEdit || form.SubmitLabel() != "edit" {
		t.Fatalf("mode with id = %s", form.Mode())
	}
	if v := form.Values(); v.Item != "Wood" || v.Price != 10 {
		t.Fatalf("props not loaded: %+v", v)
	}
}

func TestFormCanSubmit(t *testing.T) {
	form := NewForm(newStore(t))
	cases := []struct {
		item  string
		price float64
		want  bool
	}{
		{"Wood", 10, true},
		{"", 10, false},
		{" ", 10, true},
		{"Wood", 0, false},
		{"Wood", -3, false},
		{"Glue", 0.01, true},
	}
	for _, tc := range cases {
		form.SetInput(tc.item, tc.price)
		if got := form.CanSubmit(); got != tc.want {
			t.Errorf("CanSubmit(%q, %v) = %v, want %v", tc.item, tc.price, got, tc.want)
		}
	}
}

func TestFormRejectsInvalidSubmission(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	wood, _ := store.Add(ctx, "Wood", 10)

	for _, mode := range []Mode{ModeAdd, ModeEdit} {
		for _, input := range []EditTarget{{Item: "", Price: 4}, {Item: "Oak", Price: 0}, {Item: "Oak", Price: -1}} {
			form := NewForm(store)
			if mode == ModeEdit {
				form.SetProps(EditTarget{ID: wood.ID, Item: wood.Item, Price: wood.Price})
			}
			form.SetInput(input.Item, input.Price)

			err := form.Submit(ctx)
			if !errors.Is(err, ErrCannotSubmit) {
				t.Fatalf("%s %+v: Submit() error = %v, want ErrCannotSubmit", mode, input, err)
			}
			items := list(t, store)
			if len(items) != 1 || items[0] != wood {
				t.Fatalf("%s %+v: store changed to %+v", mode, input, items)
			}
		}
	}
}

func TestFormSubmitAddsAndClears(t *testing.T) {
	store := newStore(t)
	form := NewForm(store)
	form.SetInput("Wood", 10)

	if err := form.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	items := list(t, store)
	if len(items) != 1 || items[0].Item != "Wood" || items[0].Price != 10 {
		t.Fatalf("store = %+v", items)
	}
	if v := form.Values(); v != (EditTarget{}) {
		t.Fatalf("form not cleared: %+v", v)
	}
}

func TestFormSubmitEditUpdatesInPlace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	wood, _ := store.Add(ctx, "Wood", 10)
	store.Add(ctx, "Glue", 5)

	form := NewForm(store)
	form.SetProps(EditTarget{ID: wood.ID, Item: "Wood", Price: 10})
	form.SetInput("Paint", 20)
	if err := form.Submit(ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	items := list(t, store)
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[1] != (material.Item{ID: wood.ID, Item: "Paint", Price: 20}) {
		t.Fatalf("edited item = %+v", items[1])
	}
	if form.Mode() != ModeAdd {
		t.Fatalf("mode after edit submit = %s, want add", form.Mode())
	}
}

func TestFormSubmitEditOfDeletedItem(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	wood, _ := store.Add(ctx, "Wood", 10)

	form := NewForm(store)
	ended := 0
	form.endSession = func() { ended++ }
	form.SetProps(EditTarget{ID: wood.ID, Item: wood.Item, Price: wood.Price})
	if _, err := store.Delete(ctx, wood.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	form.SetInput("Oak", 12)

	if err := form.Submit(ctx); !errors.Is(err, ErrItemGone) {
		t.Fatalf("Submit() error = %v, want ErrItemGone", err)
	}
	if items := list(t, store); len(items) != 0 {
		t.Fatalf("store = %+v, want empty", items)
	}
	if form.Mode() != ModeAdd || form.Values() != (EditTarget{}) {
		t.Fatalf("form not cleared: %s %+v", form.Mode(), form.Values())
	}
	if ended != 1 {
		t.Fatalf("edit session ended %d times, want 1", ended)
	}
}

func TestFormCancelReturnsToAdd(t *testing.T) {
	form := NewForm(newStore(t))
	form.SetProps(EditTarget{ID: 3, Item: "Wood", Price: 10})
	form.Cancel()
	if form.Mode() != ModeAdd {
		t.Fatalf("mode = %s", form.Mode())
	}
	if v := form.Values(); v != (EditTarget{}) {
		t.Fatalf("values = %+v", v)
	}
}

func TestTableFollowsStore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	store.Add(ctx, "Wood", 10)

	table, err := NewTable(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	defer table.Close()
	if table.Len() != 1 {
		t.Fatalf("initial rows = %d", table.Len())
	}

	glue, _ := store.Add(ctx, "Glue", 5)
	rows := table.Rows()
	if len(rows) != 2 || rows[0].ID != glue.ID {
		t.Fatalf("rows = %+v", rows)
	}
	if table.Total().String() != "15" {
		t.Fatalf("total = %s", table.Total())
	}
	if !strings.Contains(rows[0].PriceText, "5.00") {
		t.Fatalf("price text = %q", rows[0].PriceText)
	}
	if got := table.FormattedTotal(); !strings.Contains(got, "15.00") {
		t.Fatalf("formatted total = %q", got)
	}
	if got := table.FormatPrice(2.5); !strings.Contains(got, "2.50") {
		t.Fatalf("FormatPrice(2.5) = %q", got)
	}

	removed, err := table.Delete(ctx, glue.ID)
	if err != nil || !removed {
		t.Fatalf("Delete() removed=%v err=%v", removed, err)
	}
	if table.Len() != 1 || table.Total().String() != "10" {
		t.Fatalf("after delete rows=%d total=%s", table.Len(), table.Total())
	}

	table.Close()
	store.Add(ctx, "Nails", 3)
	if table.Len() != 1 {
		t.Fatalf("closed table still updating: %d rows", table.Len())
	}
}

func TestTableActivateEmitsEditSignal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	wood, _ := store.Add(ctx, "Wood", 10)

	table, err := NewTable(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	defer table.Close()

	var got []EditSignal
	table.OnEdit(func(sig EditSignal) { got = append(got, sig) })

	if !table.Activate(wood.ID) {
		t.Fatal("Activate() = false for a shown row")
	}
	if table.Activate(wood.ID + 1) {
		t.Fatal("Activate() = true for an unknown row")
	}
	if len(got) != 1 || got[0] != (EditSignal{ID: wood.ID, Item: "Wood", Price: 10}) {
		t.Fatalf("signals = %+v", got)
	}
}

func TestRootRoutesEditIntoForm(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	wood, _ := store.Add(ctx, "Wood", 10)
	root := newRoot(t, store)

	if root.Form().Mode() != ModeAdd || root.Target() != (EditTarget{}) {
		t.Fatal("root should start in add mode with an empty target")
	}

	root.Table().Activate(wood.ID)
	if root.Target().ID != wood.ID {
		t.Fatalf("target = %+v", root.Target())
	}
	if root.Form().Mode() != ModeEdit || root.Form().Values().Item != "Wood" {
		t.Fatalf("form not in edit mode: %+v", root.Form().Values())
	}

	root.Form().SetInput("Oak", 12)
	if err := root.Form().Submit(ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if root.Target() != (EditTarget{}) {
		t.Fatalf("edit session not ended: %+v", root.Target())
	}
	if root.Form().SubmitLabel() != "add" {
		t.Fatalf("label after edit = %q", root.Form().SubmitLabel())
	}
}

func TestRootCancelEndsSession(t *testing.T) {
	store := newStore(t)
	wood, _ := store.Add(context.Background(), "Wood", 10)
	root := newRoot(t, store)

	root.Table().Activate(wood.ID)
	root.Form().Cancel()
	if root.Target() != (EditTarget{}) || root.Form().Mode() != ModeAdd {
		t.Fatalf("after cancel target=%+v mode=%s", root.Target(), root.Form().Mode())
	}
	if items := list(t, store); items[0] != wood {
		t.Fatalf("cancel changed the store: %+v", items)
	}
}

func TestEstimateScenarioThroughComponents(t *testing.T) {
	store := newStore(t)
	root := newRoot(t, store)
	ctx := context.Background()
	form, table := root.Form(), root.Table()

	submit := func(item string, price float64) {
		t.Helper()
		form.SetInput(item, price)
		if err := form.Submit(ctx); err != nil {
			t.Fatalf("Submit(%s) error = %v", item, err)
		}
	}
	idOf := func(name string) int64 {
		t.Helper()
		for _, row := range table.Rows() {
			if row.Item == name {
				return row.ID
			}
		}
		t.Fatalf("row %q not found", name)
		return 0
	}

	submit("Nails", 3)
	submit("Screws", 2)
	if got := table.Total().String(); got != "5" {
		t.Fatalf("total = %s, want 5", got)
	}

	table.Activate(idOf("Nails"))
	submit("Nails", 4)
	if got := table.Total().String(); got != "6" {
		t.Fatalf("total = %s, want 6", got)
	}

	if _, err := table.Delete(ctx, idOf("Screws")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := table.Total().String(); got != "4" || table.Len() != 1 {
		t.Fatalf("total = %s len = %d, want 4 and 1", got, table.Len())
	}
}

func TestFormatter(t *testing.T) {
	f, err := NewFormatter("", "")
	if err != nil {
		t.Fatalf("NewFormatter() error = %v", err)
	}
	if f.Currency() != "USD" || f.Locale().String() != "en-US" {
		t.Fatalf("defaults = %s %s", f.Locale(), f.Currency())
	}
	out := f.Format(15)
	if !strings.Contains(out, "$") || !strings.Contains(out, "15.00") {
		t.Fatalf("Format(15) = %q", out)
	}
	if got := f.Format(math.Inf(1)); got != "+Inf" {
		t.Fatalf("Format(+Inf) = %q", got)
	}

	if _, err := NewFormatter("not a locale!", "USD"); err == nil {
		t.Fatal("expected locale error")
	}
	if _, err := NewFormatter("en-US", "ZZZZ"); err == nil {
		t.Fatal("expected currency error")
	}
}

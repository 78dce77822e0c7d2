package material_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"estimator/pkg/material"
	"estimator/pkg/storage/memkv"
)

func openStore(t *testing.T, kv *memkv.Store, opts ...material.Option) *material.Store {
	t.Helper()
	store, err := material.Open(context.Background(), kv, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func fixedClock() func() time.Time {
	at := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return at }
}

func mustList(t *testing.T, s *material.Store) []material.Item {
	t.Helper()
	items, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return items
}

func assertTotalMatches(t *testing.T, s *material.Store) {
	t.Helper()
	items := mustList(t, s)
	var want float64
	for _, it := range items {
		want += it.Price
	}
	total, err := s.Total(context.Background())
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if got, _ := total.Float64(); got != want {
		t.Fatalf("total = %v, want %v", got, want)
	}
}

func TestAddPrependsNewestFirst(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()

	if _, err := s.Add(ctx, "Wood", 10); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := s.Add(ctx, "Glue", 5); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	items := mustList(t, s)
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Item != "Glue" || items[1].Item != "Wood" {
		t.Fatalf("order = %q, %q", items[0].Item, items[1].Item)
	}
	total, _ := s.Total(ctx)
	if !total.Equal(material.Sum([]material.Item{{Price: 15}})) {
		t.Fatalf("total = %s, want 15", total)
	}
}

func TestIDsStayUniqueWithinTheSameMillisecond(t *testing.T) {
	s := openStore(t, memkv.New(), material.WithClock(fixedClock()))
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		it, err := s.Add(ctx, "Nail", 1)
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if seen[it.ID] {
			t.Fatalf("duplicate id %d", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestUpdateMaterial(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()
	wood, _ := s.Add(ctx, "Wood", 10)
	s.Add(ctx, "Glue", 5)

	found, err := s.UpdateMaterial(ctx, "Paint", 20, wood.ID)
	if err != nil || !found {
		t.Fatalf("UpdateMaterial() found=%v err=%v", found, err)
	}
	items := mustList(t, s)
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[1] != (material.Item{ID: wood.ID, Item: "Paint", Price: 20}) {
		t.Fatalf("updated item = %+v", items[1])
	}

	before := mustList(t, s)
	found, err = s.UpdateMaterial(ctx, "Ghost", 99, 42)
	if err != nil || found {
		t.Fatalf("UpdateMaterial(unknown) found=%v err=%v", found, err)
	}
	after := mustList(t, s)
	if len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Fatalf("collection changed on unknown id: %+v -> %+v", before, after)
	}
	assertTotalMatches(t, s)
}

func TestDelete(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()
	wood, _ := s.Add(ctx, "Wood", 10)
	glue, _ := s.Add(ctx, "Glue", 5)

	if removed, err := s.Delete(ctx, 12345); err != nil || removed {
		t.Fatalf("Delete(unknown) removed=%v err=%v", removed, err)
	}
	if n := len(mustList(t, s)); n != 2 {
		t.Fatalf("len after unknown delete = %d", n)
	}
	if removed, err := s.Delete(ctx, wood.ID); err != nil || !removed {
		t.Fatalf("Delete() removed=%v err=%v", removed, err)
	}
	assertTotalMatches(t, s)
	s.Delete(ctx, glue.ID)

	if n := len(mustList(t, s)); n != 0 {
		t.Fatalf("len = %d, want 0", n)
	}
	total, _ := s.Total(ctx)
	if !total.IsZero() {
		t.Fatalf("total = %s, want 0", total)
	}
}

func TestTotalInvariantAcrossMutations(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()

	var ids []int64
	for i, price := range []float64{0.1, 0.2, 3, 4.75, 100} {
		it, err := s.Add(ctx, "m", price)
		if err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
		ids = append(ids, it.ID)
		assertTotalMatchesDecimal(t, s)
	}
	s.UpdateMaterial(ctx, "m", 7.5, ids[2])
	assertTotalMatchesDecimal(t, s)
	s.Delete(ctx, ids[0])
	assertTotalMatchesDecimal(t, s)

	total, _ := s.Total(ctx)
	if total.String() != "112.45" {
		t.Fatalf("total = %s, want 112.45", total)
	}
}

func assertTotalMatchesDecimal(t *testing.T, s *material.Store) {
	t.Helper()
	total, err := s.Total(context.Background())
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if want := material.Sum(mustList(t, s)); !total.Equal(want) {
		t.Fatalf("total = %s, want %s", total, want)
	}
}

func TestEveryMutationIsPersisted(t *testing.T) {
	kv := memkv.New()
	s := openStore(t, kv)
	ctx := context.Background()

	persisted := func() []material.Item {
		t.Helper()
		data, ok, err := kv.Get(ctx, material.DefaultKey)
		if err != nil || !ok {
			t.Fatalf("persisted value missing: ok=%v err=%v", ok, err)
		}
		items, err := material.Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		return items
	}

	wood, _ := s.Add(ctx, "Wood", 10)
	if got := persisted(); len(got) != 1 || got[0] != wood {
		t.Fatalf("after add persisted = %+v", got)
	}
	s.UpdateMaterial(ctx, "Oak", 12, wood.ID)
	if got := persisted(); got[0].Item != "Oak" || got[0].Price != 12 {
		t.Fatalf("after update persisted = %+v", got)
	}
	s.Delete(ctx, wood.ID)
	if got := persisted(); len(got) != 0 {
		t.Fatalf("after delete persisted = %+v", got)
	}
	s.Set(ctx, []material.Item{{ID: 7, Item: "Glue", Price: 5}})
	if got := persisted(); len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("after set persisted = %+v", got)
	}
}

func TestHydratesFromBackend(t *testing.T) {
	kv := memkv.New()
	ctx := context.Background()
	kv.Put(ctx, "custom", []byte(`[{"id":1700000000005,"item":"Glue","price":5},{"id":1700000000001,"item":"Wood","price":10}]`))

	s := openStore(t, kv, material.WithKey("custom"), material.WithClock(fixedClock()))
	items := mustList(t, s)
	if len(items) != 2 || items[0].Item != "Glue" {
		t.Fatalf("hydrated = %+v", items)
	}

	// The clock is behind the hydrated ids; new ids must still move past them.
	it, _ := s.Add(ctx, "Nails", 3)
	if it.ID <= 1700000000005 {
		t.Fatalf("new id %d collides with hydrated ids", it.ID)
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	ops       []string
	persisted []error
	hydrated  []error
}

func (o *recordingObserver) Mutated(op string, _ []material.Item) {
	o.mu.Lock()
	o.ops = append(o.ops, op)
	o.mu.Unlock()
}

func (o *recordingObserver) PersistFailed(err error) {
	o.mu.Lock()
	o.persisted = append(o.persisted, err)
	o.mu.Unlock()
}

func (o *recordingObserver) HydrateFailed(err error) {
	o.mu.Lock()
	o.hydrated = append(o.hydrated, err)
	o.mu.Unlock()
}

func TestMalformedPersistedDataStartsEmpty(t *testing.T) {
	for _, payload := range []string{`not json`, `{"id":1}`, `[1,2,3]`, `[{"id":"x","item":"Wood","price":1}]`} {
		t.Run(payload, func(t *testing.T) {
			kv := memkv.New()
			kv.Put(context.Background(), material.DefaultKey, []byte(payload))
			obs := &recordingObserver{}

			s := openStore(t, kv, material.WithObserver(obs))
			if n := len(mustList(t, s)); n != 0 {
				t.Fatalf("len = %d, want 0", n)
			}
			if len(obs.hydrated) != 1 {
				t.Fatalf("hydrate failures = %d, want 1", len(obs.hydrated))
			}
			var readErr *material.ReadError
			if !errors.As(obs.hydrated[0], &readErr) || readErr.Key != material.DefaultKey {
				t.Fatalf("hydrate error = %v", obs.hydrated[0])
			}
		})
	}
}

func TestWriteFailureIsNotFatal(t *testing.T) {
	kv := memkv.New()
	kv.SetFailure(errors.New("quota exceeded"))
	obs := &recordingObserver{}

	var handled []error
	s := openStore(t, kv, material.WithObserver(obs), material.WithPersistErrorHandler(func(err error) {
		handled = append(handled, err)
	}))
	ctx := context.Background()

	it, err := s.Add(ctx, "Wood", 10)
	if err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}
	if items := mustList(t, s); len(items) != 1 || items[0] != it {
		t.Fatalf("in-memory collection = %+v", items)
	}
	if len(handled) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(handled))
	}
	var writeErr *material.WriteError
	if !errors.As(handled[0], &writeErr) {
		t.Fatalf("handler error = %T", handled[0])
	}
	if len(obs.persisted) != 1 || len(obs.ops) != 1 || obs.ops[0] != "add" {
		t.Fatalf("observer = ops %v persisted %v", obs.ops, obs.persisted)
	}
}

func TestNonFinitePricesDoNotStopTheStore(t *testing.T) {
	kv := memkv.New()
	obs := &recordingObserver{}
	var handled []error
	s := openStore(t, kv, material.WithObserver(obs), material.WithPersistErrorHandler(func(err error) {
		handled = append(handled, err)
	}))
	ctx := context.Background()

	var seen [][]material.Item
	if _, err := s.Subscribe(ctx, func(items []material.Item) { seen = append(seen, items) }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := s.Add(ctx, "Wood", 10); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := s.Add(ctx, "Glass", math.Inf(1)); err != nil {
		t.Fatalf("Add(+Inf) error = %v", err)
	}
	if err := s.Set(ctx, append(mustList(t, s), material.Item{ID: 1, Item: "Dust", Price: math.NaN()})); err != nil {
		t.Fatalf("Set(NaN) error = %v", err)
	}

	total, err := s.Total(ctx)
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if total.String() != "10" {
		t.Fatalf("total = %s, want 10", total)
	}
	if len(seen) != 3 {
		t.Fatalf("subscriber calls = %d, want 3", len(seen))
	}
	if len(handled) != 2 {
		t.Fatalf("persist failures = %d, want 2", len(handled))
	}
	if _, err := s.Add(ctx, "Nails", 2); err != nil {
		t.Fatalf("store stopped answering: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()
	s.Add(ctx, "Wood", 10)

	var mu sync.Mutex
	var calls [][]material.Item
	unsubscribe, err := s.Subscribe(ctx, func(items []material.Item) {
		mu.Lock()
		calls = append(calls, items)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	mu.Lock()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("immediate call = %+v", calls)
	}
	mu.Unlock()

	s.Add(ctx, "Glue", 5)
	mu.Lock()
	if len(calls) != 2 || len(calls[1]) != 2 || calls[1][0].Item != "Glue" {
		t.Fatalf("calls after add = %+v", calls)
	}
	mu.Unlock()

	unsubscribe()
	s.Add(ctx, "Nails", 3)
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("callback ran after unsubscribe: %d calls", len(calls))
	}
}

func TestSubscribersGetCopies(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()
	s.Add(ctx, "Wood", 10)

	s.Subscribe(ctx, func(items []material.Item) {
		for i := range items {
			items[i].Price = -1
		}
	})
	if items := mustList(t, s); items[0].Price != 10 {
		t.Fatalf("subscriber mutated store state: %+v", items)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := material.Open(context.Background(), memkv.New())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Close()
	s.Close()

	if _, err := s.Add(context.Background(), "Wood", 1); !errors.Is(err, material.ErrClosed) {
		t.Fatalf("Add() after Close error = %v, want ErrClosed", err)
	}
}

func TestOpenRequiresBackend(t *testing.T) {
	if _, err := material.Open(context.Background(), nil); err == nil {
		t.Fatal("expected error without backend")
	}
}

func TestEstimateScenario(t *testing.T) {
	s := openStore(t, memkv.New())
	ctx := context.Background()
	total := func() string {
		v, err := s.Total(ctx)
		if err != nil {
			t.Fatalf("Total() error = %v", err)
		}
		return v.String()
	}

	nails, _ := s.Add(ctx, "Nails", 3)
	screws, _ := s.Add(ctx, "Screws", 2)
	if got := total(); got != "5" {
		t.Fatalf("total = %s, want 5", got)
	}
	s.UpdateMaterial(ctx, "Nails", 4, nails.ID)
	if got := total(); got != "6" {
		t.Fatalf("total = %s, want 6", got)
	}
	s.Delete(ctx, screws.ID)
	if got := total(); got != "4" {
		t.Fatalf("total = %s, want 4", got)
	}
	if n := len(mustList(t, s)); n != 1 {
		t.Fatalf("len = %d, want 1", n)
	}
}

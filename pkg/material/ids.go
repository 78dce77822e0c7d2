package material

import "time"

// idGenerator hands out millisecond-timestamp identifiers that never repeat,
// even when several items are created within the same millisecond.
type idGenerator struct {
	now  func() time.Time
	last int64
}

func newIDGenerator(now func() time.Time) *idGenerator {
	if now == nil {
		now = time.Now
	}
	return &idGenerator{now: now}
}

// observe raises the floor so ids loaded from storage are never handed out again.
func (g *idGenerator) observe(items []Item) {
	for _, it := range items {
		if it.ID > g.last {
			g.last = it.ID
		}
	}
}

func (g *idGenerator) next() int64 {
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

package board

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"board-api/domain"
	"board-api/reorder"
	"board-api/storage"
)

// memStore keeps collections in insertion order. fail, when set, is consulted
// before every write.
type memStore struct {
	mu      sync.Mutex
	cols    map[domain.Collection][]domain.Item
	fail    func(kind string, c domain.Collection, id string) error
	writes  int
	evicted []domain.Collection
}

func newMemStore() *memStore {
	return &memStore{cols: map[domain.Collection][]domain.Item{}}
}

func (m *memStore) List(_ context.Context, c domain.Collection) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Item{}, m.cols[c]...), nil
}

func (m *memStore) Get(_ context.Context, c domain.Collection, id string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.cols[c] {
		if it.ID == id {
			cp := it
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Create(_ context.Context, c domain.Collection, item domain.Item) (string, error) {
	if err := m.check("create", c, item.ID); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	m.cols[c] = append(m.cols[c], item)
	return item.ID, nil
}

func (m *memStore) Update(_ context.Context, c domain.Collection, id string, p storage.Patch) error {
	if err := m.check("update", c, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	items := m.cols[c]
	for i := range items {
		if items[i].ID != id {
			continue
		}
		if p.Title != nil {
			items[i].Title = *p.Title
		}
		if p.Order != nil {
			items[i].Order = *p.Order
		}
		if p.UpdatedAt != nil {
			at := *p.UpdatedAt
			items[i].UpdatedAt = &at
		}
		return nil
	}
	return domain.ErrNotFound
}

func (m *memStore) Delete(_ context.Context, c domain.Collection, id string) error {
	if err := m.check("delete", c, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	items := m.cols[c]
	for i := range items {
		if items[i].ID == id {
			m.cols[c] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) Evict(_ context.Context, cols ...domain.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, cols...)
}

func (m *memStore) check(kind string, c domain.Collection, id string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(kind, c, id)
}

func (m *memStore) seed(c domain.Collection, ids ...string) {
	for i, id := range ids {
		m.cols[c] = append(m.cols[c], domain.Item{ID: id, Title: id, Order: i})
	}
}

func (m *memStore) orders(c domain.Collection) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, it := range m.cols[c] {
		out[it.ID] = it.Order
	}
	return out
}

// atomicStore adds a Transactor that either applies plans in full or
// rejects them.
type atomicStore struct {
	*memStore
	calls  int
	reject bool
}

func (a *atomicStore) ApplyAtomic(ctx context.Context, plan reorder.Plan) error {
	a.calls++
	if a.reject {
		return storage.ErrNotAtomic
	}
	for _, op := range plan.Ops {
		var err error
		switch op.Kind {
		case reorder.OpCreate:
			_, err = a.Create(ctx, op.Collection, op.Item)
		case reorder.OpUpdate:
			err = a.Update(ctx, op.Collection, op.ID, storage.OrderPatch(op.Order))
		case reorder.OpDelete:
			err = a.Delete(ctx, op.Collection, op.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var errBoom = errors.New("boom")

package storage

import (
	"context"
	"errors"
	"time"

	"board-api/domain"
	"board-api/reorder"
)

// ErrNotAtomic is returned by Transactor implementations that cannot apply the
// given plan inside a single transaction. Callers fall back to independent writes.
var ErrNotAtomic = errors.New("plan cannot be applied atomically")

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title     *string
	Order     *int
	UpdatedAt *time.Time
}

// Store is the document store the board service reads snapshots from and
// writes plans to. Each call is independently atomic; nothing spans documents.
type Store interface {
	// List returns every record of the collection in store order.
	List(ctx context.Context, c domain.Collection) ([]domain.Item, error)
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, c domain.Collection, id string) (*domain.Item, error)
	// Create stores item and returns its identifier, minting one when item.ID is empty.
	Create(ctx context.Context, c domain.Collection, item domain.Item) (string, error)
	Update(ctx context.Context, c domain.Collection, id string, p Patch) error
	// Delete succeeds when the record is already gone.
	Delete(ctx context.Context, c domain.Collection, id string) error
}

// Transactor is implemented by stores able to apply a whole write plan at once.
type Transactor interface {
	ApplyAtomic(ctx context.Context, plan reorder.Plan) error
}

// OrderPatch pins only the order of a record.
func OrderPatch(order int) Patch {
	return Patch{Order: &order}
}

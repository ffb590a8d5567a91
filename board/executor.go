package board

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"board-api/domain"
	"board-api/reorder"
	"board-api/storage"
)

// Evicter is implemented by stores that cache collection snapshots.
type Evicter interface {
	Evict(ctx context.Context, cols ...domain.Collection)
}

// ExecutorOptions selects how plans reach the store.
type ExecutorOptions struct {
	// Atomic applies plans in one transaction when the store supports it.
	Atomic bool
	// Concurrency bounds the number of in-flight writes. Zero means 16.
	Concurrency int
}

// Executor applies reorder plans to a store.
type Executor struct {
	store  storage.Store
	atomic bool
	limit  int
	log    *log.Logger
}

func NewExecutor(store storage.Store, opts ExecutorOptions, logger *log.Logger) *Executor {
	if store == nil {
		panic("store is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 16
	}
	return &Executor{store: store, atomic: opts.Atomic, limit: limit, log: logger}
}

// Apply writes every op of the plan and waits for all of them to settle.
//
// Outside atomic mode the writes are independent: a failed write is logged
// and the rest still run, nothing is retried or rolled back. The exception is
// a failed create: the copy never reached the target, so the rest of the plan
// is skipped and both containers keep their stored arrangement. The first
// error is returned.
//
// Writes are detached from ctx cancellation. Once a plan starts, every op is
// issued and awaited even if the caller goes away.
func (x *Executor) Apply(ctx context.Context, plan reorder.Plan) error {
	if plan.Empty() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	if x.atomic {
		if tr, ok := x.store.(storage.Transactor); ok {
			err := tr.ApplyAtomic(ctx, plan)
			if err == nil {
				return nil
			}
			if !errors.Is(err, storage.ErrNotAtomic) {
				x.log.WithFields(log.Fields{
					"ops":         len(plan.Ops),
					"collections": len(plan.Collections()),
				}).Errorf("atomic plan failed: %v", err)
				return err
			}
			x.log.Debugf("plan of %d ops not atomic, applying concurrently", len(plan.Ops))
		}
	}

	err := x.applyConcurrently(ctx, plan)
	if ev, ok := x.store.(Evicter); ok {
		ev.Evict(ctx, plan.Collections()...)
	}
	return err
}

func (x *Executor) applyConcurrently(ctx context.Context, plan reorder.Plan) error {
	for _, op := range plan.Creates() {
		if err := x.applyOp(ctx, op); err != nil {
			x.log.WithFields(log.Fields{
				"ops":        len(plan.Ops),
				"collection": op.Collection.String(),
			}).Warn("create failed, remaining plan writes skipped")
			return err
		}
	}

	var g errgroup.Group
	g.SetLimit(x.limit)
	for _, op := range plan.Ops {
		if op.Kind == reorder.OpCreate {
			continue
		}
		g.Go(func() error {
			return x.applyOp(ctx, op)
		})
	}
	return g.Wait()
}

func (x *Executor) applyOp(ctx context.Context, op reorder.Op) error {
	var err error
	switch op.Kind {
	case reorder.OpCreate:
		_, err = x.store.Create(ctx, op.Collection, op.Item)
	case reorder.OpUpdate:
		err = x.store.Update(ctx, op.Collection, op.ID, storage.OrderPatch(op.Order))
	case reorder.OpDelete:
		err = x.store.Delete(ctx, op.Collection, op.ID)
	default:
		err = fmt.Errorf("unsupported op kind %d", op.Kind)
	}
	if err != nil {
		x.log.WithFields(log.Fields{
			"op":         op.Kind.String(),
			"collection": op.Collection.String(),
			"id":         op.ID,
			"order":      op.Order,
		}).Errorf("plan write failed: %v", err)
	}
	return err
}

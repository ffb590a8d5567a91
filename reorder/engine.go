// Package reorder computes the order rewrites behind drag and drop moves.
//
// Every function is pure over the snapshots it is given: the caller supplies
// the current sibling sequences (sorted ascending by order) and receives a
// write plan. Nothing here reads from or writes to a store.
package reorder

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"board-api/domain"
)

// End appends the moved item after the last sibling. Any negative target
// index behaves the same way.
const End = -1

// Engine turns move instructions into write plans.
type Engine struct {
	// NewID mints the identifier of a record copied into another container.
	NewID func() string
	// Now stamps UpdatedAt on copied records.
	Now func() time.Time
}

// New returns an Engine minting UUIDs and using the wall clock.
func New() *Engine {
	return &Engine{NewID: uuid.NewString, Now: time.Now}
}

// MoveWithinContainer moves itemID to targetIndex inside one container and
// pins every sibling to its new dense position. The boolean is false, and the
// plan empty, when itemID is not part of items.
func (e *Engine) MoveWithinContainer(container domain.Collection, items []domain.Item, itemID string, targetIndex int) (Plan, bool) {
	idx := indexOf(items, itemID)
	if idx < 0 {
		return Plan{}, false
	}
	rest := without(items, idx)
	arranged := insertAt(rest, items[idx], clampIndex(targetIndex, len(rest)))

	plan := Plan{Ops: make([]Op, 0, len(arranged))}
	for i, it := range arranged {
		plan.Ops = append(plan.Ops, Op{Kind: OpUpdate, Collection: container, ID: it.ID, Order: i})
	}
	return plan, true
}

// MoveContainer reorders a list among the lists of its board. It has the same
// contract as MoveWithinContainer one level up the hierarchy.
func (e *Engine) MoveContainer(parent domain.Collection, containers []domain.Item, containerID string, targetIndex int) (Plan, bool) {
	return e.MoveWithinContainer(parent, containers, containerID, targetIndex)
}

// MoveAcrossContainers moves itemID out of source and into target at
// targetIndex. The record is copied into target under a fresh identifier and
// the original is deleted, so the plan is: create in target, re-densify the
// source, shift the target siblings, delete from source.
//
// Target siblings before the insertion point are only rewritten when their
// stored order is not already their dense index.
func (e *Engine) MoveAcrossContainers(source, target domain.Collection, sourceItems, targetItems []domain.Item, itemID string, targetIndex int) (Plan, bool) {
	if source == target {
		return e.MoveWithinContainer(source, sourceItems, itemID, targetIndex)
	}
	idx := indexOf(sourceItems, itemID)
	if idx < 0 {
		return Plan{}, false
	}
	moved := sourceItems[idx]
	remaining := without(sourceItems, idx)
	at := clampIndex(targetIndex, len(targetItems))

	now := e.now()
	copied := domain.Item{
		ID:        e.newID(),
		Title:     moved.Title,
		Order:     at,
		CreatedAt: moved.CreatedAt,
		UpdatedAt: &now,
	}

	plan := Plan{Ops: make([]Op, 0, len(remaining)+len(targetItems)+2)}
	plan.Ops = append(plan.Ops, Op{Kind: OpCreate, Collection: target, ID: copied.ID, Order: at, Item: copied})
	for i, it := range remaining {
		plan.Ops = append(plan.Ops, Op{Kind: OpUpdate, Collection: source, ID: it.ID, Order: i})
	}
	for i, it := range targetItems {
		order := i
		if i >= at {
			order = i + 1
		}
		if i < at && it.Order == order {
			continue
		}
		plan.Ops = append(plan.Ops, Op{Kind: OpUpdate, Collection: target, ID: it.ID, Order: order})
	}
	plan.Ops = append(plan.Ops, Op{Kind: OpDelete, Collection: source, ID: moved.ID})
	return plan, true
}

func (e *Engine) newID() string {
	if e == nil || e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// Sorted returns a copy of items sorted ascending by order. Records sharing an
// order keep their relative input position.
func Sorted(items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Dense reports whether the orders of items run exactly 0..n-1 in sequence.
func Dense(items []domain.Item) bool {
	for i, it := range items {
		if it.Order != i {
			return false
		}
	}
	return true
}

func indexOf(items []domain.Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func clampIndex(idx, n int) int {
	if idx < 0 || idx > n {
		return n
	}
	return idx
}

func without(items []domain.Item, idx int) []domain.Item {
	out := make([]domain.Item, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}

func insertAt(items []domain.Item, it domain.Item, idx int) []domain.Item {
	out := make([]domain.Item, 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, it)
	return append(out, items[idx:]...)
}

package reorder

import "board-api/domain"

// OpKind distinguishes the persistence operations of a write plan.
type OpKind int

const (
	OpCreate OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a single document write. Updates only pin Order; creates carry the
// full record in Item; deletes only need Collection and ID.
type Op struct {
	Kind       OpKind
	Collection domain.Collection
	ID         string
	Order      int
	Item       domain.Item
}

// Plan is the ordered list of writes produced for one move instruction.
type Plan struct {
	Ops []Op
}

// Empty reports whether the plan has nothing to write.
func (p Plan) Empty() bool { return len(p.Ops) == 0 }

func (p Plan) Creates() []Op { return p.filter(OpCreate) }

func (p Plan) Updates() []Op { return p.filter(OpUpdate) }

func (p Plan) Deletes() []Op { return p.filter(OpDelete) }

// Collections returns every collection the plan writes to, in first-use order.
func (p Plan) Collections() []domain.Collection {
	seen := make(map[domain.Collection]struct{}, 2)
	out := make([]domain.Collection, 0, 2)
	for _, op := range p.Ops {
		if _, ok := seen[op.Collection]; ok {
			continue
		}
		seen[op.Collection] = struct{}{}
		out = append(out, op.Collection)
	}
	return out
}

func (p Plan) filter(kind OpKind) []Op {
	var out []Op
	for _, op := range p.Ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// Package board implements board, list and card operations on top of a
// document store, including drag and drop moves.
package board

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"board-api/domain"
	"board-api/events"
	"board-api/reorder"
	"board-api/storage"
)

const readConcurrency = 8

// MoveResult summarises an executed move.
type MoveResult struct {
	// Applied is false when the moved record was not found and nothing was written.
	Applied bool
	Writes  int
	// NewID is the identifier of the card copy after a cross-list move.
	NewID string
	// Failed is set when at least one write of the plan failed.
	Failed bool
}

// Service is the entry point for every board mutation.
type Service struct {
	store  storage.Store
	engine *reorder.Engine
	exec   *Executor
	events events.Emitter
	log    *log.Logger
	now    func() time.Time
}

func NewService(store storage.Store, engine *reorder.Engine, exec *Executor, emitter events.Emitter, logger *log.Logger) *Service {
	if store == nil || exec == nil {
		panic("board service requires a store and an executor")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if engine == nil {
		engine = reorder.New()
	}
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Service{store: store, engine: engine, exec: exec, events: emitter, log: logger, now: time.Now}
}

// CreateBoard stores a new board and seeds its first list.
func (s *Service) CreateBoard(ctx context.Context, userID, title string) (domain.Board, error) {
	title, err := domain.NormalizeTitle(title)
	if err != nil {
		return domain.Board{}, err
	}
	boards, err := s.store.List(ctx, domain.BoardsOf(userID))
	if err != nil {
		return domain.Board{}, fmt.Errorf("load boards: %w", err)
	}
	now := s.now().UTC()
	id, err := s.store.Create(ctx, domain.BoardsOf(userID), domain.Item{Title: title, Order: len(boards), CreatedAt: now})
	if err != nil {
		return domain.Board{}, fmt.Errorf("create board: %w", err)
	}
	list := domain.Item{Title: domain.DefaultListTitle, Order: 0, CreatedAt: now}
	if _, err := s.store.Create(ctx, domain.ListsOf(userID, id), list); err != nil {
		return domain.Board{}, fmt.Errorf("seed list: %w", err)
	}

	s.emit(userID, id, id, "board", domain.BoardCreated, domain.TitleEventData{Title: title})
	return domain.Board{ID: id, Title: title, CreatedAt: now}, nil
}

// Boards returns the user's boards in display order.
func (s *Service) Boards(ctx context.Context, userID string) ([]domain.Board, error) {
	items, err := s.store.List(ctx, domain.BoardsOf(userID))
	if err != nil {
		return nil, fmt.Errorf("load boards: %w", err)
	}
	boards := make([]domain.Board, 0, len(items))
	for _, it := range reorder.Sorted(items) {
		boards = append(boards, domain.Board{ID: it.ID, Title: it.Title, CreatedAt: it.CreatedAt})
	}
	return boards, nil
}

// Board returns a board with its lists and cards sorted by order.
func (s *Service) Board(ctx context.Context, userID, boardID string) (domain.BoardView, error) {
	b, err := s.requireBoard(ctx, userID, boardID)
	if err != nil {
		return domain.BoardView{}, err
	}
	lists, err := s.snapshot(ctx, domain.ListsOf(userID, boardID))
	if err != nil {
		return domain.BoardView{}, err
	}

	view := domain.BoardView{
		Board: domain.Board{ID: b.ID, Title: b.Title, CreatedAt: b.CreatedAt},
		Lists: make([]domain.List, len(lists)),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, l := range lists {
		g.Go(func() error {
			cards, err := s.snapshot(gctx, domain.CardsOf(userID, boardID, l.ID))
			if err != nil {
				return err
			}
			view.Lists[i] = domain.List{Item: l, Cards: cards}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.BoardView{}, err
	}
	return view, nil
}

// AddList appends a list to the board.
func (s *Service) AddList(ctx context.Context, userID, boardID, title string) (domain.Item, error) {
	title, err := domain.NormalizeTitle(title)
	if err != nil {
		return domain.Item{}, err
	}
	if _, err := s.requireBoard(ctx, userID, boardID); err != nil {
		return domain.Item{}, err
	}
	col := domain.ListsOf(userID, boardID)
	item, err := s.appendItem(ctx, col, title)
	if err != nil {
		return domain.Item{}, fmt.Errorf("create list: %w", err)
	}
	s.emit(userID, boardID, item.ID, "list", domain.ListCreated, domain.TitleEventData{Title: title, Order: &item.Order})
	return item, nil
}

// RenameList changes the title of a list. Its order is untouched.
func (s *Service) RenameList(ctx context.Context, userID, boardID, listID, title string) error {
	title, err := domain.NormalizeTitle(title)
	if err != nil {
		return err
	}
	if _, err := s.requireList(ctx, userID, boardID, listID); err != nil {
		return err
	}
	if err := s.rename(ctx, domain.ListsOf(userID, boardID), listID, title); err != nil {
		return fmt.Errorf("rename list: %w", err)
	}
	s.emit(userID, boardID, listID, "list", domain.ListUpdated, domain.TitleEventData{Title: title})
	return nil
}

// DeleteList removes a list and every card in it. Sibling orders are kept.
func (s *Service) DeleteList(ctx context.Context, userID, boardID, listID string) error {
	if _, err := s.requireList(ctx, userID, boardID, listID); err != nil {
		return err
	}
	cardsCol := domain.CardsOf(userID, boardID, listID)
	cards, err := s.store.List(ctx, cardsCol)
	if err != nil {
		return fmt.Errorf("load cards: %w", err)
	}
	plan := reorder.Plan{Ops: make([]reorder.Op, 0, len(cards)+1)}
	for _, c := range cards {
		plan.Ops = append(plan.Ops, reorder.Op{Kind: reorder.OpDelete, Collection: cardsCol, ID: c.ID})
	}
	plan.Ops = append(plan.Ops, reorder.Op{Kind: reorder.OpDelete, Collection: domain.ListsOf(userID, boardID), ID: listID})
	if err := s.exec.Apply(ctx, plan); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	s.emit(userID, boardID, listID, "list", domain.ListDeleted, nil)
	return nil
}

// AddCard appends a card to a list.
func (s *Service) AddCard(ctx context.Context, userID, boardID, listID, title string) (domain.Item, error) {
	title, err := domain.NormalizeTitle(title)
	if err != nil {
		return domain.Item{}, err
	}
	if _, err := s.requireList(ctx, userID, boardID, listID); err != nil {
		return domain.Item{}, err
	}
	item, err := s.appendItem(ctx, domain.CardsOf(userID, boardID, listID), title)
	if err != nil {
		return domain.Item{}, fmt.Errorf("create card: %w", err)
	}
	s.emit(userID, boardID, item.ID, "card", domain.CardCreated, domain.TitleEventData{Title: title, Order: &item.Order})
	return item, nil
}

// RenameCard changes the title of a card. Its order is untouched.
func (s *Service) RenameCard(ctx context.Context, userID, boardID, listID, cardID, title string) error {
	title, err := domain.NormalizeTitle(title)
	if err != nil {
		return err
	}
	if _, err := s.requireList(ctx, userID, boardID, listID); err != nil {
		return err
	}
	col := domain.CardsOf(userID, boardID, listID)
	card, err := s.store.Get(ctx, col, cardID)
	if err != nil {
		return fmt.Errorf("load card: %w", err)
	}
	if card == nil {
		return domain.ErrNotFound
	}
	if err := s.rename(ctx, col, cardID, title); err != nil {
		return fmt.Errorf("rename card: %w", err)
	}
	s.emit(userID, boardID, cardID, "card", domain.CardUpdated, domain.TitleEventData{Title: title})
	return nil
}

// DeleteCard removes a card. Deleting a card that is already gone succeeds.
func (s *Service) DeleteCard(ctx context.Context, userID, boardID, listID, cardID string) error {
	if _, err := s.requireList(ctx, userID, boardID, listID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, domain.CardsOf(userID, boardID, listID), cardID); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	s.emit(userID, boardID, cardID, "card", domain.CardDeleted, nil)
	return nil
}

// MoveCard moves a card to targetIndex of targetListID, which may be its own
// list. A card or target list that cannot be found makes the move a no-op.
// Write failures are logged and reported through MoveResult.Failed only.
func (s *Service) MoveCard(ctx context.Context, userID, boardID, cardID, sourceListID, targetListID string, targetIndex int) (MoveResult, error) {
	source := domain.CardsOf(userID, boardID, sourceListID)
	sourceItems, err := s.snapshot(ctx, source)
	if err != nil {
		return MoveResult{}, err
	}

	var (
		plan reorder.Plan
		ok   bool
	)
	if sourceListID == targetListID {
		plan, ok = s.engine.MoveWithinContainer(source, sourceItems, cardID, targetIndex)
	} else {
		list, err := s.store.Get(ctx, domain.ListsOf(userID, boardID), targetListID)
		if err != nil {
			return MoveResult{}, fmt.Errorf("load target list: %w", err)
		}
		if list == nil {
			s.log.Debugf("move of card %s skipped, target list %s not found", cardID, targetListID)
			return MoveResult{}, nil
		}
		target := domain.CardsOf(userID, boardID, targetListID)
		targetItems, err := s.snapshot(ctx, target)
		if err != nil {
			return MoveResult{}, err
		}
		plan, ok = s.engine.MoveAcrossContainers(source, target, sourceItems, targetItems, cardID, targetIndex)
	}
	if !ok {
		s.log.Debugf("move of card %s skipped, not found in list %s", cardID, sourceListID)
		return MoveResult{}, nil
	}

	res := s.execute(ctx, plan)
	data := domain.CardMovedEventData{
		SourceListID: sourceListID,
		TargetListID: targetListID,
		NewCardID:    res.NewID,
		Writes:       res.Writes,
	}
	entityID := cardID
	if created := plan.Creates(); len(created) > 0 {
		data.Order = created[0].Order
		entityID = res.NewID
	} else {
		data.Order = orderOf(plan, cardID)
	}
	s.emit(userID, boardID, entityID, "card", domain.CardMoved, data)
	return res, nil
}

// MoveList moves a list to targetIndex among the board's lists.
func (s *Service) MoveList(ctx context.Context, userID, boardID, listID string, targetIndex int) (MoveResult, error) {
	col := domain.ListsOf(userID, boardID)
	lists, err := s.snapshot(ctx, col)
	if err != nil {
		return MoveResult{}, err
	}
	plan, ok := s.engine.MoveContainer(col, lists, listID, targetIndex)
	if !ok {
		s.log.Debugf("move of list %s skipped, not found on board %s", listID, boardID)
		return MoveResult{}, nil
	}
	res := s.execute(ctx, plan)
	s.emit(userID, boardID, listID, "list", domain.ListMoved, domain.ListMovedEventData{
		Order:  orderOf(plan, listID),
		Writes: res.Writes,
	})
	return res, nil
}

func (s *Service) execute(ctx context.Context, plan reorder.Plan) MoveResult {
	res := MoveResult{Applied: true, Writes: len(plan.Ops)}
	if created := plan.Creates(); len(created) > 0 {
		res.NewID = created[0].ID
	}
	if err := s.exec.Apply(ctx, plan); err != nil {
		res.Failed = true
		s.log.WithField("writes", len(plan.Ops)).Warnf("move settled with failures: %v", err)
	}
	return res
}

func (s *Service) snapshot(ctx context.Context, col domain.Collection) ([]domain.Item, error) {
	items, err := s.store.List(ctx, col)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", col, err)
	}
	return reorder.Sorted(items), nil
}

func (s *Service) appendItem(ctx context.Context, col domain.Collection, title string) (domain.Item, error) {
	siblings, err := s.store.List(ctx, col)
	if err != nil {
		return domain.Item{}, err
	}
	item := domain.Item{Title: title, Order: len(siblings), CreatedAt: s.now().UTC()}
	id, err := s.store.Create(ctx, col, item)
	if err != nil {
		return domain.Item{}, err
	}
	item.ID = id
	return item, nil
}

func (s *Service) rename(ctx context.Context, col domain.Collection, id, title string) error {
	now := s.now().UTC()
	return s.store.Update(ctx, col, id, storage.Patch{Title: &title, UpdatedAt: &now})
}

func (s *Service) requireBoard(ctx context.Context, userID, boardID string) (*domain.Item, error) {
	b, err := s.store.Get(ctx, domain.BoardsOf(userID), boardID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	if b == nil {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *Service) requireList(ctx context.Context, userID, boardID, listID string) (*domain.Item, error) {
	if _, err := s.requireBoard(ctx, userID, boardID); err != nil {
		return nil, err
	}
	l, err := s.store.Get(ctx, domain.ListsOf(userID, boardID), listID)
	if err != nil {
		return nil, fmt.Errorf("load list: %w", err)
	}
	if l == nil {
		return nil, domain.ErrNotFound
	}
	return l, nil
}

func (s *Service) emit(userID, boardID, entityID, entityType, eventType string, data any) {
	ev := domain.Event{
		ID:         uuid.NewString(),
		UserID:     userID,
		BoardID:    boardID,
		EntityID:   entityID,
		EntityType: entityType,
		Type:       eventType,
		Time:       s.now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.log.Errorf("encode %s event: %v", eventType, err)
			return
		}
		ev.Data = raw
	}
	s.events.Publish(ev)
}

func orderOf(plan reorder.Plan, id string) int {
	for _, op := range plan.Ops {
		if op.ID == id && op.Kind != reorder.OpDelete {
			return op.Order
		}
	}
	return 0
}

package api

import (
	"context"

	"board-api/board"
	"board-api/domain"
)

// Boards is the board service as seen by the handlers.
type Boards interface {
	CreateBoard(ctx context.Context, userID, title string) (domain.Board, error)
	Boards(ctx context.Context, userID string) ([]domain.Board, error)
	Board(ctx context.Context, userID, boardID string) (domain.BoardView, error)
	AddList(ctx context.Context, userID, boardID, title string) (domain.Item, error)
	RenameList(ctx context.Context, userID, boardID, listID, title string) error
	DeleteList(ctx context.Context, userID, boardID, listID string) error
	AddCard(ctx context.Context, userID, boardID, listID, title string) (domain.Item, error)
	RenameCard(ctx context.Context, userID, boardID, listID, cardID, title string) error
	DeleteCard(ctx context.Context, userID, boardID, listID, cardID string) error
	MoveCard(ctx context.Context, userID, boardID, cardID, sourceListID, targetListID string, targetIndex int) (board.MoveResult, error)
	MoveList(ctx context.Context, userID, boardID, listID string, targetIndex int) (board.MoveResult, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents replaying a move submitted twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key so the client may retry.
	Remove(ctx context.Context, userID, key string) error
}

type titleRequest struct {
	Title string `json:"title"`
}

type moveCardRequest struct {
	CardID       string `json:"cardId"`
	SourceListID string `json:"sourceListId"`
	TargetListID string `json:"targetListId"`
	TargetIndex  *int   `json:"targetIndex,omitempty"`
}

type moveListRequest struct {
	ListID      string `json:"listId"`
	TargetIndex *int   `json:"targetIndex,omitempty"`
}

type moveResponse struct {
	Applied   bool   `json:"applied"`
	Writes    int    `json:"writes"`
	NewID     string `json:"newId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

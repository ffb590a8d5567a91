package domain

import "encoding/json"

// Board event types emitted after successful mutations.
const (
	BoardCreated = "board-created"
	ListCreated  = "list-created"
	ListUpdated  = "list-updated"
	ListDeleted  = "list-deleted"
	ListMoved    = "list-moved"
	CardCreated  = "card-created"
	CardUpdated  = "card-updated"
	CardDeleted  = "card-deleted"
	CardMoved    = "card-moved"
)

// Event represents a change to a user's boards for downstream consumers.
type Event struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	BoardID    string          `json:"boardId"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Time       int64           `json:"time"`
}

// CardMovedEventData describes where a card ended up.
type CardMovedEventData struct {
	SourceListID string `json:"sourceListId"`
	TargetListID string `json:"targetListId"`
	NewCardID    string `json:"newCardId,omitempty"`
	Order        int    `json:"order"`
	Writes       int    `json:"writes"`
}

// ListMovedEventData describes the new position of a list.
type ListMovedEventData struct {
	Order  int `json:"order"`
	Writes int `json:"writes"`
}

// TitleEventData carries the title of a created or renamed record.
type TitleEventData struct {
	Title string `json:"title"`
	Order *int   `json:"order,omitempty"`
}

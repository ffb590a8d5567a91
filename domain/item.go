package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyTitle is returned before any write when a board, list or card title is blank.
	ErrEmptyTitle = errors.New("title cannot be empty")
	// ErrNotFound indicates the addressed board, list or card does not exist.
	ErrNotFound = errors.New("not found")
)

// DefaultListTitle names the list every new board starts with.
const DefaultListTitle = "To Do"

// Item is a positioned record inside a container: a card within a list or a
// list within a board.
type Item struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Order     int        `json:"order"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Board groups the lists owned by a single user.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// List is a board list together with its ordered cards.
type List struct {
	Item
	Cards []Item `json:"cards"`
}

// BoardView is the fully materialised board returned to clients.
type BoardView struct {
	Board
	Lists []List `json:"lists"`
}

// NormalizeTitle trims surrounding whitespace and rejects blank titles.
func NormalizeTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", ErrEmptyTitle
	}
	return t, nil
}

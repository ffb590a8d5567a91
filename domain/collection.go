package domain

import "strings"

// Collection is the slash separated path of a collection of sibling records,
// e.g. "Users/u1/boards/b1/lists".
type Collection string

const (
	usersSegment  = "Users"
	boardsSegment = "boards"
	listsSegment  = "lists"
	cardsSegment  = "cards"
)

// BoardsOf returns the collection holding the boards of a user.
func BoardsOf(userID string) Collection {
	return Collection(strings.Join([]string{usersSegment, userID, boardsSegment}, "/"))
}

// ListsOf returns the collection holding the lists of a board.
func ListsOf(userID, boardID string) Collection {
	return Collection(strings.Join([]string{usersSegment, userID, boardsSegment, boardID, listsSegment}, "/"))
}

// CardsOf returns the collection holding the cards of a list.
func CardsOf(userID, boardID, listID string) Collection {
	return Collection(strings.Join([]string{usersSegment, userID, boardsSegment, boardID, listsSegment, listID, cardsSegment}, "/"))
}

func (c Collection) String() string { return string(c) }

// Doc returns the document path of id inside the collection.
func (c Collection) Doc(id string) string {
	return string(c) + "/" + id
}

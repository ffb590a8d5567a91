// Package sqlite provides a SQLite-backed board document store.
//
// Unlike the Azure Tables store it can apply any write plan inside one
// transaction, so cross-list moves never expose a card in both lists.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"board-api/domain"
	"board-api/reorder"
	"board-api/storage"
)

//go:embed schema.sql
var schema string

// Store persists board documents in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// List returns the documents of a collection in insertion order.
func (s *Store) List(ctx context.Context, c domain.Collection) ([]domain.Item, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, title, ord, created_at, updated_at FROM documents WHERE collection = ? ORDER BY rowid`,
		string(c),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	return items, nil
}

// Get returns nil when the document does not exist.
func (s *Store) Get(ctx context.Context, c domain.Collection, id string) (*domain.Item, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, title, ord, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		string(c), id,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Create(ctx context.Context, c domain.Collection, item domain.Item) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := insert(ctx, s.sqlDB, c, item); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *Store) Update(ctx context.Context, c domain.Collection, id string, p storage.Patch) error {
	return update(ctx, s.sqlDB, c, id, p)
}

func (s *Store) Delete(ctx context.Context, c domain.Collection, id string) error {
	return remove(ctx, s.sqlDB, c, id)
}

// ApplyAtomic applies every write of the plan in a single transaction. Any
// failing write rolls the whole plan back.
func (s *Store) ApplyAtomic(ctx context.Context, plan reorder.Plan) (err error) {
	if plan.Empty() {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range plan.Ops {
		switch op.Kind {
		case reorder.OpCreate:
			err = insert(ctx, tx, op.Collection, op.Item)
		case reorder.OpUpdate:
			err = update(ctx, tx, op.Collection, op.ID, storage.OrderPatch(op.Order))
		case reorder.OpDelete:
			err = remove(ctx, tx, op.Collection, op.ID)
		default:
			err = fmt.Errorf("unsupported op kind %v", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insert(ctx context.Context, db execer, c domain.Collection, item domain.Item) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, title, ord, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(c), item.ID, item.Title, item.Order, toMillis(item.CreatedAt), optionalMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", c.Doc(item.ID), err)
	}
	return nil
}

func update(ctx context.Context, db execer, c domain.Collection, id string, p storage.Patch) error {
	var title, order, updatedAt any
	if p.Title != nil {
		title = *p.Title
	}
	if p.Order != nil {
		order = *p.Order
	}
	if p.UpdatedAt != nil {
		updatedAt = toMillis(*p.UpdatedAt)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE documents
		    SET title = COALESCE(?, title),
		        ord = COALESCE(?, ord),
		        updated_at = COALESCE(?, updated_at)
		  WHERE collection = ? AND id = ?`,
		title, order, updatedAt, string(c), id,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", c.Doc(id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", c.Doc(id), err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", c.Doc(id), domain.ErrNotFound)
	}
	return nil
}

func remove(ctx context.Context, db execer, c domain.Collection, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, string(c), id); err != nil {
		return fmt.Errorf("delete %s: %w", c.Doc(id), err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.Item, error) {
	var (
		item               domain.Item
		created, updatedAt int64
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Order, &created, &updatedAt); err != nil {
		return domain.Item{}, err
	}
	item.CreatedAt = fromMillis(created)
	item.UpdatedAt = optionalTime(updatedAt)
	return item, nil
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func optionalMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return toMillis(*t)
}

func optionalTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"board-api/domain"
	"board-api/reorder"
)

const (
	edmInt32 = "Edm.Int32"
	edmInt64 = "Edm.Int64"

	// maxTransactionActions is the entity group transaction limit of Azure Tables.
	maxTransactionActions = 100
)

// Tables stores board documents in a single Azure Table. The collection path
// is the partition key and the record ID the row key.
type Tables struct {
	table *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tableName string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("tables service client: %w", err)
	}
	return &Tables{table: svc.NewClient(tableName)}, nil
}

type documentEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Title         string `json:"Title"`
	Order         int    `json:"Order"`
	OrderType     string `json:"Order@odata.type,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type documentUpdate struct {
	PartitionKey  string  `json:"PartitionKey"`
	RowKey        string  `json:"RowKey"`
	Title         *string `json:"Title,omitempty"`
	Order         *int    `json:"Order,omitempty"`
	OrderType     *string `json:"Order@odata.type,omitempty"`
	UpdatedAt     *int64  `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// partitionKey maps a collection path onto the characters Azure Tables
// accepts in keys; '/' is reserved there.
func partitionKey(c domain.Collection) string {
	return strings.ReplaceAll(string(c), "/", ":")
}

func toEntity(c domain.Collection, item domain.Item) documentEntity {
	return documentEntity{
		PartitionKey:  partitionKey(c),
		RowKey:        item.ID,
		Title:         item.Title,
		Order:         item.Order,
		OrderType:     edmInt32,
		CreatedAt:     toMillis(item.CreatedAt),
		CreatedAtType: edmInt64,
		UpdatedAt:     optionalMillis(item.UpdatedAt),
		UpdatedAtType: edmInt64,
	}
}

func fromEntity(ent documentEntity) domain.Item {
	return domain.Item{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Order:     ent.Order,
		CreatedAt: fromMillis(ent.CreatedAt),
		UpdatedAt: optionalTime(ent.UpdatedAt),
	}
}

func toUpdate(c domain.Collection, id string, p Patch) documentUpdate {
	upd := documentUpdate{PartitionKey: partitionKey(c), RowKey: id, Title: p.Title}
	if p.Order != nil {
		t := edmInt32
		upd.Order = p.Order
		upd.OrderType = &t
	}
	if p.UpdatedAt != nil {
		ms := toMillis(*p.UpdatedAt)
		t := edmInt64
		upd.UpdatedAt = &ms
		upd.UpdatedAtType = &t
	}
	return upd
}

// List retrieves every document of the collection ordered by row key.
func (s *Tables) List(ctx context.Context, c domain.Collection) ([]domain.Item, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(partitionKey(c), "'", "''") + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent documentEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			items = append(items, fromEntity(ent))
		}
	}
	return items, nil
}

// Get retrieves a document if present.
func (s *Tables) Get(ctx context.Context, c domain.Collection, id string) (*domain.Item, error) {
	resp, err := s.table.GetEntity(ctx, partitionKey(c), id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ent documentEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	item := fromEntity(ent)
	return &item, nil
}

// Create inserts a new document, failing on identifier conflicts.
func (s *Tables) Create(ctx context.Context, c domain.Collection, item domain.Item) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	payload, err := json.Marshal(toEntity(c, item))
	if err != nil {
		return "", err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Update merges the patch into an existing document.
func (s *Tables) Update(ctx context.Context, c domain.Collection, id string, p Patch) error {
	payload, err := json.Marshal(toUpdate(c, id, p))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// Delete removes a document; missing documents are ignored.
func (s *Tables) Delete(ctx context.Context, c domain.Collection, id string) error {
	et := azcore.ETagAny
	_, err := s.table.DeleteEntity(ctx, partitionKey(c), id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if err != nil && isStatus(err, 404) {
		return nil
	}
	return err
}

// ApplyAtomic submits the plan as one entity group transaction. Only plans
// confined to a single collection of at most 100 writes qualify.
func (s *Tables) ApplyAtomic(ctx context.Context, plan reorder.Plan) error {
	if plan.Empty() {
		return nil
	}
	if len(plan.Collections()) != 1 || len(plan.Ops) > maxTransactionActions {
		return ErrNotAtomic
	}
	actions := make([]aztables.TransactionAction, 0, len(plan.Ops))
	for _, op := range plan.Ops {
		var (
			payload []byte
			kind    aztables.TransactionType
			err     error
		)
		switch op.Kind {
		case reorder.OpCreate:
			kind = aztables.TransactionTypeAdd
			payload, err = json.Marshal(toEntity(op.Collection, op.Item))
		case reorder.OpUpdate:
			kind = aztables.TransactionTypeUpdateMerge
			payload, err = json.Marshal(toUpdate(op.Collection, op.ID, OrderPatch(op.Order)))
		case reorder.OpDelete:
			kind = aztables.TransactionTypeDelete
			payload, err = json.Marshal(entityKeys{PartitionKey: partitionKey(op.Collection), RowKey: op.ID})
		default:
			return fmt.Errorf("unsupported op kind %v", op.Kind)
		}
		if err != nil {
			return err
		}
		et := azcore.ETagAny
		actions = append(actions, aztables.TransactionAction{ActionType: kind, Entity: payload, IfMatch: &et})
	}
	_, err := s.table.SubmitTransaction(ctx, actions, nil)
	return err
}

// CreateTable creates the backing table, treating an existing one as success.
func (s *Tables) CreateTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
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

package domain

import (
	"encoding/json"
	"time"
)

const (
	StoreTypeBranch = "branch"
	StoreTypeMarket = "market"
)

const (
	UnitPiece    = "piece"
	UnitKilogram = "kilogram"
)

type Store struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Type   string           `json:"type"`
	Prices map[string]int64 `json:"prices,omitempty"`
	// Placeholder marks a store the server synthesized for an unknown
	// store id. Any explicit upsert clears it.
	Placeholder bool `json:"placeholder,omitempty"`
}

type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CategoryID  string `json:"category_id,omitempty"`
	PriceBranch *int64 `json:"price_branch,omitempty"`
	PriceMarket *int64 `json:"price_market,omitempty"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LineRecord is the shared shape of sale and return history rows.
// StoreName and ProductName are historical snapshots taken when the row was
// written; they are never backfilled from later catalog changes.
type LineRecord struct {
	ID          string  `json:"id"`
	StoreID     string  `json:"store_id"`
	StoreName   string  `json:"store_name"`
	CreatedAt   int64   `json:"created_at"`
	BatchID     string  `json:"batch_id,omitempty"`
	ProductName string  `json:"product_name"`
	Qty         float64 `json:"qty"`
	Price       int64   `json:"price"`
	Unit        string  `json:"unit"`
}

type SaleRecord = LineRecord

type ReturnRecord = LineRecord

type CashReceipt struct {
	ID        string `json:"id"`
	StoreID   string `json:"store_id"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

// MutationKind tags a queue item with the entity and operation it targets.
type MutationKind string

const (
	KindStoreUpsert    MutationKind = "store:upsert"
	KindStoreRemove    MutationKind = "store:remove"
	KindProductUpsert  MutationKind = "product:upsert"
	KindProductRemove  MutationKind = "product:remove"
	KindCategoryUpsert MutationKind = "category:upsert"
	KindCategoryRemove MutationKind = "category:remove"
	KindSaleAdd        MutationKind = "sale:add"
	KindSaleUpdate     MutationKind = "sale:update"
	KindSaleRemove     MutationKind = "sale:remove"
	KindReturnAdd      MutationKind = "return:add"
	KindReturnUpdate   MutationKind = "return:update"
	KindReturnRemove   MutationKind = "return:remove"
	KindCashAdd        MutationKind = "cash:add"
	KindCashUpdate     MutationKind = "cash:update"
	KindCashRemove     MutationKind = "cash:remove"
)

var knownKinds = map[MutationKind]struct{}{
	KindStoreUpsert: {}, KindStoreRemove: {},
	KindProductUpsert: {}, KindProductRemove: {},
	KindCategoryUpsert: {}, KindCategoryRemove: {},
	KindSaleAdd: {}, KindSaleUpdate: {}, KindSaleRemove: {},
	KindReturnAdd: {}, KindReturnUpdate: {}, KindReturnRemove: {},
	KindCashAdd: {}, KindCashUpdate: {}, KindCashRemove: {},
}

func (k MutationKind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// RemovePayload is the payload of every "<entity>:remove" kind.
type RemovePayload struct {
	ID string `json:"id"`
}

// QueueItem is one pending mutation awaiting server confirmation. Upsert,
// add and update payloads carry the fully-resolved entity.
type QueueItem struct {
	ID        string          `json:"id"`
	Kind      MutationKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
	Attempts  int             `json:"attempts,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// TargetID decodes the entity id the item points at.
func (q QueueItem) TargetID() (string, error) {
	var ref RemovePayload
	if err := json.Unmarshal(q.Payload, &ref); err != nil {
		return "", err
	}
	return ref.ID, nil
}

type PushRequest struct {
	Items []QueueItem `json:"items"`
}

type PushFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type PushResponse struct {
	AppliedIDs   []string      `json:"applied_ids"`
	Failed       []PushFailure `json:"failed"`
	Placeholders []Store       `json:"placeholders,omitempty"`
	ServerTime   int64         `json:"server_time"`
}

type Snapshot struct {
	Stores       []Store        `json:"stores"`
	Products     []Product      `json:"products"`
	Categories   []Category     `json:"categories"`
	Sales        []SaleRecord   `json:"sales"`
	Returns      []ReturnRecord `json:"returns"`
	CashReceipts []CashReceipt  `json:"cash_receipts"`
	ServerTime   int64          `json:"server_time"`
}

type SnapshotResponse struct {
	Data       Snapshot `json:"data"`
	ServerTime int64    `json:"server_time"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// PlaceholderStore is the minimal row synthesized to satisfy a transaction's
// store reference before the store's own upsert arrives.
func PlaceholderStore(id string, name string) Store {
	if name == "" {
		name = id
	}
	return Store{ID: id, Name: name, Type: StoreTypeBranch, Placeholder: true}
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

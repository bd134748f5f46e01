package store

import (
	"context"
	"errors"
	"time"

	"tokoku/internal/domain"
)

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrForeignKey    = errors.New("referenced row does not exist")
)

// Repository is the authoritative server storage. Every write is keyed by the
// client-supplied id, so replaying the same write is a no-op. Deletes of a
// missing id succeed.
type Repository interface {
	UpsertStore(ctx context.Context, store domain.Store) error
	DeleteStore(ctx context.Context, id string) error
	UpsertProduct(ctx context.Context, product domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
	UpsertCategory(ctx context.Context, category domain.Category) error
	DeleteCategory(ctx context.Context, id string) error

	// UpsertSale, UpsertReturn and UpsertCashReceipt insert placeholder in the
	// same transaction when the referenced store is missing, and report
	// whether they did. A zero placeholder disables the repair.
	UpsertSale(ctx context.Context, sale domain.SaleRecord, placeholder domain.Store) (bool, error)
	DeleteSale(ctx context.Context, id string) error
	UpsertReturn(ctx context.Context, ret domain.ReturnRecord, placeholder domain.Store) (bool, error)
	DeleteReturn(ctx context.Context, id string) error
	UpsertCashReceipt(ctx context.Context, receipt domain.CashReceipt, placeholder domain.Store) (bool, error)
	DeleteCashReceipt(ctx context.Context, id string) error

	Snapshot(ctx context.Context) (domain.Snapshot, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

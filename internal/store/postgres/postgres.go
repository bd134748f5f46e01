package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoku/internal/domain"
	"tokoku/internal/store"
	"tokoku/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertStore(ctx context.Context, st domain.Store) error {
	if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.Name) == "" {
		return store.ErrInvalidRecord
	}
	prices, err := encodePrices(st.Prices)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, type, prices, placeholder, updated_at)
		VALUES ($1,$2,$3,$4,false,now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type, prices = EXCLUDED.prices, placeholder = false, updated_at = now()
	`, st.ID, st.Name, storeType(st.Type), prices)
	return err
}

func (s *Store) DeleteStore(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = $1`, id)
	return err
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" {
		return store.ErrInvalidRecord
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category_id, price_branch, price_market, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, category_id = EXCLUDED.category_id,
			price_branch = EXCLUDED.price_branch, price_market = EXCLUDED.price_market, updated_at = now()
	`, product.ID, product.Name, nullIfEmpty(product.CategoryID), nullInt64(product.PriceBranch), nullInt64(product.PriceMarket))
	return err
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return err
}

func (s *Store) UpsertCategory(ctx context.Context, category domain.Category) error {
	if strings.TrimSpace(category.ID) == "" || strings.TrimSpace(category.Name) == "" {
		return store.ErrInvalidRecord
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, updated_at = now()
	`, category.ID, category.Name)
	return err
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE products SET category_id = NULL, updated_at = now() WHERE category_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpsertSale(ctx context.Context, sale domain.SaleRecord, placeholder domain.Store) (bool, error) {
	return s.upsertLine(ctx, "sales", sale, placeholder)
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	return err
}

func (s *Store) UpsertReturn(ctx context.Context, ret domain.ReturnRecord, placeholder domain.Store) (bool, error) {
	return s.upsertLine(ctx, "returns", ret, placeholder)
}

func (s *Store) DeleteReturn(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM returns WHERE id = $1`, id)
	return err
}

// upsertLine writes a sale or return row. table is one of the two fixed
// table names and never comes from input.
func (s *Store) upsertLine(ctx context.Context, table string, line domain.LineRecord, placeholder domain.Store) (bool, error) {
	if strings.TrimSpace(line.ID) == "" {
		return false, store.ErrInvalidRecord
	}

	return s.withStore(ctx, line.StoreID, placeholder, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (id, store_id, store_name, created_at, batch_id, product_name, qty, price, unit)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id)
			DO UPDATE SET store_id = EXCLUDED.store_id, store_name = EXCLUDED.store_name,
				created_at = EXCLUDED.created_at, batch_id = EXCLUDED.batch_id,
				product_name = EXCLUDED.product_name, qty = EXCLUDED.qty,
				price = EXCLUDED.price, unit = EXCLUDED.unit
		`, line.ID, nullIfEmpty(line.StoreID), line.StoreName, line.CreatedAt, line.BatchID, line.ProductName, line.Qty, line.Price, line.Unit)
		return err
	})
}

func (s *Store) UpsertCashReceipt(ctx context.Context, receipt domain.CashReceipt, placeholder domain.Store) (bool, error) {
	if strings.TrimSpace(receipt.ID) == "" {
		return false, store.ErrInvalidRecord
	}

	return s.withStore(ctx, receipt.StoreID, placeholder, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cash_receipts (id, store_id, amount, created_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id)
			DO UPDATE SET store_id = EXCLUDED.store_id, amount = EXCLUDED.amount, created_at = EXCLUDED.created_at
		`, receipt.ID, nullIfEmpty(receipt.StoreID), receipt.Amount, receipt.CreatedAt)
		return err
	})
}

func (s *Store) DeleteCashReceipt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cash_receipts WHERE id = $1`, id)
	return err
}

// withStore runs write in a transaction that first inserts placeholder when
// storeID has no row yet. The returned flag reports whether it did.
func (s *Store) withStore(ctx context.Context, storeID string, placeholder domain.Store, write func(tx *sql.Tx) error) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	healed := false
	if storeID != "" && placeholder.ID == storeID {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stores (id, name, type, prices, placeholder, updated_at)
			VALUES ($1,$2,$3,'{}'::jsonb,true,now())
			ON CONFLICT (id) DO NOTHING
		`, placeholder.ID, placeholder.Name, storeType(placeholder.Type))
		if err != nil {
			return false, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		healed = affected > 0
	}

	if err := write(tx); err != nil {
		if isForeignKeyViolation(err) {
			return false, store.ErrForeignKey
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return healed, nil
}

func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	snap := domain.Snapshot{ServerTime: domain.NowMillis()}
	if snap.Stores, err = queryStores(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Categories, err = queryCategories(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Products, err = queryProducts(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Sales, err = queryLines(ctx, tx, "sales"); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Returns, err = queryLines(ctx, tx, "returns"); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.CashReceipts, err = queryCashReceipts(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, tx.Commit()
}

func queryStores(ctx context.Context, tx *sql.Tx) ([]domain.Store, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, type, prices, placeholder FROM stores ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		var prices []byte
		if err := rows.Scan(&st.ID, &st.Name, &st.Type, &prices, &st.Placeholder); err != nil {
			return nil, err
		}
		if st.Prices, err = decodePrices(prices); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

func queryCategories(ctx context.Context, tx *sql.Tx) ([]domain.Category, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var category domain.Category
		if err := rows.Scan(&category.ID, &category.Name); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func queryProducts(ctx context.Context, tx *sql.Tx) ([]domain.Product, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, category_id, price_branch, price_market
		FROM products
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var product domain.Product
		var categoryID sql.NullString
		var branch, market sql.NullInt64
		if err := rows.Scan(&product.ID, &product.Name, &categoryID, &branch, &market); err != nil {
			return nil, err
		}
		product.CategoryID = categoryID.String
		if branch.Valid {
			product.PriceBranch = &branch.Int64
		}
		if market.Valid {
			product.PriceMarket = &market.Int64
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func queryLines(ctx context.Context, tx *sql.Tx, table string) ([]domain.LineRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, store_id, store_name, created_at, batch_id, product_name, qty, price, unit
		FROM `+table+`
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.LineRecord, 0, 256)
	for rows.Next() {
		var line domain.LineRecord
		var storeID sql.NullString
		if err := rows.Scan(&line.ID, &storeID, &line.StoreName, &line.CreatedAt, &line.BatchID, &line.ProductName, &line.Qty, &line.Price, &line.Unit); err != nil {
			return nil, err
		}
		line.StoreID = storeID.String
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func queryCashReceipts(ctx context.Context, tx *sql.Tx) ([]domain.CashReceipt, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, store_id, amount, created_at
		FROM cash_receipts
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.CashReceipt, 0, 64)
	for rows.Next() {
		var receipt domain.CashReceipt
		var storeID sql.NullString
		if err := rows.Scan(&receipt.ID, &storeID, &receipt.Amount, &receipt.CreatedAt); err != nil {
			return nil, err
		}
		receipt.StoreID = storeID.String
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.ActorUsername, entry.Action, entry.Detail, entry.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidRecord
	}
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func encodePrices(prices map[string]int64) ([]byte, error) {
	if prices == nil {
		prices = map[string]int64{}
	}
	return json.Marshal(prices)
}

func decodePrices(raw []byte) (map[string]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var prices map[string]int64
	if err := json.Unmarshal(raw, &prices); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return prices, nil
}

func storeType(val string) string {
	if val == domain.StoreTypeMarket {
		return domain.StoreTypeMarket
	}
	return domain.StoreTypeBranch
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

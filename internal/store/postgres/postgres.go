package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

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

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return unavailable(err)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

const productColumns = `id, company_id, store_id, name, stock_tracked, total_stock, selling_price, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.StoreID, &p.Name, &p.StockTracked, &p.TotalStock, &p.SellingPrice, &p.UpdatedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return &product, nil
}

func (s *Store) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return result, nil
}

func (s *Store) SaveProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return domain.ErrInvalidRequest
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id)
		DO UPDATE SET company_id = EXCLUDED.company_id, store_id = EXCLUDED.store_id, name = EXCLUDED.name,
			stock_tracked = EXCLUDED.stock_tracked, total_stock = EXCLUDED.total_stock,
			selling_price = EXCLUDED.selling_price, updated_at = EXCLUDED.updated_at
	`, product.ID, product.CompanyID, product.StoreID, product.Name, product.StockTracked, product.TotalStock, product.SellingPrice, product.UpdatedAt)
	return unavailable(err)
}

func (s *Store) UpdateProductSummary(ctx context.Context, productID string, totalStock decimal.Decimal, sellingPrice decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET total_stock = $2, selling_price = $3, updated_at = $4
		WHERE id = $1
	`, productID, totalStock, sellingPrice, at)
	if err != nil {
		return unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const batchColumns = `id, product_id, store_id, company_id, quantity, initial_quantity, total_deducted,
	unit_price, cost_price, received_at, status, version, updated_at, depleted_at`

func scanBatch(row interface{ Scan(...any) error }) (domain.InventoryBatch, error) {
	var b domain.InventoryBatch
	var status string
	var depletedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.ProductID, &b.StoreID, &b.CompanyID, &b.Quantity, &b.InitialQuantity, &b.TotalDeducted,
		&b.UnitPrice, &b.CostPrice, &b.ReceivedAt, &status, &b.Version, &b.UpdatedAt, &depletedAt); err != nil {
		return b, err
	}
	b.Status = domain.BatchStatus(status)
	b.ReceivedAt = b.ReceivedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	if depletedAt.Valid {
		at := depletedAt.Time.UTC()
		b.DepletedAt = &at
	}
	return b, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	if batch.ID == "" || batch.ProductID == "" || !batch.InitialQuantity.IsPositive() {
		return nil, domain.ErrInvalidRequest
	}
	if batch.Version == 0 {
		batch.Version = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_batches (`+batchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, batch.ID, batch.ProductID, batch.StoreID, batch.CompanyID, batch.Quantity, batch.InitialQuantity, batch.TotalDeducted,
		batch.UnitPrice, batch.CostPrice, batch.ReceivedAt, string(batch.Status), batch.Version, batch.UpdatedAt, nullTime(batch.DepletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	created := batch
	return &created, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.InventoryBatch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE id = $1
	`, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return &batch, nil
}

func (s *Store) ListBatchesByProduct(ctx context.Context, productID string, status domain.BatchStatus) ([]domain.InventoryBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE product_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY received_at ASC, id ASC
	`, productID, string(status))
	if err != nil {
		return nil, unavailable(err)
	}
	return collectBatches(rows)
}

func (s *Store) ListAllBatches(ctx context.Context) ([]domain.InventoryBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectBatches(rows)
}

func collectBatches(rows *sql.Rows) ([]domain.InventoryBatch, error) {
	defer rows.Close()

	batches := make([]domain.InventoryBatch, 0, 16)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return batches, nil
}

// CommitWrites applies the whole write set in one transaction. Every batch
// update is a compare-and-swap on version; a miss aborts the transaction.
func (s *Store) CommitWrites(ctx context.Context, ws store.WriteSet) error {
	if ws.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, update := range ws.BatchUpdates {
		b := update.Batch
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory_batches
			SET quantity = $3, total_deducted = $4, status = $5, updated_at = $6, depleted_at = $7, version = version + 1
			WHERE id = $1 AND version = $2
		`, b.ID, update.ExpectedVersion, b.Quantity, b.TotalDeducted, string(b.Status), b.UpdatedAt, nullTime(b.DepletedAt))
		if err != nil {
			if isCheckViolation(err) {
				return fmt.Errorf("batch %s: %w", b.ID, store.ErrConflict)
			}
			return unavailable(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}
		if affected == 0 {
			return fmt.Errorf("batch %s version %d: %w", b.ID, update.ExpectedVersion, store.ErrConflict)
		}
	}

	for _, d := range ws.Deductions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batch_deductions (
				id, order_id, order_detail_id, batch_id, product_id, quantity, unit_cost,
				deducted_at, deducted_by, is_offline, sync_status
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, d.ID, d.OrderID, d.OrderDetailID, d.BatchID, d.ProductID, d.Quantity, d.UnitCost,
			d.DeductedAt, d.DeductedBy, d.IsOffline, string(d.SyncStatus)); err != nil {
			return unavailable(err)
		}
	}

	for _, r := range ws.Reversals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batch_reversals (id, order_id, batch_id, product_id, quantity, reversed_at, reversed_by, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, r.ID, r.OrderID, r.BatchID, r.ProductID, r.Quantity, r.ReversedAt, r.ReversedBy, nullIfEmpty(r.Reason)); err != nil {
			return unavailable(err)
		}
	}

	for _, order := range ws.Orders {
		doc, err := json.Marshal(order)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, store_id, device_id, sync_status, created_at, updated_at, doc)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id)
			DO UPDATE SET sync_status = EXCLUDED.sync_status, updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc
		`, order.ID, order.StoreID, order.DeviceID, string(order.SyncStatus), order.CreatedAt, order.UpdatedAt, doc); err != nil {
			return unavailable(err)
		}
	}

	for _, t := range ws.Tracking {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders_selling_tracking (
				id, order_id, order_item_id, store_id, company_id, product_id, quantity, amount,
				status, is_offline, stock_tracked, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (id)
			DO UPDATE SET quantity = EXCLUDED.quantity, amount = EXCLUDED.amount, status = EXCLUDED.status,
				is_offline = EXCLUDED.is_offline, updated_at = EXCLUDED.updated_at
		`, t.ID, t.OrderID, t.OrderItemID, t.StoreID, t.CompanyID, t.ProductID, t.Quantity, t.Amount,
			t.Status, t.IsOffline, t.StockTracked, t.CreatedAt, t.UpdatedAt); err != nil {
			return unavailable(err)
		}
	}

	for _, l := range ws.Ledger {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_accounting_ledger (
				id, order_id, store_id, company_id, event_type, status, amount, quantity, source, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, l.ID, l.OrderID, l.StoreID, l.CompanyID, l.EventType, l.Status, l.Amount, l.Quantity, l.Source, l.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", l.OrderID, domain.ErrLedgerExists)
			}
			return unavailable(err)
		}
	}

	return unavailable(tx.Commit())
}

func (s *Store) ListDeductionsByOrder(ctx context.Context, orderID string) ([]domain.DeductionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, order_detail_id, batch_id, product_id, quantity, unit_cost,
			deducted_at, deducted_by, is_offline, sync_status
		FROM batch_deductions
		WHERE order_id = $1
		ORDER BY deducted_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	records := make([]domain.DeductionRecord, 0, 4)
	for rows.Next() {
		var d domain.DeductionRecord
		var syncStatus string
		if err := rows.Scan(&d.ID, &d.OrderID, &d.OrderDetailID, &d.BatchID, &d.ProductID, &d.Quantity, &d.UnitCost,
			&d.DeductedAt, &d.DeductedBy, &d.IsOffline, &syncStatus); err != nil {
			return nil, unavailable(err)
		}
		d.SyncStatus = domain.DeductionSyncStatus(syncStatus)
		d.DeductedAt = d.DeductedAt.UTC()
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return records, nil
}

func (s *Store) ListReversalsByOrder(ctx context.Context, orderID string) ([]domain.ReversalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, batch_id, product_id, quantity, reversed_at, reversed_by, reason
		FROM batch_reversals
		WHERE order_id = $1
		ORDER BY reversed_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	records := make([]domain.ReversalRecord, 0, 4)
	for rows.Next() {
		var r domain.ReversalRecord
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &r.OrderID, &r.BatchID, &r.ProductID, &r.Quantity, &r.ReversedAt, &r.ReversedBy, &reason); err != nil {
			return nil, unavailable(err)
		}
		r.ReversedAt = r.ReversedAt.UTC()
		if reason.Valid {
			r.Reason = reason.String
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return records, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM orders WHERE id = $1`, orderID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	var order domain.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc
		FROM orders
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR device_id = $2)
			AND ($3 = '' OR sync_status = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at ASC, id ASC
		LIMIT $6
	`, filter.StoreID, filter.DeviceID, string(filter.SyncStatus), nullZeroTime(filter.From), nullZeroTime(filter.To), limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable(err)
		}
		var order domain.Order
		if err := json.Unmarshal(doc, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return orders, nil
}

func (s *Store) ListTracking(ctx context.Context, filter store.TrackingFilter) ([]domain.SellingTrackingEntry, error) {
	statuses := filter.Statuses
	if statuses == nil {
		statuses = []string{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, order_item_id, store_id, company_id, product_id, quantity, amount,
			status, is_offline, stock_tracked, created_at, updated_at
		FROM orders_selling_tracking
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR order_id = $2)
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
			AND (cardinality($5::text[]) = 0 OR status = ANY($5))
		ORDER BY created_at ASC, id ASC
	`, filter.StoreID, filter.OrderID, nullZeroTime(filter.From), nullZeroTime(filter.To), statuses)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	entries := make([]domain.SellingTrackingEntry, 0, 16)
	for rows.Next() {
		var t domain.SellingTrackingEntry
		if err := rows.Scan(&t.ID, &t.OrderID, &t.OrderItemID, &t.StoreID, &t.CompanyID, &t.ProductID, &t.Quantity, &t.Amount,
			&t.Status, &t.IsOffline, &t.StockTracked, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, unavailable(err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		entries = append(entries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, filter store.LedgerFilter) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, store_id, company_id, event_type, status, amount, quantity, source, created_at
		FROM order_accounting_ledger
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR order_id = $2)
			AND ($3 = '' OR status = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at ASC, id ASC
	`, filter.StoreID, filter.OrderID, filter.Status, nullZeroTime(filter.From), nullZeroTime(filter.To))
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 16)
	for rows.Next() {
		var l domain.LedgerEntry
		if err := rows.Scan(&l.ID, &l.OrderID, &l.StoreID, &l.CompanyID, &l.EventType, &l.Status, &l.Amount, &l.Quantity, &l.Source, &l.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		l.CreatedAt = l.CreatedAt.UTC()
		entries = append(entries, l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

func (s *Store) AppendReconciliationAudit(ctx context.Context, entry domain.ReconciliationAuditEntry) error {
	var warnings []byte
	if len(entry.Warnings) > 0 {
		encoded, err := json.Marshal(entry.Warnings)
		if err != nil {
			return err
		}
		warnings = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_audit_log (
			id, order_id, store_id, action, actor_id, before_doc, after_doc, success, error, warnings, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.OrderID, entry.StoreID, entry.Action, entry.ActorID, nullJSON(entry.Before), nullJSON(entry.After),
		entry.Success, nullIfEmpty(entry.Error), nullJSON(warnings), entry.CreatedAt)
	return unavailable(err)
}

func (s *Store) ListReconciliationAudit(ctx context.Context, orderID string) ([]domain.ReconciliationAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, store_id, action, actor_id, before_doc, after_doc, success, error, warnings, created_at
		FROM reconciliation_audit_log
		WHERE ($1 = '' OR order_id = $1)
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	entries := make([]domain.ReconciliationAuditEntry, 0, 8)
	for rows.Next() {
		var e domain.ReconciliationAuditEntry
		var before, after, warnings []byte
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.OrderID, &e.StoreID, &e.Action, &e.ActorID, &before, &after, &e.Success, &errText, &warnings, &e.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		e.Before = before
		e.After = after
		if errText.Valid {
			e.Error = errText.String
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &e.Warnings); err != nil {
				return nil, err
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

// unavailable marks errors caused by a lost or unreachable database with
// store.ErrUnavailable. Anything else is returned untouched.
func unavailable(err error) error {
	if err == nil || errors.Is(err, store.ErrUnavailable) || !isConnectionError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	// Class 08 is connection exception; 57P01..57P03 are server shutdown.
	code := pgErrorCode(err)
	return strings.HasPrefix(code, "08") || code == "57P01" || code == "57P02" || code == "57P03"
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == "23514"
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func nullJSON(val []byte) any {
	if len(val) == 0 {
		return nil
	}
	return val
}

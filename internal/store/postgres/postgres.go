package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/xid"
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

// EnsureSchema creates the tables on first boot. The CHECK constraints mirror
// the field validation so a bug higher up can never persist a negative
// quantity or a non-positive price.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			barcode TEXT UNIQUE,
			price_cents BIGINT NOT NULL CHECK (price_cents > 0),
			quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			customer_id TEXT REFERENCES customers(id) ON DELETE SET NULL,
			sold_at TIMESTAMPTZ NOT NULL,
			total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
			payment_method TEXT NOT NULL,
			tendered_cents BIGINT NOT NULL,
			change_cents BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			sale_id TEXT NOT NULL REFERENCES sales(id),
			product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
			product_name TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty > 0),
			unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents > 0)
		)`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			product_id TEXT REFERENCES products(id) ON DELETE SET NULL,
			direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
			qty INTEGER NOT NULL CHECK (qty > 0),
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'cashier',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales (sold_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), price_cents, quantity, created_at, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), price_cents, quantity, created_at, updated_at
		FROM products
		WHERE barcode = $1 OR name ILIKE '%' || $1 || '%'
		ORDER BY name
	`, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (id, name, barcode, price_cents, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at
	`, product.ID, product.Name, nullIfEmpty(product.Barcode), product.PriceCents, product.Quantity).
		Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode", store.ErrConflict)
		}
		return nil, err
	}

	// Initial stock counts as an inbound movement.
	if product.Quantity > 0 {
		if err := insertMovement(ctx, tx, product.ID, domain.MovementIn, product.Quantity, product.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, `id = $1`, id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, `barcode = $1`, barcode)
}

func (s *Store) getProduct(ctx context.Context, where string, arg any) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), price_cents, quantity, created_at, updated_at
		FROM products
		WHERE `+where, arg).
		Scan(&p.ID, &p.Name, &p.Barcode, &p.PriceCents, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), price_cents, quantity, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.Product, len(products))
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var currentQty int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity FROM products WHERE id = $1 FOR UPDATE
	`, product.ID).Scan(&currentQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, barcode = $3, price_cents = $4, quantity = $5, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, product.ID, product.Name, nullIfEmpty(product.Barcode), product.PriceCents, product.Quantity).
		Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode", store.ErrConflict)
		}
		return nil, err
	}

	// A manual quantity edit is still a stock event and lands in the ledger.
	if delta := product.Quantity - currentQty; delta > 0 {
		if err := insertMovement(ctx, tx, product.ID, domain.MovementIn, delta, product.UpdatedAt); err != nil {
			return nil, err
		}
	} else if delta < 0 {
		if err := insertMovement(ctx, tx, product.ID, domain.MovementOut, -delta, product.UpdatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int, at time.Time) (*domain.Product, error) {
	if delta == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	var row *sql.Row
	if delta < 0 {
		// Conditional decrement: the WHERE guard makes a concurrent
		// over-draw impossible regardless of isolation level.
		row = tx.QueryRowContext(ctx, `
			UPDATE products
			SET quantity = quantity + $2, updated_at = $3
			WHERE id = $1 AND quantity >= -$2
			RETURNING id, name, COALESCE(barcode, ''), price_cents, quantity, created_at, updated_at
		`, productID, delta, at)
	} else {
		row = tx.QueryRowContext(ctx, `
			UPDATE products
			SET quantity = quantity + $2, updated_at = $3
			WHERE id = $1
			RETURNING id, name, COALESCE(barcode, ''), price_cents, quantity, created_at, updated_at
		`, productID, delta, at)
	}
	err = row.Scan(&p.ID, &p.Name, &p.Barcode, &p.PriceCents, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if delta < 0 {
				if exists, existsErr := s.productExists(ctx, productID); existsErr == nil && exists {
					return nil, store.ErrInsufficientStock
				}
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	direction := domain.MovementIn
	qty := delta
	if delta < 0 {
		direction = domain.MovementOut
		qty = -delta
	}
	if err := insertMovement(ctx, tx, productID, direction, qty, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) productExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, email, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email)).
		Scan(&customer.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4
		WHERE id = $1
		RETURNING created_at
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email)).
		Scan(&customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updated := customer
	return &updated, nil
}

// DeleteCustomer relies on the ON DELETE SET NULL foreign key, so historical
// sales keep their rows with the customer reference cleared.
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateSale is the commit phase of checkout: one serializable transaction
// covering the sale header, its items, the stock decrements and the "out"
// movement rows. Stock is re-verified inside the transaction with a
// conditional decrement so two concurrent sales can never drive a product
// negative; any failing line rolls back the whole unit.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	var itemsTotal int64
	for _, item := range sale.Items {
		if item.Qty < 1 || item.UnitPriceCents < 1 {
			return nil, store.ErrInvalidInput
		}
		itemsTotal += int64(item.Qty) * item.UnitPriceCents
	}
	if itemsTotal != sale.TotalCents {
		return nil, fmt.Errorf("%w: sale total does not match item subtotals", store.ErrInvalidInput)
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := uniqueProductIDs(sale.Items)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, quantity
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	type productState struct {
		name string
		qty  int
	}
	productMap := make(map[string]productState, len(ids))
	for rows.Next() {
		var id, name string
		var qty int
		if err := rows.Scan(&id, &name, &qty); err != nil {
			_ = rows.Close()
			return nil, err
		}
		productMap[id] = productState{name: name, qty: qty}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, item := range sale.Items {
		product, exists := productMap[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if product.qty < item.Qty {
			return nil, fmt.Errorf("%w: %s (requested %d, available %d)",
				store.ErrInsufficientStock, product.name, item.Qty, product.qty)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, sold_at, total_cents, payment_method, tendered_cents, change_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sale.ID, nullIfEmptyPtr(sale.CustomerID), sale.SoldAt, sale.TotalCents, sale.PaymentMethod, sale.TenderedCents, sale.ChangeCents)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	for _, item := range sale.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $2, updated_at = $3
			WHERE id = $1 AND quantity >= $2
		`, item.ProductID, item.Qty, sale.SoldAt)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			product := productMap[item.ProductID]
			return nil, fmt.Errorf("%w: %s (requested %d, available %d)",
				store.ErrInsufficientStock, product.name, item.Qty, product.qty)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, qty, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5)
		`, sale.ID, item.ProductID, item.ProductName, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}

		if err := insertMovement(ctx, tx, item.ProductID, domain.MovementOut, item.Qty, sale.SoldAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	committed := sale
	return &committed, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	var customerName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.customer_id, c.name, s.sold_at, s.total_cents, s.payment_method, s.tendered_cents, s.change_cents
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.id = $1
	`, id).Scan(&sale.ID, &customerID, &customerName, &sale.SoldAt, &sale.TotalCents, &sale.PaymentMethod, &sale.TenderedCents, &sale.ChangeCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		sale.CustomerID = &customerID.String
	}
	if customerName.Valid {
		sale.CustomerName = customerName.String
	}

	items, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, c.name, s.sold_at, s.total_cents, s.payment_method, s.tendered_cents, s.change_cents
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		ORDER BY s.sold_at DESC, s.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	saleIDs := make([]string, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var customerID sql.NullString
		var customerName sql.NullString
		if err := rows.Scan(&sale.ID, &customerID, &customerName, &sale.SoldAt, &sale.TotalCents, &sale.PaymentMethod, &sale.TenderedCents, &sale.ChangeCents); err != nil {
			return nil, err
		}
		if customerID.Valid {
			sale.CustomerID = &customerID.String
		}
		if customerName.Valid {
			sale.CustomerName = customerName.String
		}
		sales = append(sales, sale)
		saleIDs = append(saleIDs, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemsBySale, err := s.loadSaleItems(ctx, saleIDs)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return sales, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, COALESCE(product_id, ''), product_name, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], item)
	}
	return result, rows.Err()
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT m.id, COALESCE(m.product_id, ''), COALESCE(p.name, ''), m.direction, m.qty, m.occurred_at
		FROM stock_movements m
		LEFT JOIN products p ON p.id = m.product_id
	`
	args := []any{limit}
	if productID != "" {
		query += ` WHERE m.product_id = $2`
		args = append(args, productID)
	}
	query += ` ORDER BY m.occurred_at DESC, m.id DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProductName, &m.Direction, &m.Qty, &m.OccurredAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) GetOverviewStats(ctx context.Context) (*domain.OverviewStats, error) {
	var stats domain.OverviewStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE quantity > 0),
			COUNT(*) FILTER (WHERE quantity = 0),
			COALESCE(SUM(price_cents * quantity), 0)
		FROM products
	`).Scan(&stats.ProductCount, &stats.InStockCount, &stats.OutOfStockCount, &stats.InventoryValueCents)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM sales
	`).Scan(&stats.SaleCount, &stats.SalesTotalCents)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) GetSaleItemTotals(ctx context.Context, since time.Time) ([]domain.SaleItemTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(i.product_id, ''), i.product_name, SUM(i.qty), SUM(i.qty * i.unit_price_cents)
		FROM sale_items i
		JOIN sales s ON s.id = i.sale_id
		WHERE s.sold_at >= $1
		GROUP BY i.product_id, i.product_name
		ORDER BY i.product_name
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.SaleItemTotal, 0, 32)
	for rows.Next() {
		var t domain.SaleItemTotal
		if err := rows.Scan(&t.ProductID, &t.ProductName, &t.UnitsSold, &t.RevenueCents); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username", store.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.PriceCents, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func insertMovement(ctx context.Context, tx *sql.Tx, productID string, direction string, qty int, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, direction, qty, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, xid.New("mov"), productID, direction, qty, at)
	return err
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, exists := seen[item.ProductID]; exists {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)
	return ids
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

func nullIfEmptyPtr(val *string) any {
	if val == nil || strings.TrimSpace(*val) == "" {
		return nil
	}
	return *val
}

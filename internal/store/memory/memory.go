package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	barcodeIndex    map[string]string
	customers       map[string]domain.Customer
	salesByID       map[string]*domain.Sale
	saleOrder       []string
	movements       []domain.StockMovement
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		barcodeIndex:    make(map[string]string),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]*domain.Sale),
		saleOrder:       make([]string, 0, 64),
		movements:       make([]domain.StockMovement, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []struct {
		name    string
		barcode string
		price   int64
		qty     int
	}{
		{"Mie Goreng Instan", "8991002101234", 3500, 120},
		{"Telur 10 Butir", "8991002102347", 26500, 45},
		{"Susu UHT 1L", "8991002103450", 18900, 60},
		{"Roti Tawar", "8991002104563", 17800, 25},
		{"Kopi Sachet", "8991002105676", 2600, 200},
		{"Gula 1kg", "8991002106789", 17400, 80},
		{"Teh Celup", "8991002107892", 9800, 70},
		{"Air Mineral 600ml", "8991002108905", 3900, 150},
		{"Keripik Singkong", "8991002109018", 12800, 40},
		{"Sabun Mandi", "8991002110121", 7400, 90},
	}
	for _, p := range seed {
		id := xid.New("prd")
		s.products[id] = domain.Product{
			ID:         id,
			Name:       p.name,
			Barcode:    p.barcode,
			PriceCents: p.price,
			Quantity:   p.qty,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.barcodeIndex[p.barcode] = id
		s.movements = append(s.movements, domain.StockMovement{
			ID:         xid.New("mov"),
			ProductID:  id,
			Direction:  domain.MovementIn,
			Qty:        p.qty,
			OccurredAt: now,
		})
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, query string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []domain.Product{}, nil
	}

	matches := make([]domain.Product, 0, 8)
	for _, p := range s.products {
		if p.Barcode == query || strings.Contains(strings.ToLower(p.Name), needle) {
			matches = append(matches, p)
		}
	}
	slices.SortFunc(matches, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return matches, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.Barcode != "" {
		if _, taken := s.barcodeIndex[product.Barcode]; taken {
			return nil, fmt.Errorf("%w: barcode", store.ErrConflict)
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	s.products[product.ID] = product
	if product.Barcode != "" {
		s.barcodeIndex[product.Barcode] = product.ID
	}
	if product.Quantity > 0 {
		s.appendMovementLocked(product.ID, domain.MovementIn, product.Quantity, now)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.barcodeIndex[barcode]
	if !exists {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, exists := s.products[id]; exists {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.PriceCents < 1 || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.Barcode != "" && product.Barcode != current.Barcode {
		if _, taken := s.barcodeIndex[product.Barcode]; taken {
			return nil, fmt.Errorf("%w: barcode", store.ErrConflict)
		}
	}

	now := time.Now().UTC()
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = now

	if current.Barcode != "" && current.Barcode != product.Barcode {
		delete(s.barcodeIndex, current.Barcode)
	}
	if product.Barcode != "" {
		s.barcodeIndex[product.Barcode] = product.ID
	}
	s.products[product.ID] = product

	// A manual quantity edit is still a stock event and lands in the ledger.
	if delta := product.Quantity - current.Quantity; delta > 0 {
		s.appendMovementLocked(product.ID, domain.MovementIn, delta, now)
	} else if delta < 0 {
		s.appendMovementLocked(product.ID, domain.MovementOut, -delta, now)
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	if product.Barcode != "" {
		delete(s.barcodeIndex, product.Barcode)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if delta == 0 {
		return nil, store.ErrInvalidInput
	}
	if delta < 0 && product.Quantity+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	product.Quantity += delta
	product.UpdatedAt = at
	s.products[productID] = product

	if delta > 0 {
		s.appendMovementLocked(productID, domain.MovementIn, delta, at)
	} else {
		s.appendMovementLocked(productID, domain.MovementOut, -delta, at)
	}

	adjusted := product
	return &adjusted, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	customer.CreatedAt = current.CreatedAt
	s.customers[customer.ID] = customer

	updated := customer
	return &updated, nil
}

// DeleteCustomer clears the customer reference on historical sales instead of
// cascading, so committed sales survive the deletion intact.
func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[id]; !exists {
		return store.ErrNotFound
	}
	for _, sale := range s.salesByID {
		if sale.CustomerID != nil && *sale.CustomerID == id {
			sale.CustomerID = nil
		}
	}
	delete(s.customers, id)
	return nil
}

// CreateSale commits the sale header, its items, the stock decrements and the
// "out" movement rows as one unit: every line is re-verified against current
// stock before any state changes, so a failing line leaves nothing behind.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	for _, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if product.Quantity < item.Qty {
			return nil, fmt.Errorf("%w: %s (requested %d, available %d)",
				store.ErrInsufficientStock, product.Name, item.Qty, product.Quantity)
		}
	}
	if sale.CustomerID != nil {
		if _, exists := s.customers[*sale.CustomerID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}

	for _, item := range sale.Items {
		product := s.products[item.ProductID]
		product.Quantity -= item.Qty
		product.UpdatedAt = sale.SoldAt
		s.products[item.ProductID] = product
		s.appendMovementLocked(item.ProductID, domain.MovementOut, item.Qty, sale.SoldAt)
	}

	stored := sale
	s.salesByID[sale.ID] = &stored
	s.saleOrder = append(s.saleOrder, sale.ID)

	committed := sale
	return &committed, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := *sale
	copySale.Items = slices.Clone(sale.Items)
	s.attachCustomerNameLocked(&copySale)
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.saleOrder))
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		copySale := *sale
		copySale.Items = slices.Clone(sale.Items)
		s.attachCustomerNameLocked(&copySale)
		sales = append(sales, copySale)
		if limit > 0 && len(sales) >= limit {
			break
		}
	}
	return sales, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.StockMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if productID != "" && m.ProductID != productID {
			continue
		}
		if product, exists := s.products[m.ProductID]; exists {
			m.ProductName = product.Name
		}
		movements = append(movements, m)
		if limit > 0 && len(movements) >= limit {
			break
		}
	}
	return movements, nil
}

func (s *Store) GetOverviewStats(_ context.Context) (*domain.OverviewStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.OverviewStats{ProductCount: len(s.products), SaleCount: len(s.salesByID)}
	for _, p := range s.products {
		if p.Quantity > 0 {
			stats.InStockCount++
		} else {
			stats.OutOfStockCount++
		}
		stats.InventoryValueCents += p.PriceCents * int64(p.Quantity)
	}
	for _, sale := range s.salesByID {
		stats.SalesTotalCents += sale.TotalCents
	}
	return &stats, nil
}

func (s *Store) GetSaleItemTotals(_ context.Context, since time.Time) ([]domain.SaleItemTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := make(map[string]*domain.SaleItemTotal)
	for _, sale := range s.salesByID {
		if sale.SoldAt.Before(since) {
			continue
		}
		for _, item := range sale.Items {
			total, exists := byProduct[item.ProductID]
			if !exists {
				total = &domain.SaleItemTotal{ProductID: item.ProductID, ProductName: item.ProductName}
				byProduct[item.ProductID] = total
			}
			total.UnitsSold += item.Qty
			total.RevenueCents += int64(item.Qty) * item.UnitPriceCents
		}
	}

	totals := make([]domain.SaleItemTotal, 0, len(byProduct))
	for _, total := range byProduct {
		totals = append(totals, *total)
	}
	slices.SortFunc(totals, func(a, b domain.SaleItemTotal) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return totals, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username", store.ErrConflict)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) appendMovementLocked(productID string, direction string, qty int, at time.Time) {
	s.movements = append(s.movements, domain.StockMovement{
		ID:         xid.New("mov"),
		ProductID:  productID,
		Direction:  direction,
		Qty:        qty,
		OccurredAt: at,
	})
}

func (s *Store) attachCustomerNameLocked(sale *domain.Sale) {
	if sale.CustomerID == nil {
		return
	}
	if customer, exists := s.customers[*sale.CustomerID]; exists {
		sale.CustomerName = customer.Name
	}
}

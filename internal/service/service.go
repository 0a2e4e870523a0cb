package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/report"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/validate"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// subtotalEpsilonCents is how far a client-declared subtotal may drift from
// the server-computed one before the divergence is logged. The sale always
// commits at the server's numbers either way.
const subtotalEpsilonCents = 1

type Service struct {
	repo    store.Repository
	reports *report.Engine
}

func New(repo store.Repository, reports *report.Engine) *Service {
	if reports == nil {
		reports = report.NewEngine(nil, 0)
	}

	return &Service{
		repo:    repo,
		reports: reports,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, s.storageErr("list products", err)
	}
	return products, nil
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	query = validate.Sanitize(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is empty", store.ErrInvalidInput)
	}

	products, err := s.repo.SearchProducts(ctx, query)
	if err != nil {
		return nil, s.storageErr("search products", err)
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	name := validate.Sanitize(req.Name)
	barcode := validate.Sanitize(req.Barcode)

	if err := validate.Name(name, 2); err != nil {
		return domain.Product{}, err
	}
	if err := validate.PriceCents(req.PriceCents); err != nil {
		return domain.Product{}, err
	}
	if err := validate.Quantity(req.Quantity); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       name,
		Barcode:    barcode,
		PriceCents: req.PriceCents,
		Quantity:   req.Quantity,
	})
	if err != nil {
		return domain.Product{}, s.storageErr("create product", err)
	}
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, s.storageErr("get product", err)
	}
	return *product, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, fmt.Errorf("%w: barcode is empty", store.ErrInvalidInput)
	}

	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, s.storageErr("get product by barcode", err)
	}
	return *product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, s.storageErr("get product", err)
	}

	next := *existing
	if req.Name != nil {
		next.Name = validate.Sanitize(*req.Name)
	}
	if req.Barcode != nil {
		next.Barcode = validate.Sanitize(*req.Barcode)
	}
	if req.PriceCents != nil {
		next.PriceCents = *req.PriceCents
	}
	if req.Quantity != nil {
		next.Quantity = *req.Quantity
	}

	if err := validate.Name(next.Name, 2); err != nil {
		return domain.Product{}, err
	}
	if err := validate.PriceCents(next.PriceCents); err != nil {
		return domain.Product{}, err
	}
	if err := validate.Quantity(next.Quantity); err != nil {
		return domain.Product{}, err
	}

	updated, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, s.storageErr("update product", err)
	}
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteProduct(ctx, strings.TrimSpace(id)); err != nil {
		return s.storageErr("delete product", err)
	}
	return nil
}

// Restock increases a product's on-hand quantity and records the "in"
// movement in the same unit of work.
func (s *Service) Restock(ctx context.Context, id string, qty int) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if qty < 1 {
		return domain.Product{}, fmt.Errorf("%w: restock quantity must be positive", store.ErrInvalidInput)
	}

	product, err := s.repo.AdjustStock(ctx, strings.TrimSpace(id), qty, time.Now().UTC())
	if err != nil {
		return domain.Product{}, s.storageErr("restock", err)
	}
	return *product, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, s.storageErr("list customers", err)
	}
	return customers, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := validate.Sanitize(req.Name)
	phone := validate.Sanitize(req.Phone)
	email := strings.TrimSpace(req.Email)

	if err := validate.Name(name, 2); err != nil {
		return domain.Customer{}, err
	}
	if err := validate.Email(email); err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  name,
		Phone: phone,
		Email: email,
	})
	if err != nil {
		return domain.Customer{}, s.storageErr("create customer", err)
	}
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, s.storageErr("get customer", err)
	}
	return *customer, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomerByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, s.storageErr("get customer", err)
	}

	next := *existing
	if req.Name != nil {
		next.Name = validate.Sanitize(*req.Name)
	}
	if req.Phone != nil {
		next.Phone = validate.Sanitize(*req.Phone)
	}
	if req.Email != nil {
		next.Email = strings.TrimSpace(*req.Email)
	}

	if err := validate.Name(next.Name, 2); err != nil {
		return domain.Customer{}, err
	}
	if err := validate.Email(next.Email); err != nil {
		return domain.Customer{}, err
	}

	updated, err := s.repo.UpdateCustomer(ctx, next)
	if err != nil {
		return domain.Customer{}, s.storageErr("update customer", err)
	}
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteCustomer(ctx, strings.TrimSpace(id)); err != nil {
		return s.storageErr("delete customer", err)
	}
	return nil
}

// Checkout takes a cart, validates it against live inventory in a read-only
// pre-flight pass, prices every line from the current server-side product
// rows, then commits the sale atomically. The client-declared subtotal is
// untrusted input kept only for discrepancy logging.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(lines) == 0 {
		return domain.CheckoutResponse{}, store.ErrEmptyCart
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, req.PaymentMethod)
	}

	// Pre-flight pass: read-only, so a doomed sale never mutates state.
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		if _, err := s.repo.GetCustomerByID(ctx, customerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.CheckoutResponse{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, customerID)
			}
			return domain.CheckoutResponse{}, s.storageErr("checkout customer lookup", err)
		}
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.CheckoutResponse{}, s.storageErr("checkout product lookup", err)
	}

	for _, line := range lines {
		product, exists := products[line.ProductID]
		if !exists {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if line.Qty > product.Quantity {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s (requested %d, available %d)",
				store.ErrInsufficientStock, product.Name, line.Qty, product.Quantity)
		}
	}

	// Authoritative pricing: the server's current unit price wins, always.
	items := make([]domain.SaleItem, 0, len(lines))
	var totalCents int64
	for _, line := range lines {
		product := products[line.ProductID]
		items = append(items, domain.SaleItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Qty:            line.Qty,
			UnitPriceCents: product.PriceCents,
		})
		totalCents += int64(line.Qty) * product.PriceCents
	}

	if req.DeclaredSubtotalCents > 0 {
		if diff := absInt64(req.DeclaredSubtotalCents - totalCents); diff > subtotalEpsilonCents {
			log.Printf("[service] WARN: checkout subtotal mismatch: declared=%d computed=%d diff=%d", req.DeclaredSubtotalCents, totalCents, diff)
		}
	}

	tendered := req.TenderedCents
	if tendered == 0 {
		tendered = totalCents
	}
	if tendered < totalCents {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: amount tendered is less than the total", store.ErrInvalidInput)
	}

	sale := domain.Sale{
		SoldAt:        time.Now().UTC(),
		TotalCents:    totalCents,
		PaymentMethod: req.PaymentMethod,
		TenderedCents: tendered,
		ChangeCents:   tendered - totalCents,
		Items:         items,
	}
	if customerID != "" {
		sale.CustomerID = &customerID
	}

	committed, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.CheckoutResponse{}, s.storageErr("checkout commit", err)
	}

	return domain.CheckoutResponse{
		SaleID:        committed.ID,
		TotalCents:    committed.TotalCents,
		TenderedCents: committed.TenderedCents,
		ChangeCents:   committed.ChangeCents,
		ItemCount:     len(committed.Items),
		SoldAt:        committed.SoldAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, s.storageErr("get sale", err)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	sales, err := s.repo.ListSales(ctx, limit)
	if err != nil {
		return nil, s.storageErr("list sales", err)
	}
	return sales, nil
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	movements, err := s.repo.ListStockMovements(ctx, strings.TrimSpace(productID), limit)
	if err != nil {
		return nil, s.storageErr("list stock movements", err)
	}
	return movements, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardReport, error) {
	dashboard, err := s.reports.Dashboard(ctx, func(ctx context.Context) (*report.SourceData, error) {
		stats, err := s.repo.GetOverviewStats(ctx)
		if err != nil {
			return nil, err
		}
		totals, err := s.repo.GetSaleItemTotals(ctx, time.Now().UTC().AddDate(0, 0, -30))
		if err != nil {
			return nil, err
		}
		movements, err := s.repo.ListStockMovements(ctx, "", 10)
		if err != nil {
			return nil, err
		}
		return &report.SourceData{Stats: *stats, ItemTotals: totals, Movements: movements}, nil
	})
	if err != nil {
		return domain.DashboardReport{}, s.storageErr("dashboard", err)
	}
	return *dashboard, nil
}

// storageErr passes through the typed business errors and collapses anything
// unexpected into ErrStorageUnavailable so internals never leak to callers.
func (s *Service) storageErr(op string, err error) error {
	for _, known := range []error{
		store.ErrNotFound,
		store.ErrConflict,
		store.ErrInsufficientStock,
		store.ErrInvalidInput,
		store.ErrEmptyCart,
		store.ErrWeakCredential,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	log.Printf("[service] ERROR: %s: %v", op, err)
	return store.ErrStorageUnavailable
}

// normalizeLines aggregates duplicate product references. A line with no
// product or a non-positive quantity is a caller bug, not something to drop
// silently.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	agg := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Qty < 1 {
			return nil, fmt.Errorf("%w: each cart line needs a product and a positive quantity", store.ErrInvalidInput)
		}
		if _, seen := agg[id]; !seen {
			order = append(order, id)
		}
		agg[id] += line.Qty
	}

	normalized := make([]domain.CartLine, 0, len(agg))
	for _, id := range order {
		normalized = append(normalized, domain.CartLine{ProductID: id, Qty: agg[id]})
	}
	return normalized, nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
		return true
	}
	return false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

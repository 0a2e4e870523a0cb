package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokoku/backend/internal/cache"
	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/report"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	reports := report.NewEngine(cache.NoopReportCache{}, 5*time.Second)
	return New(repo, reports)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

// createMilk sets up the canonical test product: 10 units at 5.00.
func createMilk(t *testing.T, svc *Service, qty int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:       "Milk 1L",
		Barcode:    "789123",
		PriceCents: 500,
		Quantity:   qty,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func TestProductBarcodeRoundTrip(t *testing.T) {
	svc := newTestService()
	created := createMilk(t, svc, 10)

	fetched, err := svc.GetProductByBarcode(context.Background(), "789123")
	if err != nil {
		t.Fatalf("fetch by barcode failed: %v", err)
	}
	if fetched.ID != created.ID || fetched.Name != "Milk 1L" || fetched.PriceCents != 500 || fetched.Quantity != 10 {
		t.Fatalf("round trip mismatch: %+v", fetched)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Name:       "Milk 1L",
		PriceCents: 500,
		Quantity:   10,
	})
	if err == nil {
		t.Fatalf("expected cashier product creation to be rejected")
	}
}

func TestCreateProductSanitizesName(t *testing.T) {
	svc := newTestService()

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:       "  <b>Milk 1L</b>  ",
		PriceCents: 500,
		Quantity:   5,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.Name != "Milk 1L" {
		t.Fatalf("expected sanitized name, got %q", product.Name)
	}
}

func TestCreateProductRejectsBadFields(t *testing.T) {
	svc := newTestService()

	cases := []domain.ProductCreateRequest{
		{Name: "X", PriceCents: 500, Quantity: 1},
		{Name: "Milk 1L", PriceCents: 0, Quantity: 1},
		{Name: "Milk 1L", PriceCents: 500, Quantity: -1},
	}
	for i, req := range cases {
		if _, err := svc.CreateProduct(adminCtx(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestCreateProductDuplicateBarcodeConflicts(t *testing.T) {
	svc := newTestService()
	createMilk(t, svc, 10)

	_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:       "Milk 2L",
		Barcode:    "789123",
		PriceCents: 900,
		Quantity:   5,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate barcode, got %v", err)
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: 3}},
		PaymentMethod: "cash",
		TenderedCents: 2000,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.TotalCents != 1500 {
		t.Fatalf("expected total 1500, got %d", resp.TotalCents)
	}
	if resp.ChangeCents != 500 {
		t.Fatalf("expected change 500, got %d", resp.ChangeCents)
	}

	after, err := svc.GetProduct(context.Background(), milk.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Quantity != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", after.Quantity)
	}

	movements, err := svc.ListStockMovements(context.Background(), milk.ID, 0)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	outCount := 0
	for _, m := range movements {
		if m.Direction == domain.MovementOut && m.Qty == 3 {
			outCount++
		}
	}
	if outCount != 1 {
		t.Fatalf("expected exactly one out movement of qty 3, got %d", outCount)
	}
}

func TestCheckoutSaleTotalMatchesItems(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: milk.ID, Qty: 2},
			{ProductID: milk.ID, Qty: 1},
		},
		TenderedCents: 2000,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	sale, err := svc.GetSale(context.Background(), resp.SaleID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	var itemsTotal int64
	for _, item := range sale.Items {
		itemsTotal += int64(item.Qty) * item.UnitPriceCents
	}
	if sale.TotalCents != itemsTotal {
		t.Fatalf("sale total %d does not equal item sum %d", sale.TotalCents, itemsTotal)
	}
	if len(sale.Items) != 1 || sale.Items[0].Qty != 3 {
		t.Fatalf("expected duplicate lines aggregated to qty 3, got %+v", sale.Items)
	}
}

func TestCheckoutInsufficientStockLeavesStateUnchanged(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 2)

	movementsBefore, _ := svc.ListStockMovements(context.Background(), milk.ID, 0)
	salesBefore, _ := svc.ListSales(context.Background(), 0)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: 5}},
		TenderedCents: 5000,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, err := svc.GetProduct(context.Background(), milk.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Quantity != 2 {
		t.Fatalf("expected stock to remain 2, got %d", after.Quantity)
	}

	movementsAfter, _ := svc.ListStockMovements(context.Background(), milk.ID, 0)
	if len(movementsAfter) != len(movementsBefore) {
		t.Fatalf("expected no new movement rows, before=%d after=%d", len(movementsBefore), len(movementsAfter))
	}
	salesAfter, _ := svc.ListSales(context.Background(), 0)
	if len(salesAfter) != len(salesBefore) {
		t.Fatalf("expected no sale row, before=%d after=%d", len(salesBefore), len(salesAfter))
	}
}

func TestCheckoutEmptyCartRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
}

func TestCheckoutRejectsNonPositiveLineQty(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductID: milk.ID, Qty: 0}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}

func TestCheckoutUnknownProductNotFound(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductID: "prd-missing", Qty: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCheckoutServerPriceWins(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	// Declared subtotal is wildly off; the sale still commits at server price.
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:                 []domain.CartLine{{ProductID: milk.ID, Qty: 2}},
		TenderedCents:         1000,
		DeclaredSubtotalCents: 1,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.TotalCents != 1000 {
		t.Fatalf("expected server-priced total 1000, got %d", resp.TotalCents)
	}
}

func TestCheckoutTenderedDefaultsToTotal(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductID: milk.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.TenderedCents != resp.TotalCents || resp.ChangeCents != 0 {
		t.Fatalf("expected tendered to default to total with zero change, got %+v", resp)
	}
}

func TestCheckoutShortPaymentRejected(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: 3}},
		TenderedCents: 1000,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for short payment, got %v", err)
	}
}

func TestCheckoutUnknownCustomerRejected(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerID: "cus-missing",
		Lines:      []domain.CartLine{{ProductID: milk.ID, Qty: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown customer, got %v", err)
	}
}

func TestCustomerEmailValidation(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{
		Name:  "Budi Santoso",
		Email: "not-an-email",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for malformed email, got %v", err)
	}

	customer, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{
		Name: "Budi Santoso",
	})
	if err != nil {
		t.Fatalf("expected customer without email to succeed, got %v", err)
	}
	if customer.ID == "" {
		t.Fatalf("expected created customer to carry an id")
	}
}

func TestDeleteCustomerPreservesSaleHistory(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	customer, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Name: "Siti Rahma"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerID:    customer.ID,
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: 2}},
		TenderedCents: 1000,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := svc.DeleteCustomer(adminCtx(), customer.ID); err != nil {
		t.Fatalf("delete customer failed: %v", err)
	}

	sale, err := svc.GetSale(context.Background(), resp.SaleID)
	if err != nil {
		t.Fatalf("expected sale to survive customer deletion, got %v", err)
	}
	if sale.CustomerID != nil {
		t.Fatalf("expected customer reference to be cleared, got %v", *sale.CustomerID)
	}
	if sale.TotalCents != 1000 || len(sale.Items) != 1 {
		t.Fatalf("sale record corrupted after customer deletion: %+v", sale)
	}
}

func TestRestockRecordsInMovement(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 2)

	product, err := svc.Restock(adminCtx(), milk.ID, 8)
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if product.Quantity != 10 {
		t.Fatalf("expected quantity 10 after restock, got %d", product.Quantity)
	}

	movements, err := svc.ListStockMovements(context.Background(), milk.ID, 0)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	found := false
	for _, m := range movements {
		if m.Direction == domain.MovementIn && m.Qty == 8 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an in movement of qty 8, got %+v", movements)
	}
}

func TestRestockRejectsNonPositiveQty(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 2)

	if _, err := svc.Restock(adminCtx(), milk.ID, 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero restock, got %v", err)
	}
}

func TestSearchProductsByBarcodeAndName(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	byBarcode, err := svc.SearchProducts(context.Background(), "789123")
	if err != nil {
		t.Fatalf("search by barcode failed: %v", err)
	}
	if len(byBarcode) != 1 || byBarcode[0].ID != milk.ID {
		t.Fatalf("expected exact barcode match, got %+v", byBarcode)
	}

	byName, err := svc.SearchProducts(context.Background(), "milk")
	if err != nil {
		t.Fatalf("search by name failed: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != milk.ID {
		t.Fatalf("expected name substring match, got %+v", byName)
	}

	if _, err := svc.SearchProducts(context.Background(), "   "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank query, got %v", err)
	}
}

func TestSalesHistoryIncludesCustomerName(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	customer, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Name: "Siti Rahma"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerID: customer.ID,
		Lines:      []domain.CartLine{{ProductID: milk.ID, Qty: 1}},
	}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	sales, err := svc.ListSales(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected one sale, got %d", len(sales))
	}
	if sales[0].CustomerName != "Siti Rahma" {
		t.Fatalf("expected customer name on history row, got %q", sales[0].CustomerName)
	}
}

func TestDashboardAggregates(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 10)

	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: 4}},
		TenderedCents: 2000,
	}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	dashboard, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if dashboard.Stats.SaleCount != 1 || dashboard.Stats.SalesTotalCents != 2000 {
		t.Fatalf("unexpected sales stats: %+v", dashboard.Stats)
	}
	if dashboard.Stats.ProductCount < 1 {
		t.Fatalf("expected products counted, got %+v", dashboard.Stats)
	}

	found := false
	for _, top := range dashboard.TopProducts {
		if top.ProductID == milk.ID && top.UnitsSold == 4 && top.RevenueCents == 2000 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected milk in top products, got %+v", dashboard.TopProducts)
	}
}

func TestQuantityNeverNegativeAcrossOperations(t *testing.T) {
	svc := newTestService()
	milk := createMilk(t, svc, 3)

	// Drain stock, then keep trying to oversell.
	for i := 0; i < 3; i++ {
		if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
			Lines: []domain.CartLine{{ProductID: milk.ID, Qty: 1}},
		}); err != nil {
			t.Fatalf("checkout %d failed: %v", i, err)
		}
	}
	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{{ProductID: milk.ID, Qty: 1}},
	}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on empty shelf, got %v", err)
	}

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Quantity < 0 {
			t.Fatalf("product %s has negative quantity %d", p.Name, p.Quantity)
		}
	}
}

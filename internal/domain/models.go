package domain

import "time"

const (
	MovementIn  = "in"
	MovementOut = "out"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Barcode    string    `json:"barcode,omitempty"`
	PriceCents int64     `json:"price_cents"`
	Quantity   int       `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	Barcode    string `json:"barcode,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Barcode    *string `json:"barcode,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Quantity   *int    `json:"quantity,omitempty"`
}

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type CustomerUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Email *string `json:"email,omitempty"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CheckoutRequest struct {
	CustomerID            string     `json:"customer_id,omitempty"`
	Lines                 []CartLine `json:"lines"`
	PaymentMethod         string     `json:"payment_method"`
	TenderedCents         int64      `json:"tendered_cents"`
	DeclaredSubtotalCents int64      `json:"declared_subtotal_cents,omitempty"`
}

type CheckoutResponse struct {
	SaleID        string `json:"sale_id"`
	TotalCents    int64  `json:"total_cents"`
	TenderedCents int64  `json:"tendered_cents"`
	ChangeCents   int64  `json:"change_cents"`
	ItemCount     int    `json:"item_count"`
	SoldAt        string `json:"sold_at"`
}

type Sale struct {
	ID            string     `json:"id"`
	CustomerID    *string    `json:"customer_id,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	SoldAt        time.Time  `json:"sold_at"`
	TotalCents    int64      `json:"total_cents"`
	PaymentMethod string     `json:"payment_method"`
	TenderedCents int64      `json:"tendered_cents"`
	ChangeCents   int64      `json:"change_cents"`
	Items         []SaleItem `json:"items"`
}

type SaleItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type StockMovement struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Direction   string    `json:"direction"`
	Qty         int       `json:"qty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type OverviewStats struct {
	ProductCount        int   `json:"product_count"`
	InStockCount        int   `json:"in_stock_count"`
	OutOfStockCount     int   `json:"out_of_stock_count"`
	InventoryValueCents int64 `json:"inventory_value_cents"`
	SaleCount           int   `json:"sale_count"`
	SalesTotalCents     int64 `json:"sales_total_cents"`
}

type TopProduct struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	UnitsSold    int    `json:"units_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

// SaleItemTotal is a raw per-product aggregation row used to build the
// dashboard's top-seller ranking.
type SaleItemTotal struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	UnitsSold    int    `json:"units_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

type DashboardReport struct {
	Stats           OverviewStats   `json:"stats"`
	TopProducts     []TopProduct    `json:"top_products"`
	RecentMovements []StockMovement `json:"recent_movements"`
	GeneratedAt     string          `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CompanySettings struct {
	Currency              string `json:"currency"`
	CountryCode           string `json:"country_code"`
	DefaultStockThreshold int    `json:"default_stock_threshold"`
}

type Company struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OwnerUsername string `json:"owner_username"`
	// Employees maps username to role for everyone attached to the company.
	Employees map[string]string `json:"employees"`
	Settings  CompanySettings   `json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
}

type CompanySettingsUpdateRequest struct {
	Currency              *string `json:"currency,omitempty"`
	CountryCode           *string `json:"country_code,omitempty"`
	DefaultStockThreshold *int    `json:"default_stock_threshold,omitempty"`
}

// EmployeeAccount is an internal persistence model for auth credentials.
type EmployeeAccount struct {
	Username  string
	Password  string
	Role      string
	CompanyID string
	Phone     string
	Active    bool
	CreatedAt time.Time
}

type EmployeeCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
}

type EmployeeView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID             string `json:"id"`
	CompanyID      string `json:"company_id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	Kind           string `json:"kind"`
	PriceCents     int64  `json:"price_cents"`
	CostCents      int64  `json:"cost_cents"`
	StockThreshold int    `json:"stock_threshold"`
	Active         bool   `json:"active"`
}

type ProductCreateRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Kind           string `json:"kind"`
	PriceCents     int64  `json:"price_cents"`
	CostCents      int64  `json:"cost_cents"`
	StockThreshold int    `json:"stock_threshold"`
	InitialStock   int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Category       *string `json:"category,omitempty"`
	PriceCents     *int64  `json:"price_cents,omitempty"`
	CostCents      *int64  `json:"cost_cents,omitempty"`
	StockThreshold *int    `json:"stock_threshold,omitempty"`
	Active         *bool   `json:"active,omitempty"`
}

type StockBatch struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	ItemID        string    `json:"item_id"`
	ItemType      string    `json:"item_type"`
	QtyReceived   int       `json:"qty_received"`
	QtyRemaining  int       `json:"qty_remaining"`
	UnitCostCents int64     `json:"unit_cost_cents"`
	Source        string    `json:"source"`
	ReceivedAt    time.Time `json:"received_at"`
}

type StockBatchReceiveRequest struct {
	ItemID        string `json:"item_id"`
	ItemType      string `json:"item_type"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type StockLevel struct {
	ItemID    string `json:"item_id"`
	ItemType  string `json:"item_type"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	Threshold int    `json:"threshold"`
	Status    string `json:"status"`
}

type StockLevelsResponse struct {
	CompanyID string       `json:"company_id"`
	Levels    []StockLevel `json:"levels"`
}

type Customer struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Sale struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	CustomerID      string     `json:"customer_id,omitempty"`
	CashierUsername string     `json:"cashier_username"`
	PaymentMethod   string     `json:"payment_method"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	DiscountCents   int64      `json:"discount_cents"`
	TotalCents      int64      `json:"total_cents"`
	Status          string     `json:"status"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Lines           []SaleLine `json:"lines"`
}

type CheckoutRequest struct {
	TerminalID    string     `json:"terminal_id"`
	CustomerID    string     `json:"customer_id,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	DiscountCents int64      `json:"discount_cents"`
	CartLines     []CartLine `json:"cart_lines"`
}

type CheckoutResponse struct {
	Sale Sale `json:"sale"`
}

type SaleCancelRequest struct {
	Reason string `json:"reason"`
}

type HeldCart struct {
	CompanyID       string     `json:"company_id"`
	TerminalID      string     `json:"terminal_id"`
	CashierUsername string     `json:"cashier_username"`
	CustomerID      string     `json:"customer_id,omitempty"`
	DiscountCents   int64      `json:"discount_cents"`
	Lines           []CartLine `json:"lines"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type HeldCartSaveRequest struct {
	TerminalID    string     `json:"terminal_id"`
	CustomerID    string     `json:"customer_id,omitempty"`
	DiscountCents int64      `json:"discount_cents"`
	Lines         []CartLine `json:"lines"`
}

type Expense struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Label       string    `json:"label"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	IncurredAt  time.Time `json:"incurred_at"`
}

type ExpenseCreateRequest struct {
	Label       string `json:"label"`
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	IncurredAt  string `json:"incurred_at,omitempty"`
}

type FinanceEntry struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"company_id"`
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	SourceID   string          `json:"source_id"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type ProductionArticle struct {
	RawMaterialID string `json:"raw_material_id"`
	QtyPerUnit    int    `json:"qty_per_unit"`
}

type Production struct {
	ID         string              `json:"id"`
	CompanyID  string              `json:"company_id"`
	ProductID  string              `json:"product_id"`
	Qty        int                 `json:"qty"`
	Articles   []ProductionArticle `json:"articles"`
	UnitCost   decimal.Decimal     `json:"unit_cost"`
	Status     string              `json:"status"`
	ProducedAt time.Time           `json:"produced_at"`
}

type ProductionCreateRequest struct {
	ProductID string              `json:"product_id"`
	Qty       int                 `json:"qty"`
	Articles  []ProductionArticle `json:"articles"`
}

type Notification struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Recipient string    `json:"recipient"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ItemID    string    `json:"item_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type StockAlertHistory struct {
	CompanyID      string    `json:"company_id"`
	ItemID         string    `json:"item_id"`
	ItemType       string    `json:"item_type"`
	Classification string    `json:"classification"`
	SentAt         time.Time `json:"sent_at"`
}

type AlertRunResult struct {
	Evaluated int `json:"evaluated"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	CompanyID   string `json:"company_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username  string
	Role      string
	CompanyID string
}

type ReceiptResponse struct {
	SaleID       string `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

const (
	RoleOwner    = "owner"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

const (
	ItemTypeProduct     = "product"
	ItemTypeRawMaterial = "raw_material"
)

const (
	ProductKindFinished    = "finished"
	ProductKindRawMaterial = "raw_material"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	BatchSourcePurchase   = "purchase"
	BatchSourceProduction = "production"
	BatchSourceRestore    = "restore"
)

const (
	AlertNone    = "none"
	AlertLow     = "low"
	AlertRupture = "rupture"
)

const (
	NotificationStockLow     = "stock_low"
	NotificationStockRupture = "stock_rupture"
)

const (
	FinanceKindIncome  = "income"
	FinanceKindOutcome = "outcome"
)

const (
	FinanceSourceSale       = "sale"
	FinanceSourceExpense    = "expense"
	FinanceSourceProduction = "production"
)

const ProductionStatusCompleted = "completed"

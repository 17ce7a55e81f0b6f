package store

import (
	"context"
	"errors"
	"time"

	"boutika/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("already exists")
)

type Repository interface {
	GetCompany(ctx context.Context, companyID string) (*domain.Company, error)
	CreateCompany(ctx context.Context, company domain.Company) (*domain.Company, error)
	UpdateCompanySettings(ctx context.Context, companyID string, settings domain.CompanySettings) (*domain.Company, error)
	SetCompanyEmployeeRole(ctx context.Context, companyID string, username string, role string) error

	CreateEmployee(ctx context.Context, account domain.EmployeeAccount) error
	GetEmployee(ctx context.Context, username string) (*domain.EmployeeAccount, error)
	ListEmployees(ctx context.Context, companyID string) ([]domain.EmployeeAccount, error)
	UpdateEmployeePassword(ctx context.Context, username string, password string) error

	ListProducts(ctx context.Context, companyID string, kind string) ([]domain.Product, error)
	GetProduct(ctx context.Context, companyID string, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, companyID string, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateStockBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error)
	ListStockBatches(ctx context.Context, companyID string, itemID string, limit int) ([]domain.StockBatch, error)
	// GetStockQty sums qty_remaining across an item's batches.
	GetStockQty(ctx context.Context, companyID string, itemID string) (int, error)
	GetStockQtyMap(ctx context.Context, companyID string, itemIDs []string) (map[string]int, error)
	// ConsumeStock decrements qty_remaining oldest batch first and returns
	// ErrInsufficientStock when the aggregate is short.
	ConsumeStock(ctx context.Context, companyID string, itemID string, qty int) error
	// RestoreStock re-adds qty to the newest batches, reversing ConsumeStock.
	RestoreStock(ctx context.Context, companyID string, itemID string, qty int) error

	ListCustomers(ctx context.Context, companyID string) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, companyID string, customerID string) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	CancelSale(ctx context.Context, companyID string, saleID string, reason string, at time.Time) (*domain.Sale, error)

	SaveHeldCart(ctx context.Context, cart domain.HeldCart) error
	GetHeldCart(ctx context.Context, companyID string, terminalID string) (*domain.HeldCart, error)
	DeleteHeldCart(ctx context.Context, companyID string, terminalID string) error

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.Expense, error)
	DeleteExpense(ctx context.Context, companyID string, expenseID string) (*domain.Expense, error)

	CreateFinanceEntry(ctx context.Context, entry domain.FinanceEntry) error
	ListFinanceEntries(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.FinanceEntry, error)
	DeleteFinanceEntryBySource(ctx context.Context, companyID string, source string, sourceID string) error

	CreateProduction(ctx context.Context, production domain.Production) (*domain.Production, error)
	ListProductions(ctx context.Context, companyID string, limit int) ([]domain.Production, error)

	CreateNotification(ctx context.Context, notification domain.Notification) error
	ListNotifications(ctx context.Context, companyID string, recipient string, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, companyID string, notificationID string) error

	GetLastStockAlert(ctx context.Context, companyID string, itemID string) (*domain.StockAlertHistory, error)
	UpsertStockAlertHistory(ctx context.Context, entry domain.StockAlertHistory) error
}

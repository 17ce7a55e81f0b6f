package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"boutika/backend/internal/alert"
	"boutika/backend/internal/cache"
	"boutika/backend/internal/domain"
	"boutika/backend/internal/phone"
	"boutika/backend/internal/receipt"
	"boutika/backend/internal/store"
	"boutika/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var ErrForbidden = errors.New("forbidden")

type Service struct {
	repo         store.Repository
	alerts       *alert.Engine
	productCache cache.ProductCache
	saleCache    cache.SaleCache
	cacheTTL     time.Duration
	log          *zap.Logger
	carts        *cartSaver
}

func New(repo store.Repository, alerts *alert.Engine, productCache cache.ProductCache, saleCache cache.SaleCache, cacheTTL time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	s := &Service{
		repo:         repo,
		alerts:       alerts,
		productCache: productCache,
		saleCache:    saleCache,
		cacheTTL:     cacheTTL,
		log:          log,
	}
	s.carts = newCartSaver(repo, log, time.Second)
	return s
}

// roleRank orders roles for permission checks: owner > manager > employee.
func roleRank(role string) int {
	switch role {
	case domain.RoleOwner:
		return 3
	case domain.RoleManager:
		return 2
	case domain.RoleEmployee:
		return 1
	default:
		return 0
	}
}

func requireRole(ctx context.Context, minimum string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	if roleRank(actor.Role) < roleRank(minimum) {
		return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, minimum)
	}
	return actor, nil
}

// ---- Company ----

func (s *Service) GetCompany(ctx context.Context) (domain.Company, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.Company{}, err
	}
	company, err := s.repo.GetCompany(ctx, actor.CompanyID)
	if err != nil {
		return domain.Company{}, err
	}
	return *company, nil
}

func (s *Service) UpdateCompanySettings(ctx context.Context, req domain.CompanySettingsUpdateRequest) (domain.Company, error) {
	actor, err := requireRole(ctx, domain.RoleOwner)
	if err != nil {
		return domain.Company{}, err
	}

	company, err := s.repo.GetCompany(ctx, actor.CompanyID)
	if err != nil {
		return domain.Company{}, err
	}

	settings := company.Settings
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency == "" {
			return domain.Company{}, store.ErrInvalidInput
		}
		settings.Currency = currency
	}
	if req.CountryCode != nil {
		settings.CountryCode = strings.TrimPrefix(strings.TrimSpace(*req.CountryCode), "+")
	}
	if req.DefaultStockThreshold != nil {
		if *req.DefaultStockThreshold < 0 {
			return domain.Company{}, store.ErrInvalidInput
		}
		settings.DefaultStockThreshold = *req.DefaultStockThreshold
	}

	updated, err := s.repo.UpdateCompanySettings(ctx, actor.CompanyID, settings)
	if err != nil {
		return domain.Company{}, err
	}
	return *updated, nil
}

// ---- Products ----

// ListProducts serves the product catalogue through the read-through cache.
func (s *Service) ListProducts(ctx context.Context, kind string) ([]domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return nil, err
	}

	if kind == "" {
		if cached, hit, err := s.productCache.Get(ctx, actor.CompanyID); err == nil && hit {
			return cached, nil
		} else if err != nil {
			s.log.Warn("product cache read failed", zap.Error(err))
		}
	}

	products, err := s.repo.ListProducts(ctx, actor.CompanyID, kind)
	if err != nil {
		return nil, err
	}

	if kind == "" {
		if err := s.productCache.Set(ctx, actor.CompanyID, products, s.cacheTTL); err != nil {
			s.log.Warn("product cache write failed", zap.Error(err))
		}
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Kind == "" {
		req.Kind = domain.ProductKindFinished
	}
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Kind != domain.ProductKindFinished && req.Kind != domain.ProductKindRawMaterial {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Kind == domain.ProductKindFinished && req.PriceCents < 1 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.CostCents < 0 || req.StockThreshold < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		ID:             xid.New("prod"),
		CompanyID:      actor.CompanyID,
		Name:           req.Name,
		Category:       req.Category,
		Kind:           req.Kind,
		PriceCents:     req.PriceCents,
		CostCents:      req.CostCents,
		StockThreshold: req.StockThreshold,
		Active:         true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		_, err := s.repo.CreateStockBatch(ctx, domain.StockBatch{
			ID:            xid.New("batch"),
			CompanyID:     actor.CompanyID,
			ItemID:        created.ID,
			ItemType:      itemTypeForKind(created.Kind),
			QtyReceived:   req.InitialStock,
			QtyRemaining:  req.InitialStock,
			UnitCostCents: created.CostCents,
			Source:        domain.BatchSourcePurchase,
			ReceivedAt:    time.Now().UTC(),
		})
		if err != nil {
			return domain.Product{}, err
		}
	}

	s.invalidateProductCache(ctx, actor.CompanyID)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.CompanyID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.CostCents = *req.CostCents
	}
	if req.StockThreshold != nil {
		if *req.StockThreshold < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.StockThreshold = *req.StockThreshold
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateProductCache(ctx, actor.CompanyID)
	return *saved, nil
}

func (s *Service) invalidateProductCache(ctx context.Context, companyID string) {
	if err := s.productCache.Invalidate(ctx, companyID); err != nil {
		s.log.Warn("product cache invalidation failed", zap.Error(err))
	}
}

func itemTypeForKind(kind string) string {
	if kind == domain.ProductKindRawMaterial {
		return domain.ItemTypeRawMaterial
	}
	return domain.ItemTypeProduct
}

// ---- Stock ----

func (s *Service) ReceiveStockBatch(ctx context.Context, req domain.StockBatchReceiveRequest) (domain.StockBatch, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.StockBatch{}, err
	}

	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" || req.Qty < 1 || req.UnitCostCents < 0 {
		return domain.StockBatch{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProduct(ctx, actor.CompanyID, req.ItemID)
	if err != nil {
		return domain.StockBatch{}, err
	}

	batch, err := s.repo.CreateStockBatch(ctx, domain.StockBatch{
		ID:            xid.New("batch"),
		CompanyID:     actor.CompanyID,
		ItemID:        product.ID,
		ItemType:      itemTypeForKind(product.Kind),
		QtyReceived:   req.Qty,
		QtyRemaining:  req.Qty,
		UnitCostCents: req.UnitCostCents,
		Source:        domain.BatchSourcePurchase,
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		return domain.StockBatch{}, err
	}

	// Re-evaluate so a restock that is still below threshold resends
	// through the classification-change gate.
	if _, _, err := s.alerts.Process(ctx, actor.CompanyID, *product); err != nil {
		s.log.Warn("stock alert evaluation failed",
			zap.String("product_id", product.ID),
			zap.Error(err))
	}

	return *batch, nil
}

func (s *Service) ListStockBatches(ctx context.Context, itemID string, limit int) ([]domain.StockBatch, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(itemID) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListStockBatches(ctx, actor.CompanyID, itemID, limit)
}

// StockLevels reports aggregate quantities with their alert classification.
func (s *Service) StockLevels(ctx context.Context) (domain.StockLevelsResponse, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}

	company, err := s.repo.GetCompany(ctx, actor.CompanyID)
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}

	products, err := s.repo.ListProducts(ctx, actor.CompanyID, "")
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.Active {
			ids = append(ids, p.ID)
		}
	}
	qtyMap, err := s.repo.GetStockQtyMap(ctx, actor.CompanyID, ids)
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}

	levels := make([]domain.StockLevel, 0, len(ids))
	for _, p := range products {
		if !p.Active {
			continue
		}
		threshold := p.StockThreshold
		if threshold <= 0 {
			threshold = company.Settings.DefaultStockThreshold
		}
		qty := qtyMap[p.ID]
		levels = append(levels, domain.StockLevel{
			ItemID:    p.ID,
			ItemType:  itemTypeForKind(p.Kind),
			Name:      p.Name,
			Qty:       qty,
			Threshold: threshold,
			Status:    alert.Classify(qty, threshold),
		})
	}

	return domain.StockLevelsResponse{CompanyID: actor.CompanyID, Levels: levels}, nil
}

// RunStockAlerts sweeps every active item through the alert pipeline.
func (s *Service) RunStockAlerts(ctx context.Context) (domain.AlertRunResult, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.AlertRunResult{}, err
	}
	return s.alerts.Run(ctx, actor.CompanyID)
}

// ---- Checkout ----

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}
	if req.DiscountCents < 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}

	normalized := normalizeCartLines(req.CartLines)
	if len(normalized) == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}

	ids := make([]string, 0, len(normalized))
	for _, line := range normalized {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, actor.CompanyID, ids)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	subtotal := int64(0)
	saleLines := make([]domain.SaleLine, 0, len(normalized))
	for _, line := range normalized {
		product, exists := products[line.ProductID]
		if !exists || !product.Active || product.Kind != domain.ProductKindFinished {
			return domain.CheckoutResponse{}, store.ErrInvalidInput
		}
		subtotal += int64(line.Qty) * product.PriceCents
		saleLines = append(saleLines, domain.SaleLine{
			ProductID:      product.ID,
			Name:           product.Name,
			Qty:            line.Qty,
			UnitPriceCents: product.PriceCents,
		})
	}

	if req.DiscountCents > subtotal {
		req.DiscountCents = subtotal
	}
	total := subtotal - req.DiscountCents

	// Consume oldest batches first; on a short line, roll back what was
	// already taken so a failed checkout leaves stock untouched.
	consumed := make([]domain.CartLine, 0, len(normalized))
	for _, line := range normalized {
		if err := s.repo.ConsumeStock(ctx, actor.CompanyID, line.ProductID, line.Qty); err != nil {
			for _, done := range consumed {
				if restoreErr := s.repo.RestoreStock(ctx, actor.CompanyID, done.ProductID, done.Qty); restoreErr != nil {
					s.log.Error("stock rollback failed",
						zap.String("product_id", done.ProductID),
						zap.Error(restoreErr))
				}
			}
			return domain.CheckoutResponse{}, err
		}
		consumed = append(consumed, line)
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		CompanyID:       actor.CompanyID,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		CashierUsername: actor.Username,
		PaymentMethod:   req.PaymentMethod,
		SubtotalCents:   subtotal,
		DiscountCents:   req.DiscountCents,
		TotalCents:      total,
		Status:          domain.SaleStatusCompleted,
		CreatedAt:       time.Now().UTC(),
		Lines:           saleLines,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		for _, done := range consumed {
			if restoreErr := s.repo.RestoreStock(ctx, actor.CompanyID, done.ProductID, done.Qty); restoreErr != nil {
				s.log.Error("stock rollback failed",
					zap.String("product_id", done.ProductID),
					zap.Error(restoreErr))
			}
		}
		return domain.CheckoutResponse{}, err
	}

	// Income entry, alert evaluation and cache/cart cleanup are
	// non-critical: failures are logged, never returned.
	if err := s.repo.CreateFinanceEntry(ctx, domain.FinanceEntry{
		ID:         xid.New("fin"),
		CompanyID:  actor.CompanyID,
		Kind:       domain.FinanceKindIncome,
		Source:     domain.FinanceSourceSale,
		SourceID:   created.ID,
		Amount:     centsToDecimal(created.TotalCents),
		OccurredAt: created.CreatedAt,
	}); err != nil {
		s.log.Warn("finance entry write failed", zap.String("sale_id", created.ID), zap.Error(err))
	}

	for _, line := range normalized {
		if product, ok := products[line.ProductID]; ok {
			if _, _, err := s.alerts.Process(ctx, actor.CompanyID, product); err != nil {
				s.log.Warn("stock alert evaluation failed",
					zap.String("product_id", product.ID),
					zap.Error(err))
			}
		}
	}

	if req.TerminalID != "" {
		s.carts.Drop(actor.CompanyID, req.TerminalID)
		if err := s.repo.DeleteHeldCart(ctx, actor.CompanyID, req.TerminalID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("held cart cleanup failed", zap.Error(err))
		}
	}

	s.invalidateSaleCache(ctx, actor.CompanyID, created.CreatedAt)
	return domain.CheckoutResponse{Sale: *created}, nil
}

func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.SaleCancelRequest) (domain.Sale, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.Sale{}, err
	}
	if strings.TrimSpace(saleID) == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	cancelled, err := s.repo.CancelSale(ctx, actor.CompanyID, saleID, req.Reason, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	for _, line := range cancelled.Lines {
		if err := s.repo.RestoreStock(ctx, actor.CompanyID, line.ProductID, line.Qty); err != nil {
			s.log.Error("stock restore failed on cancel",
				zap.String("product_id", line.ProductID),
				zap.Error(err))
		}
	}

	if err := s.repo.DeleteFinanceEntryBySource(ctx, actor.CompanyID, domain.FinanceSourceSale, cancelled.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("finance entry removal failed", zap.String("sale_id", cancelled.ID), zap.Error(err))
	}

	s.invalidateSaleCache(ctx, actor.CompanyID, cancelled.CreatedAt)
	return *cancelled, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, actor.CompanyID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales serves a single day's sales through the read-through cache; any
// other range goes straight to the store.
func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return nil, err
	}

	day := cacheDay(from, to)
	if day != "" {
		if cached, hit, err := s.saleCache.Get(ctx, actor.CompanyID, day); err == nil && hit {
			return cached, nil
		} else if err != nil {
			s.log.Warn("sale cache read failed", zap.Error(err))
		}
	}

	sales, err := s.repo.ListSales(ctx, actor.CompanyID, from, to, limit)
	if err != nil {
		return nil, err
	}

	if day != "" {
		if err := s.saleCache.Set(ctx, actor.CompanyID, day, sales, s.cacheTTL); err != nil {
			s.log.Warn("sale cache write failed", zap.Error(err))
		}
	}
	return sales, nil
}

// cacheDay returns the YYYY-MM-DD key when from/to cover exactly one day.
func cacheDay(from time.Time, to time.Time) string {
	if from.IsZero() || to.IsZero() {
		return ""
	}
	if to.Sub(from) != 24*time.Hour {
		return ""
	}
	return from.UTC().Format("2006-01-02")
}

func (s *Service) invalidateSaleCache(ctx context.Context, companyID string, at time.Time) {
	day := at.UTC().Format("2006-01-02")
	if err := s.saleCache.Invalidate(ctx, companyID, day); err != nil {
		s.log.Warn("sale cache invalidation failed", zap.Error(err))
	}
}

// ---- Receipt ----

func (s *Service) BuildReceipt(ctx context.Context, saleID string) (domain.ReceiptResponse, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	sale, err := s.repo.GetSale(ctx, actor.CompanyID, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	companyName, currency := s.companyHeader(ctx, actor.CompanyID)
	return receipt.Render(sale, companyName, currency), nil
}

func (s *Service) BuildReceiptHTML(ctx context.Context, saleID string) (string, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return "", err
	}

	sale, err := s.repo.GetSale(ctx, actor.CompanyID, saleID)
	if err != nil {
		return "", err
	}

	companyName, currency := s.companyHeader(ctx, actor.CompanyID)
	return receipt.RenderHTML(sale, companyName, currency), nil
}

func (s *Service) companyHeader(ctx context.Context, companyID string) (string, string) {
	company, err := s.repo.GetCompany(ctx, companyID)
	if err != nil {
		s.log.Warn("company lookup failed for receipt", zap.Error(err))
		return "", ""
	}
	return company.Name, company.Settings.Currency
}

// ---- Held carts ----

// SaveHeldCart records cart state with a short debounce so rapid keystroke
// updates from a terminal coalesce into one write.
func (s *Service) SaveHeldCart(ctx context.Context, req domain.HeldCartSaveRequest) error {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.TerminalID) == "" {
		return store.ErrInvalidInput
	}

	s.carts.Save(domain.HeldCart{
		CompanyID:       actor.CompanyID,
		TerminalID:      req.TerminalID,
		CashierUsername: actor.Username,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		DiscountCents:   req.DiscountCents,
		Lines:           normalizeCartLines(req.Lines),
		UpdatedAt:       time.Now().UTC(),
	})
	return nil
}

func (s *Service) GetHeldCart(ctx context.Context, terminalID string) (domain.HeldCart, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.HeldCart{}, err
	}
	if strings.TrimSpace(terminalID) == "" {
		return domain.HeldCart{}, store.ErrInvalidInput
	}

	// A pending debounced write is newer than whatever the store has.
	if cart, ok := s.carts.Pending(actor.CompanyID, terminalID); ok {
		return cart, nil
	}

	cart, err := s.repo.GetHeldCart(ctx, actor.CompanyID, terminalID)
	if err != nil {
		return domain.HeldCart{}, err
	}
	return *cart, nil
}

func (s *Service) DeleteHeldCart(ctx context.Context, terminalID string) error {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return err
	}
	if strings.TrimSpace(terminalID) == "" {
		return store.ErrInvalidInput
	}
	s.carts.Drop(actor.CompanyID, terminalID)
	if err := s.repo.DeleteHeldCart(ctx, actor.CompanyID, terminalID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// ---- Customers ----

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, actor.CompanyID)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	normalizedPhone := ""
	if strings.TrimSpace(req.Phone) != "" {
		company, err := s.repo.GetCompany(ctx, actor.CompanyID)
		if err != nil {
			return domain.Customer{}, err
		}
		normalizedPhone, err = phone.Normalize(req.Phone, company.Settings.CountryCode)
		if err != nil {
			return domain.Customer{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
	}

	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		CompanyID: actor.CompanyID,
		Name:      req.Name,
		Phone:     normalizedPhone,
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, customerID string) error {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return err
	}
	if strings.TrimSpace(customerID) == "" {
		return store.ErrInvalidInput
	}
	return s.repo.DeleteCustomer(ctx, actor.CompanyID, customerID)
}

// ---- Expenses & finance ----

// CreateExpense writes the expense and mirrors it as an outcome finance
// entry keyed by source so deletion can find it again.
func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.Expense{}, err
	}

	req.Label = strings.TrimSpace(req.Label)
	req.Category = strings.TrimSpace(req.Category)
	if req.Label == "" || req.AmountCents < 1 {
		return domain.Expense{}, store.ErrInvalidInput
	}

	incurredAt := time.Now().UTC()
	if strings.TrimSpace(req.IncurredAt) != "" {
		parsed, err := time.Parse("2006-01-02", req.IncurredAt)
		if err != nil {
			return domain.Expense{}, store.ErrInvalidInput
		}
		incurredAt = parsed.UTC()
	}

	expense, err := s.repo.CreateExpense(ctx, domain.Expense{
		ID:          xid.New("exp"),
		CompanyID:   actor.CompanyID,
		Label:       req.Label,
		Category:    req.Category,
		AmountCents: req.AmountCents,
		IncurredAt:  incurredAt,
	})
	if err != nil {
		return domain.Expense{}, err
	}

	if err := s.repo.CreateFinanceEntry(ctx, domain.FinanceEntry{
		ID:         xid.New("fin"),
		CompanyID:  actor.CompanyID,
		Kind:       domain.FinanceKindOutcome,
		Source:     domain.FinanceSourceExpense,
		SourceID:   expense.ID,
		Amount:     centsToDecimal(expense.AmountCents),
		OccurredAt: expense.IncurredAt,
	}); err != nil {
		s.log.Warn("finance entry write failed", zap.String("expense_id", expense.ID), zap.Error(err))
	}

	return *expense, nil
}

func (s *Service) ListExpenses(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, actor.CompanyID, from, to, limit)
}

func (s *Service) DeleteExpense(ctx context.Context, expenseID string) error {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return err
	}
	if strings.TrimSpace(expenseID) == "" {
		return store.ErrInvalidInput
	}

	deleted, err := s.repo.DeleteExpense(ctx, actor.CompanyID, expenseID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteFinanceEntryBySource(ctx, actor.CompanyID, domain.FinanceSourceExpense, deleted.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("finance entry removal failed", zap.String("expense_id", deleted.ID), zap.Error(err))
	}
	return nil
}

func (s *Service) ListFinanceEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.FinanceEntry, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFinanceEntries(ctx, actor.CompanyID, from, to, limit)
}

// ---- Production ----

// CreateProduction consumes raw-material batches for the produced quantity,
// rolls the article costs into a decimal unit cost and books the produced
// units as a new finished-goods batch.
func (s *Service) CreateProduction(ctx context.Context, req domain.ProductionCreateRequest) (domain.Production, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return domain.Production{}, err
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Qty < 1 || len(req.Articles) == 0 {
		return domain.Production{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProduct(ctx, actor.CompanyID, req.ProductID)
	if err != nil {
		return domain.Production{}, err
	}
	if product.Kind != domain.ProductKindFinished || !product.Active {
		return domain.Production{}, store.ErrInvalidInput
	}

	rawIDs := make([]string, 0, len(req.Articles))
	for _, article := range req.Articles {
		if strings.TrimSpace(article.RawMaterialID) == "" || article.QtyPerUnit < 1 {
			return domain.Production{}, store.ErrInvalidInput
		}
		rawIDs = append(rawIDs, article.RawMaterialID)
	}
	rawMaterials, err := s.repo.GetProductsByIDs(ctx, actor.CompanyID, rawIDs)
	if err != nil {
		return domain.Production{}, err
	}

	unitCost := decimal.Zero
	for _, article := range req.Articles {
		raw, exists := rawMaterials[article.RawMaterialID]
		if !exists || raw.Kind != domain.ProductKindRawMaterial {
			return domain.Production{}, store.ErrInvalidInput
		}
		articleCost := centsToDecimal(raw.CostCents).Mul(decimal.NewFromInt(int64(article.QtyPerUnit)))
		unitCost = unitCost.Add(articleCost)
	}

	consumed := make([]domain.ProductionArticle, 0, len(req.Articles))
	for _, article := range req.Articles {
		qty := article.QtyPerUnit * req.Qty
		if err := s.repo.ConsumeStock(ctx, actor.CompanyID, article.RawMaterialID, qty); err != nil {
			for _, done := range consumed {
				if restoreErr := s.repo.RestoreStock(ctx, actor.CompanyID, done.RawMaterialID, done.QtyPerUnit*req.Qty); restoreErr != nil {
					s.log.Error("raw material rollback failed",
						zap.String("raw_material_id", done.RawMaterialID),
						zap.Error(restoreErr))
				}
			}
			return domain.Production{}, err
		}
		consumed = append(consumed, article)
	}

	now := time.Now().UTC()
	production, err := s.repo.CreateProduction(ctx, domain.Production{
		ID:         xid.New("prodrun"),
		CompanyID:  actor.CompanyID,
		ProductID:  product.ID,
		Qty:        req.Qty,
		Articles:   req.Articles,
		UnitCost:   unitCost,
		Status:     domain.ProductionStatusCompleted,
		ProducedAt: now,
	})
	if err != nil {
		return domain.Production{}, err
	}

	unitCostCents := unitCost.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if _, err := s.repo.CreateStockBatch(ctx, domain.StockBatch{
		ID:            xid.New("batch"),
		CompanyID:     actor.CompanyID,
		ItemID:        product.ID,
		ItemType:      domain.ItemTypeProduct,
		QtyReceived:   req.Qty,
		QtyRemaining:  req.Qty,
		UnitCostCents: unitCostCents,
		Source:        domain.BatchSourceProduction,
		ReceivedAt:    now,
	}); err != nil {
		return domain.Production{}, err
	}

	if err := s.repo.CreateFinanceEntry(ctx, domain.FinanceEntry{
		ID:         xid.New("fin"),
		CompanyID:  actor.CompanyID,
		Kind:       domain.FinanceKindOutcome,
		Source:     domain.FinanceSourceProduction,
		SourceID:   production.ID,
		Amount:     unitCost.Mul(decimal.NewFromInt(int64(req.Qty))),
		OccurredAt: now,
	}); err != nil {
		s.log.Warn("finance entry write failed", zap.String("production_id", production.ID), zap.Error(err))
	}

	for _, article := range req.Articles {
		if raw, ok := rawMaterials[article.RawMaterialID]; ok {
			if _, _, err := s.alerts.Process(ctx, actor.CompanyID, raw); err != nil {
				s.log.Warn("stock alert evaluation failed",
					zap.String("raw_material_id", raw.ID),
					zap.Error(err))
			}
		}
	}

	s.invalidateProductCache(ctx, actor.CompanyID)
	return *production, nil
}

func (s *Service) ListProductions(ctx context.Context, limit int) ([]domain.Production, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProductions(ctx, actor.CompanyID, limit)
}

// ---- Notifications ----

func (s *Service) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return nil, err
	}
	return s.repo.ListNotifications(ctx, actor.CompanyID, actor.Username, unreadOnly, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string) error {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return err
	}
	if strings.TrimSpace(notificationID) == "" {
		return store.ErrInvalidInput
	}
	return s.repo.MarkNotificationRead(ctx, actor.CompanyID, notificationID)
}

// ---- Employees ----

// CreateEmployee provisions an account and registers the role in the
// company's employee map. Store errors (notably duplicates) propagate
// unchanged.
func (s *Service) CreateEmployee(ctx context.Context, req domain.EmployeeCreateRequest) (domain.EmployeeView, error) {
	actor, err := requireRole(ctx, domain.RoleOwner)
	if err != nil {
		return domain.EmployeeView{}, err
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		req.Role = domain.RoleEmployee
	}
	if req.Username == "" || len(req.Password) < 8 {
		return domain.EmployeeView{}, store.ErrInvalidInput
	}
	if req.Role != domain.RoleManager && req.Role != domain.RoleEmployee {
		return domain.EmployeeView{}, store.ErrInvalidInput
	}

	normalizedPhone := ""
	if strings.TrimSpace(req.Phone) != "" {
		company, err := s.repo.GetCompany(ctx, actor.CompanyID)
		if err != nil {
			return domain.EmployeeView{}, err
		}
		normalizedPhone, err = phone.Normalize(req.Phone, company.Settings.CountryCode)
		if err != nil {
			return domain.EmployeeView{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.EmployeeView{}, err
	}

	account := domain.EmployeeAccount{
		Username:  req.Username,
		Password:  hash,
		Role:      req.Role,
		CompanyID: actor.CompanyID,
		Phone:     normalizedPhone,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateEmployee(ctx, account); err != nil {
		return domain.EmployeeView{}, err
	}

	if err := s.repo.SetCompanyEmployeeRole(ctx, actor.CompanyID, account.Username, account.Role); err != nil {
		s.log.Warn("company employee map update failed",
			zap.String("username", account.Username),
			zap.Error(err))
	}

	return domain.EmployeeView{
		Username:  account.Username,
		Role:      account.Role,
		Phone:     account.Phone,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (s *Service) ListEmployees(ctx context.Context) ([]domain.EmployeeView, error) {
	actor, err := requireRole(ctx, domain.RoleManager)
	if err != nil {
		return nil, err
	}

	accounts, err := s.repo.ListEmployees(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.EmployeeView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, domain.EmployeeView{
			Username:  account.Username,
			Role:      account.Role,
			Phone:     account.Phone,
			Active:    account.Active,
			CreatedAt: account.CreatedAt,
		})
	}
	return views, nil
}

// Close flushes any pending debounced cart writes.
func (s *Service) Close() {
	s.carts.Flush()
}

// ---- helpers ----

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "mobile_money":
		return true
	}
	return false
}

func normalizeCartLines(lines []domain.CartLine) []domain.CartLine {
	merged := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Qty < 1 {
			continue
		}
		if _, seen := merged[id]; !seen {
			order = append(order, id)
		}
		merged[id] += line.Qty
	}

	normalized := make([]domain.CartLine, 0, len(order))
	for _, id := range order {
		normalized = append(normalized, domain.CartLine{ProductID: id, Qty: merged[id]})
	}
	return normalized
}

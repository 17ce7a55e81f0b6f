package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
	"boutika/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	companies       map[string]domain.Company
	employees       map[string]domain.EmployeeAccount
	products        map[string]domain.Product
	batches         map[string][]domain.StockBatch
	customers       map[string]domain.Customer
	sales           map[string]domain.Sale
	heldCarts       map[string]domain.HeldCart
	expenses        map[string]domain.Expense
	financeEntries  map[string]domain.FinanceEntry
	productions     map[string]domain.Production
	notifications   map[string]domain.Notification
	alertHistory    map[string]domain.StockAlertHistory
}

const seedCompanyID = "demo-company"

// seedAccounts builds the initial accounts for dev/demo mode. Credentials come
// from SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD; hardcoded dev defaults
// are used with a warning when unset.
func seedAccounts() map[string]domain.EmployeeAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "employee123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD to override.")
	}

	now := time.Now().UTC()
	accounts := map[string]domain.EmployeeAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		phone    string
	}{
		{"awa", ownerPwd, domain.RoleOwner, "+221771000001"},
		{"moussa", employeePwd, domain.RoleManager, "+221771000002"},
		{"fatou", employeePwd, domain.RoleEmployee, "+221771000003"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		accounts[u.username] = domain.EmployeeAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			CompanyID: seedCompanyID,
			Phone:     u.phone,
			Active:    true,
			CreatedAt: now,
		}
	}
	return accounts
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	company := domain.Company{
		ID:            seedCompanyID,
		Name:          "Boutique Awa",
		OwnerUsername: "awa",
		Employees: map[string]string{
			"moussa": domain.RoleManager,
			"fatou":  domain.RoleEmployee,
		},
		Settings: domain.CompanySettings{
			Currency:              "XOF",
			CountryCode:           "221",
			DefaultStockThreshold: 5,
		},
		CreatedAt: now,
	}

	products := []domain.Product{
		{ID: "prod-savon-01", CompanyID: seedCompanyID, Name: "Savon artisanal", Category: "hygiene", Kind: domain.ProductKindFinished, PriceCents: 1500, CostCents: 800, StockThreshold: 10, Active: true},
		{ID: "prod-jus-01", CompanyID: seedCompanyID, Name: "Jus de bissap 1L", Category: "beverage", Kind: domain.ProductKindFinished, PriceCents: 2000, CostCents: 900, StockThreshold: 8, Active: true},
		{ID: "prod-beurre-01", CompanyID: seedCompanyID, Name: "Beurre de karite 250g", Category: "cosmetic", Kind: domain.ProductKindFinished, PriceCents: 3500, CostCents: 1700, StockThreshold: 6, Active: true},
		{ID: "raw-huile-01", CompanyID: seedCompanyID, Name: "Huile de palme 5L", Category: "raw", Kind: domain.ProductKindRawMaterial, CostCents: 6000, StockThreshold: 4, Active: true},
		{ID: "raw-soude-01", CompanyID: seedCompanyID, Name: "Soude caustique 1kg", Category: "raw", Kind: domain.ProductKindRawMaterial, CostCents: 2500, StockThreshold: 3, Active: true},
		{ID: "raw-bissap-01", CompanyID: seedCompanyID, Name: "Fleurs de bissap 1kg", Category: "raw", Kind: domain.ProductKindRawMaterial, CostCents: 3000, StockThreshold: 5, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	batches := make(map[string][]domain.StockBatch)
	for _, p := range products {
		productMap[p.ID] = p
		batches[batchKey(seedCompanyID, p.ID)] = []domain.StockBatch{{
			ID:            xid.New("batch"),
			CompanyID:     seedCompanyID,
			ItemID:        p.ID,
			ItemType:      itemTypeForKind(p.Kind),
			QtyReceived:   40,
			QtyRemaining:  40,
			UnitCostCents: p.CostCents,
			Source:        domain.BatchSourcePurchase,
			ReceivedAt:    now,
		}}
	}

	return &Store{
		companies:      map[string]domain.Company{seedCompanyID: company},
		employees:      seedAccounts(),
		products:       productMap,
		batches:        batches,
		customers:      make(map[string]domain.Customer),
		sales:          make(map[string]domain.Sale),
		heldCarts:      make(map[string]domain.HeldCart),
		expenses:       make(map[string]domain.Expense),
		financeEntries: make(map[string]domain.FinanceEntry),
		productions:    make(map[string]domain.Production),
		notifications:  make(map[string]domain.Notification),
		alertHistory:   make(map[string]domain.StockAlertHistory),
	}
}

// NewEmpty returns a store without seed data, used by the restore CLI.
func NewEmpty() *Store {
	return &Store{
		companies:      make(map[string]domain.Company),
		employees:      make(map[string]domain.EmployeeAccount),
		products:       make(map[string]domain.Product),
		batches:        make(map[string][]domain.StockBatch),
		customers:      make(map[string]domain.Customer),
		sales:          make(map[string]domain.Sale),
		heldCarts:      make(map[string]domain.HeldCart),
		expenses:       make(map[string]domain.Expense),
		financeEntries: make(map[string]domain.FinanceEntry),
		productions:    make(map[string]domain.Production),
		notifications:  make(map[string]domain.Notification),
		alertHistory:   make(map[string]domain.StockAlertHistory),
	}
}

func batchKey(companyID, itemID string) string {
	return companyID + "/" + itemID
}

func cartKey(companyID, terminalID string) string {
	return companyID + "/" + terminalID
}

func itemTypeForKind(kind string) string {
	if kind == domain.ProductKindRawMaterial {
		return domain.ItemTypeRawMaterial
	}
	return domain.ItemTypeProduct
}

func (s *Store) GetCompany(_ context.Context, companyID string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	company, ok := s.companies[companyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := company
	clone.Employees = make(map[string]string, len(company.Employees))
	for k, v := range company.Employees {
		clone.Employees[k] = v
	}
	return &clone, nil
}

func (s *Store) CreateCompany(_ context.Context, company domain.Company) (*domain.Company, error) {
	if company.ID == "" || company.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.companies[company.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if company.Employees == nil {
		company.Employees = make(map[string]string)
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}
	s.companies[company.ID] = company
	created := company
	return &created, nil
}

func (s *Store) UpdateCompanySettings(_ context.Context, companyID string, settings domain.CompanySettings) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	company, ok := s.companies[companyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	company.Settings = settings
	s.companies[companyID] = company
	updated := company
	return &updated, nil
}

func (s *Store) SetCompanyEmployeeRole(_ context.Context, companyID string, username string, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	company, ok := s.companies[companyID]
	if !ok {
		return store.ErrNotFound
	}
	if company.Employees == nil {
		company.Employees = make(map[string]string)
	}
	company.Employees[username] = role
	s.companies[companyID] = company
	return nil
}

func (s *Store) CreateEmployee(_ context.Context, account domain.EmployeeAccount) error {
	if account.Username == "" || account.Password == "" || account.CompanyID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.employees[account.Username]; exists {
		return store.ErrDuplicate
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	s.employees[account.Username] = account
	return nil
}

func (s *Store) GetEmployee(_ context.Context, username string) (*domain.EmployeeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.employees[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := account
	return &found, nil
}

func (s *Store) ListEmployees(_ context.Context, companyID string) ([]domain.EmployeeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]domain.EmployeeAccount, 0, len(s.employees))
	for _, account := range s.employees {
		if account.CompanyID == companyID {
			accounts = append(accounts, account)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

func (s *Store) UpdateEmployeePassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.employees[username]
	if !ok {
		return store.ErrNotFound
	}
	account.Password = password
	s.employees[username] = account
	return nil
}

func (s *Store) ListProducts(_ context.Context, companyID string, kind string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.CompanyID != companyID {
			continue
		}
		if kind != "" && p.Kind != kind {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Category != products[j].Category {
			return products[i].Category < products[j].Category
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, companyID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok || product.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, companyID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok && product.CompanyID == companyID {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.CompanyID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.CompanyID != product.CompanyID {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateStockBatch(_ context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.ID == "" || batch.CompanyID == "" || batch.ItemID == "" || batch.QtyReceived < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey(batch.CompanyID, batch.ItemID)
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	s.batches[key] = append(s.batches[key], batch)
	created := batch
	return &created, nil
}

func (s *Store) ListStockBatches(_ context.Context, companyID string, itemID string, limit int) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	batches := s.batches[batchKey(companyID, itemID)]
	out := make([]domain.StockBatch, 0, len(batches))
	out = append(out, batches...)
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetStockQty(_ context.Context, companyID string, itemID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, batch := range s.batches[batchKey(companyID, itemID)] {
		total += batch.QtyRemaining
	}
	return total, nil
}

func (s *Store) GetStockQtyMap(_ context.Context, companyID string, itemIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int, len(itemIDs))
	for _, itemID := range itemIDs {
		total := 0
		for _, batch := range s.batches[batchKey(companyID, itemID)] {
			total += batch.QtyRemaining
		}
		result[itemID] = total
	}
	return result, nil
}

func (s *Store) ConsumeStock(_ context.Context, companyID string, itemID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey(companyID, itemID)
	batches := s.batches[key]

	total := 0
	for _, batch := range batches {
		total += batch.QtyRemaining
	}
	if total < qty {
		return store.ErrInsufficientStock
	}

	// Oldest first.
	sort.Slice(batches, func(i, j int) bool { return batches[i].ReceivedAt.Before(batches[j].ReceivedAt) })
	remaining := qty
	for i := range batches {
		if remaining == 0 {
			break
		}
		take := batches[i].QtyRemaining
		if take > remaining {
			take = remaining
		}
		batches[i].QtyRemaining -= take
		remaining -= take
	}
	s.batches[key] = batches
	return nil
}

func (s *Store) RestoreStock(_ context.Context, companyID string, itemID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey(companyID, itemID)
	batches := s.batches[key]
	if len(batches) == 0 {
		return store.ErrNotFound
	}

	// Newest first, reversing the consumption order.
	sort.Slice(batches, func(i, j int) bool { return batches[i].ReceivedAt.After(batches[j].ReceivedAt) })
	remaining := qty
	for i := range batches {
		if remaining == 0 {
			break
		}
		headroom := batches[i].QtyReceived - batches[i].QtyRemaining
		give := headroom
		if give > remaining {
			give = remaining
		}
		batches[i].QtyRemaining += give
		remaining -= give
	}
	// Anything left over goes onto the newest batch regardless of headroom.
	if remaining > 0 {
		batches[0].QtyRemaining += remaining
	}
	s.batches[key] = batches
	return nil
}

func (s *Store) ListCustomers(_ context.Context, companyID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if c.CompanyID == companyID {
			customers = append(customers, c)
		}
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.CompanyID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) DeleteCustomer(_ context.Context, companyID string, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[customerID]
	if !ok || customer.CompanyID != companyID {
		return store.ErrNotFound
	}
	delete(s.customers, customerID)
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.CompanyID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, companyID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	found := sale
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	sales := make([]domain.Sale, 0, 64)
	for _, sale := range s.sales {
		if sale.CompanyID != companyID {
			continue
		}
		if !from.IsZero() && sale.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !sale.CreatedAt.Before(to) {
			continue
		}
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) CancelSale(_ context.Context, companyID string, saleID string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrInvalidInput
	}
	sale.Status = domain.SaleStatusCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &at
	s.sales[saleID] = sale
	cancelled := sale
	return &cancelled, nil
}

func (s *Store) SaveHeldCart(_ context.Context, cart domain.HeldCart) error {
	if cart.CompanyID == "" || cart.TerminalID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}
	s.heldCarts[cartKey(cart.CompanyID, cart.TerminalID)] = cart
	return nil
}

func (s *Store) GetHeldCart(_ context.Context, companyID string, terminalID string) (*domain.HeldCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.heldCarts[cartKey(companyID, terminalID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cart
	return &found, nil
}

func (s *Store) DeleteHeldCart(_ context.Context, companyID string, terminalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cartKey(companyID, terminalID)
	if _, ok := s.heldCarts[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.heldCarts, key)
	return nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" || expense.CompanyID == "" || expense.Label == "" || expense.AmountCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.IncurredAt.IsZero() {
		expense.IncurredAt = time.Now().UTC()
	}
	s.expenses[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	expenses := make([]domain.Expense, 0, 64)
	for _, expense := range s.expenses {
		if expense.CompanyID != companyID {
			continue
		}
		if !from.IsZero() && expense.IncurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !expense.IncurredAt.Before(to) {
			continue
		}
		expenses = append(expenses, expense)
	}
	sort.Slice(expenses, func(i, j int) bool { return expenses[i].IncurredAt.After(expenses[j].IncurredAt) })
	if len(expenses) > limit {
		expenses = expenses[:limit]
	}
	return expenses, nil
}

func (s *Store) DeleteExpense(_ context.Context, companyID string, expenseID string) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense, ok := s.expenses[expenseID]
	if !ok || expense.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	delete(s.expenses, expenseID)
	deleted := expense
	return &deleted, nil
}

func (s *Store) CreateFinanceEntry(_ context.Context, entry domain.FinanceEntry) error {
	if entry.ID == "" || entry.CompanyID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	s.financeEntries[entry.ID] = entry
	return nil
}

func (s *Store) ListFinanceEntries(_ context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.FinanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	entries := make([]domain.FinanceEntry, 0, 64)
	for _, entry := range s.financeEntries {
		if entry.CompanyID != companyID {
			continue
		}
		if !from.IsZero() && entry.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.OccurredAt.Before(to) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].OccurredAt.After(entries[j].OccurredAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) DeleteFinanceEntryBySource(_ context.Context, companyID string, source string, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.financeEntries {
		if entry.CompanyID == companyID && entry.Source == source && entry.SourceID == sourceID {
			delete(s.financeEntries, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateProduction(_ context.Context, production domain.Production) (*domain.Production, error) {
	if production.ID == "" || production.CompanyID == "" || production.ProductID == "" || production.Qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if production.ProducedAt.IsZero() {
		production.ProducedAt = time.Now().UTC()
	}
	s.productions[production.ID] = production
	created := production
	return &created, nil
}

func (s *Store) ListProductions(_ context.Context, companyID string, limit int) ([]domain.Production, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	productions := make([]domain.Production, 0, 32)
	for _, production := range s.productions {
		if production.CompanyID == companyID {
			productions = append(productions, production)
		}
	}
	sort.Slice(productions, func(i, j int) bool { return productions[i].ProducedAt.After(productions[j].ProducedAt) })
	if len(productions) > limit {
		productions = productions[:limit]
	}
	return productions, nil
}

func (s *Store) CreateNotification(_ context.Context, notification domain.Notification) error {
	if notification.ID == "" || notification.CompanyID == "" || notification.Recipient == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	s.notifications[notification.ID] = notification
	return nil
}

func (s *Store) ListNotifications(_ context.Context, companyID string, recipient string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	notifications := make([]domain.Notification, 0, 32)
	for _, n := range s.notifications {
		if n.CompanyID != companyID {
			continue
		}
		if recipient != "" && n.Recipient != recipient {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		notifications = append(notifications, n)
	}
	sort.Slice(notifications, func(i, j int) bool { return notifications[i].CreatedAt.After(notifications[j].CreatedAt) })
	if len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, companyID string, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notification, ok := s.notifications[notificationID]
	if !ok || notification.CompanyID != companyID {
		return store.ErrNotFound
	}
	notification.Read = true
	s.notifications[notificationID] = notification
	return nil
}

func (s *Store) GetLastStockAlert(_ context.Context, companyID string, itemID string) (*domain.StockAlertHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.alertHistory[batchKey(companyID, itemID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := entry
	return &found, nil
}

func (s *Store) UpsertStockAlertHistory(_ context.Context, entry domain.StockAlertHistory) error {
	if entry.CompanyID == "" || entry.ItemID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	s.alertHistory[batchKey(entry.CompanyID, entry.ItemID)] = entry
	return nil
}

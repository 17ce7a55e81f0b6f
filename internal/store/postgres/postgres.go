package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (s *Store) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	var company domain.Company
	var employeesJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_username, employees, currency, country_code, default_stock_threshold, created_at
		FROM companies
		WHERE id = $1
	`, companyID).Scan(&company.ID, &company.Name, &company.OwnerUsername, &employeesJSON,
		&company.Settings.Currency, &company.Settings.CountryCode, &company.Settings.DefaultStockThreshold, &company.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	company.Employees = make(map[string]string)
	if len(employeesJSON) > 0 {
		if err := json.Unmarshal(employeesJSON, &company.Employees); err != nil {
			return nil, err
		}
	}
	company.CreatedAt = company.CreatedAt.UTC()
	return &company, nil
}

func (s *Store) CreateCompany(ctx context.Context, company domain.Company) (*domain.Company, error) {
	if company.ID == "" || company.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if company.Employees == nil {
		company.Employees = make(map[string]string)
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}

	employeesJSON, err := json.Marshal(company.Employees)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, owner_username, employees, currency, country_code, default_stock_threshold, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, company.ID, company.Name, company.OwnerUsername, employeesJSON,
		company.Settings.Currency, company.Settings.CountryCode, company.Settings.DefaultStockThreshold, company.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := company
	return &created, nil
}

func (s *Store) UpdateCompanySettings(ctx context.Context, companyID string, settings domain.CompanySettings) (*domain.Company, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET currency = $2, country_code = $3, default_stock_threshold = $4
		WHERE id = $1
	`, companyID, settings.Currency, settings.CountryCode, settings.DefaultStockThreshold)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCompany(ctx, companyID)
}

func (s *Store) SetCompanyEmployeeRole(ctx context.Context, companyID string, username string, role string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET employees = jsonb_set(COALESCE(employees, '{}'::jsonb), ARRAY[$2], to_jsonb($3::text))
		WHERE id = $1
	`, companyID, username, role)
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

func (s *Store) CreateEmployee(ctx context.Context, account domain.EmployeeAccount) error {
	if account.Username == "" || account.Password == "" || account.CompanyID == "" {
		return store.ErrInvalidInput
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (username, password, role, company_id, phone, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, account.Username, account.Password, account.Role, account.CompanyID, account.Phone, account.Active, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, username string) (*domain.EmployeeAccount, error) {
	var account domain.EmployeeAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, company_id, phone, active, created_at
		FROM employees
		WHERE username = $1
	`, username).Scan(&account.Username, &account.Password, &account.Role, &account.CompanyID, &account.Phone, &account.Active, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

func (s *Store) ListEmployees(ctx context.Context, companyID string) ([]domain.EmployeeAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, company_id, phone, active, created_at
		FROM employees
		WHERE company_id = $1
		ORDER BY username
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.EmployeeAccount, 0, 16)
	for rows.Next() {
		var account domain.EmployeeAccount
		if err := rows.Scan(&account.Username, &account.Password, &account.Role, &account.CompanyID, &account.Phone, &account.Active, &account.CreatedAt); err != nil {
			return nil, err
		}
		account.CreatedAt = account.CreatedAt.UTC()
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) UpdateEmployeePassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE employees SET password = $2 WHERE username = $1
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

func (s *Store) ListProducts(ctx context.Context, companyID string, kind string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, category, kind, price_cents, cost_cents, stock_threshold, active
		FROM products
		WHERE company_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY category, name
	`, companyID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Category, &p.Kind, &p.PriceCents, &p.CostCents, &p.StockThreshold, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, companyID string, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, category, kind, price_cents, cost_cents, stock_threshold, active
		FROM products
		WHERE company_id = $1 AND id = $2
	`, companyID, productID).Scan(&p.ID, &p.CompanyID, &p.Name, &p.Category, &p.Kind, &p.PriceCents, &p.CostCents, &p.StockThreshold, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, companyID string, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, category, kind, price_cents, cost_cents, stock_threshold, active
		FROM products
		WHERE company_id = $1 AND id = ANY($2)
	`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Category, &p.Kind, &p.PriceCents, &p.CostCents, &p.StockThreshold, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.CompanyID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, company_id, name, category, kind, price_cents, cost_cents, stock_threshold, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
	`, product.ID, product.CompanyID, product.Name, product.Category, product.Kind,
		product.PriceCents, product.CostCents, product.StockThreshold, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, category = $4, price_cents = $5, cost_cents = $6, stock_threshold = $7, active = $8, updated_at = now()
		WHERE company_id = $1 AND id = $2
	`, product.CompanyID, product.ID, product.Name, product.Category, product.PriceCents, product.CostCents, product.StockThreshold, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) CreateStockBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.ID == "" || batch.CompanyID == "" || batch.ItemID == "" || batch.QtyReceived < 1 {
		return nil, store.ErrInvalidInput
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_batches (id, company_id, item_id, item_type, qty_received, qty_remaining, unit_cost_cents, source, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, batch.ID, batch.CompanyID, batch.ItemID, batch.ItemType, batch.QtyReceived, batch.QtyRemaining, batch.UnitCostCents, batch.Source, batch.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) ListStockBatches(ctx context.Context, companyID string, itemID string, limit int) ([]domain.StockBatch, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, item_id, item_type, qty_received, qty_remaining, unit_cost_cents, source, received_at
		FROM stock_batches
		WHERE company_id = $1 AND item_id = $2
		ORDER BY received_at DESC
		LIMIT $3
	`, companyID, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.StockBatch, 0, limit)
	for rows.Next() {
		var b domain.StockBatch
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.ItemID, &b.ItemType, &b.QtyReceived, &b.QtyRemaining, &b.UnitCostCents, &b.Source, &b.ReceivedAt); err != nil {
			return nil, err
		}
		b.ReceivedAt = b.ReceivedAt.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) GetStockQty(ctx context.Context, companyID string, itemID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty_remaining), 0)
		FROM stock_batches
		WHERE company_id = $1 AND item_id = $2
	`, companyID, itemID).Scan(&qty)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (s *Store) GetStockQtyMap(ctx context.Context, companyID string, itemIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, COALESCE(SUM(qty_remaining), 0)
		FROM stock_batches
		WHERE company_id = $1 AND item_id = ANY($2)
		GROUP BY item_id
	`, companyID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, itemID := range itemIDs {
		if _, ok := result[itemID]; !ok {
			result[itemID] = 0
		}
	}
	return result, nil
}

func (s *Store) ConsumeStock(ctx context.Context, companyID string, itemID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, qty_remaining
		FROM stock_batches
		WHERE company_id = $1 AND item_id = $2 AND qty_remaining > 0
		ORDER BY received_at ASC
		FOR UPDATE
	`, companyID, itemID)
	if err != nil {
		return err
	}

	type batchRow struct {
		id  string
		qty int
	}
	batches := make([]batchRow, 0, 8)
	total := 0
	for rows.Next() {
		var b batchRow
		if err := rows.Scan(&b.id, &b.qty); err != nil {
			rows.Close()
			return err
		}
		total += b.qty
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if total < qty {
		return store.ErrInsufficientStock
	}

	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := b.qty
		if take > remaining {
			take = remaining
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_batches SET qty_remaining = qty_remaining - $2 WHERE id = $1
		`, b.id, take); err != nil {
			return err
		}
		remaining -= take
	}

	return tx.Commit()
}

func (s *Store) RestoreStock(ctx context.Context, companyID string, itemID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, qty_received, qty_remaining
		FROM stock_batches
		WHERE company_id = $1 AND item_id = $2
		ORDER BY received_at DESC
		FOR UPDATE
	`, companyID, itemID)
	if err != nil {
		return err
	}

	type batchRow struct {
		id       string
		received int
		qty      int
	}
	batches := make([]batchRow, 0, 8)
	for rows.Next() {
		var b batchRow
		if err := rows.Scan(&b.id, &b.received, &b.qty); err != nil {
			rows.Close()
			return err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(batches) == 0 {
		return store.ErrNotFound
	}

	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		give := b.received - b.qty
		if give > remaining {
			give = remaining
		}
		if give <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_batches SET qty_remaining = qty_remaining + $2 WHERE id = $1
		`, b.id, give); err != nil {
			return err
		}
		remaining -= give
	}
	if remaining > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_batches SET qty_remaining = qty_remaining + $2 WHERE id = $1
		`, batches[0].id, remaining); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListCustomers(ctx context.Context, companyID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, phone, email, created_at
		FROM customers
		WHERE company_id = $1
		ORDER BY name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.CompanyID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, company_id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.CompanyID, customer.Name, customer.Phone, customer.Email, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, companyID string, customerID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM customers WHERE company_id = $1 AND id = $2
	`, companyID, customerID)
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

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.CompanyID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, company_id, customer_id, cashier_username, payment_method, subtotal_cents, discount_cents, total_cents, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.CompanyID, nullString(sale.CustomerID), sale.CashierUsername, sale.PaymentMethod,
		sale.SubtotalCents, sale.DiscountCents, sale.TotalCents, sale.Status, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, line.ProductID, line.Name, line.Qty, line.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	var cancelReason sql.NullString
	var cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, customer_id, cashier_username, payment_method, subtotal_cents, discount_cents, total_cents, status, cancel_reason, cancelled_at, created_at
		FROM sales
		WHERE company_id = $1 AND id = $2
	`, companyID, saleID).Scan(&sale.ID, &sale.CompanyID, &customerID, &sale.CashierUsername, &sale.PaymentMethod,
		&sale.SubtotalCents, &sale.DiscountCents, &sale.TotalCents, &sale.Status, &cancelReason, &cancelledAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.CancelReason = cancelReason.String
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lines, err := s.saleLines(ctx, saleID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return &sale, nil
}

func (s *Store) saleLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, qty, unit_price_cents
		FROM sale_lines
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Name, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListSales(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, customer_id, cashier_username, payment_method, subtotal_cents, discount_cents, total_cents, status, cancel_reason, cancelled_at, created_at
		FROM sales
		WHERE company_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, companyID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var customerID sql.NullString
		var cancelReason sql.NullString
		var cancelledAt sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.CompanyID, &customerID, &sale.CashierUsername, &sale.PaymentMethod,
			&sale.SubtotalCents, &sale.DiscountCents, &sale.TotalCents, &sale.Status, &cancelReason, &cancelledAt, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CustomerID = customerID.String
		sale.CancelReason = cancelReason.String
		if cancelledAt.Valid {
			at := cancelledAt.Time.UTC()
			sale.CancelledAt = &at
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		lines, err := s.saleLines(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}
	return sales, nil
}

func (s *Store) CancelSale(ctx context.Context, companyID string, saleID string, reason string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = $4, cancel_reason = $5, cancelled_at = $6
		WHERE company_id = $1 AND id = $2 AND status = $3
	`, companyID, saleID, domain.SaleStatusCompleted, domain.SaleStatusCancelled, reason, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish missing sale from already-cancelled.
		if _, getErr := s.GetSale(ctx, companyID, saleID); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrInvalidInput
	}
	return s.GetSale(ctx, companyID, saleID)
}

func (s *Store) SaveHeldCart(ctx context.Context, cart domain.HeldCart) error {
	if cart.CompanyID == "" || cart.TerminalID == "" {
		return store.ErrInvalidInput
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}

	linesJSON, err := json.Marshal(cart.Lines)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_carts (company_id, terminal_id, cashier_username, customer_id, discount_cents, lines, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (company_id, terminal_id)
		DO UPDATE SET cashier_username = $3, customer_id = $4, discount_cents = $5, lines = $6, updated_at = $7
	`, cart.CompanyID, cart.TerminalID, cart.CashierUsername, nullString(cart.CustomerID), cart.DiscountCents, linesJSON, cart.UpdatedAt)
	return err
}

func (s *Store) GetHeldCart(ctx context.Context, companyID string, terminalID string) (*domain.HeldCart, error) {
	var cart domain.HeldCart
	var customerID sql.NullString
	var linesJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT company_id, terminal_id, cashier_username, customer_id, discount_cents, lines, updated_at
		FROM held_carts
		WHERE company_id = $1 AND terminal_id = $2
	`, companyID, terminalID).Scan(&cart.CompanyID, &cart.TerminalID, &cart.CashierUsername, &customerID, &cart.DiscountCents, &linesJSON, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cart.CustomerID = customerID.String
	if len(linesJSON) > 0 {
		if err := json.Unmarshal(linesJSON, &cart.Lines); err != nil {
			return nil, err
		}
	}
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return &cart, nil
}

func (s *Store) DeleteHeldCart(ctx context.Context, companyID string, terminalID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM held_carts WHERE company_id = $1 AND terminal_id = $2
	`, companyID, terminalID)
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

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" || expense.CompanyID == "" || expense.Label == "" || expense.AmountCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if expense.IncurredAt.IsZero() {
		expense.IncurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, company_id, label, category, amount_cents, incurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, expense.ID, expense.CompanyID, expense.Label, expense.Category, expense.AmountCents, expense.IncurredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 200
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, label, category, amount_cents, incurred_at
		FROM expenses
		WHERE company_id = $1 AND incurred_at >= $2 AND incurred_at < $3
		ORDER BY incurred_at DESC
		LIMIT $4
	`, companyID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, limit)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Label, &e.Category, &e.AmountCents, &e.IncurredAt); err != nil {
			return nil, err
		}
		e.IncurredAt = e.IncurredAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) DeleteExpense(ctx context.Context, companyID string, expenseID string) (*domain.Expense, error) {
	var deleted domain.Expense
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM expenses
		WHERE company_id = $1 AND id = $2
		RETURNING id, company_id, label, category, amount_cents, incurred_at
	`, companyID, expenseID).Scan(&deleted.ID, &deleted.CompanyID, &deleted.Label, &deleted.Category, &deleted.AmountCents, &deleted.IncurredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	deleted.IncurredAt = deleted.IncurredAt.UTC()
	return &deleted, nil
}

func (s *Store) CreateFinanceEntry(ctx context.Context, entry domain.FinanceEntry) error {
	if entry.ID == "" || entry.CompanyID == "" {
		return store.ErrInvalidInput
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finance_entries (id, company_id, kind, source, source_id, amount, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.CompanyID, entry.Kind, entry.Source, entry.SourceID, entry.Amount, entry.OccurredAt)
	return err
}

func (s *Store) ListFinanceEntries(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.FinanceEntry, error) {
	if limit < 1 {
		limit = 200
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, kind, source, source_id, amount, occurred_at
		FROM finance_entries
		WHERE company_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at DESC
		LIMIT $4
	`, companyID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.FinanceEntry, 0, limit)
	for rows.Next() {
		var e domain.FinanceEntry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Kind, &e.Source, &e.SourceID, &e.Amount, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) DeleteFinanceEntryBySource(ctx context.Context, companyID string, source string, sourceID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM finance_entries WHERE company_id = $1 AND source = $2 AND source_id = $3
	`, companyID, source, sourceID)
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

func (s *Store) CreateProduction(ctx context.Context, production domain.Production) (*domain.Production, error) {
	if production.ID == "" || production.CompanyID == "" || production.ProductID == "" || production.Qty < 1 {
		return nil, store.ErrInvalidInput
	}
	if production.ProducedAt.IsZero() {
		production.ProducedAt = time.Now().UTC()
	}

	articlesJSON, err := json.Marshal(production.Articles)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO productions (id, company_id, product_id, qty, articles, unit_cost, status, produced_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, production.ID, production.CompanyID, production.ProductID, production.Qty, articlesJSON, production.UnitCost, production.Status, production.ProducedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := production
	return &created, nil
}

func (s *Store) ListProductions(ctx context.Context, companyID string, limit int) ([]domain.Production, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, product_id, qty, articles, unit_cost, status, produced_at
		FROM productions
		WHERE company_id = $1
		ORDER BY produced_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	productions := make([]domain.Production, 0, limit)
	for rows.Next() {
		var p domain.Production
		var articlesJSON []byte
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.ProductID, &p.Qty, &articlesJSON, &p.UnitCost, &p.Status, &p.ProducedAt); err != nil {
			return nil, err
		}
		if len(articlesJSON) > 0 {
			if err := json.Unmarshal(articlesJSON, &p.Articles); err != nil {
				return nil, err
			}
		}
		p.ProducedAt = p.ProducedAt.UTC()
		productions = append(productions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return productions, nil
}

func (s *Store) CreateNotification(ctx context.Context, notification domain.Notification) error {
	if notification.ID == "" || notification.CompanyID == "" || notification.Recipient == "" {
		return store.ErrInvalidInput
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, company_id, recipient, type, title, body, item_id, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, notification.ID, notification.CompanyID, notification.Recipient, notification.Type,
		notification.Title, notification.Body, nullString(notification.ItemID), notification.Read, notification.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, companyID string, recipient string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, recipient, type, title, body, item_id, read, created_at
		FROM notifications
		WHERE company_id = $1
		  AND ($2 = '' OR recipient = $2)
		  AND ($3 = false OR read = false)
		ORDER BY created_at DESC
		LIMIT $4
	`, companyID, recipient, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var n domain.Notification
		var itemID sql.NullString
		if err := rows.Scan(&n.ID, &n.CompanyID, &n.Recipient, &n.Type, &n.Title, &n.Body, &itemID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.ItemID = itemID.String
		n.CreatedAt = n.CreatedAt.UTC()
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, companyID string, notificationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = true WHERE company_id = $1 AND id = $2
	`, companyID, notificationID)
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

func (s *Store) GetLastStockAlert(ctx context.Context, companyID string, itemID string) (*domain.StockAlertHistory, error) {
	var entry domain.StockAlertHistory
	err := s.db.QueryRowContext(ctx, `
		SELECT company_id, item_id, item_type, classification, sent_at
		FROM stock_alert_history
		WHERE company_id = $1 AND item_id = $2
	`, companyID, itemID).Scan(&entry.CompanyID, &entry.ItemID, &entry.ItemType, &entry.Classification, &entry.SentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry.SentAt = entry.SentAt.UTC()
	return &entry, nil
}

func (s *Store) UpsertStockAlertHistory(ctx context.Context, entry domain.StockAlertHistory) error {
	if entry.CompanyID == "" || entry.ItemID == "" {
		return store.ErrInvalidInput
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_alert_history (company_id, item_id, item_type, classification, sent_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (company_id, item_id)
		DO UPDATE SET item_type = $3, classification = $4, sent_at = $5
	`, entry.CompanyID, entry.ItemID, entry.ItemType, entry.Classification, entry.SentAt)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

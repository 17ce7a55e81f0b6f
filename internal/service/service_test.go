package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"boutika/backend/internal/alert"
	"boutika/backend/internal/cache"
	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
	"boutika/backend/internal/store/memory"
)

const testCompanyID = "demo-company"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	engine := alert.NewEngine(repo, nil, 24*time.Hour)
	svc := New(repo, engine, cache.NoopProductCache{}, cache.NoopSaleCache{}, time.Minute, zap.NewNop())
	t.Cleanup(svc.Close)
	return svc, repo
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "awa", Role: domain.RoleOwner, CompanyID: testCompanyID})
}

func employeeCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "fatou", Role: domain.RoleEmployee, CompanyID: testCompanyID})
}

func stockQty(t *testing.T, repo *memory.Store, itemID string) int {
	t.Helper()
	qty, err := repo.GetStockQty(context.Background(), testCompanyID, itemID)
	if err != nil {
		t.Fatalf("GetStockQty(%s): %v", itemID, err)
	}
	return qty
}

func financeEntries(t *testing.T, repo *memory.Store) []domain.FinanceEntry {
	t.Helper()
	now := time.Now().UTC()
	entries, err := repo.ListFinanceEntries(context.Background(), testCompanyID, now.Add(-time.Hour), now.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("ListFinanceEntries: %v", err)
	}
	return entries
}

func TestCheckoutHappyPath(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		TerminalID:    "till-1",
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	sale := resp.Sale
	if sale.SubtotalCents != 3000 || sale.TotalCents != 3000 {
		t.Fatalf("subtotal=%d total=%d, want 3000/3000", sale.SubtotalCents, sale.TotalCents)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("status = %q, want %q", sale.Status, domain.SaleStatusCompleted)
	}
	if sale.CashierUsername != "fatou" {
		t.Fatalf("cashier = %q, want fatou", sale.CashierUsername)
	}

	if qty := stockQty(t, repo, "prod-savon-01"); qty != 38 {
		t.Fatalf("stock after checkout = %d, want 38", qty)
	}

	entries := financeEntries(t, repo)
	if len(entries) != 1 {
		t.Fatalf("finance entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Kind != domain.FinanceKindIncome || entry.Source != domain.FinanceSourceSale || entry.SourceID != sale.ID {
		t.Fatalf("unexpected finance entry: %+v", entry)
	}
	if !entry.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("finance amount = %s, want 30", entry.Amount)
	}
}

func TestCheckoutDiscountIsCappedAtSubtotal(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		DiscountCents: 99999,
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if resp.Sale.DiscountCents != 1500 || resp.Sale.TotalCents != 0 {
		t.Fatalf("discount=%d total=%d, want 1500/0", resp.Sale.DiscountCents, resp.Sale.TotalCents)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1000}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if qty := stockQty(t, repo, "prod-savon-01"); qty != 40 {
		t.Fatalf("stock = %d, want untouched 40", qty)
	}
}

func TestCheckoutRollsBackConsumedLinesOnFailure(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines: []domain.CartLine{
			{ProductID: "prod-savon-01", Qty: 2},
			{ProductID: "prod-jus-01", Qty: 1000},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	if qty := stockQty(t, repo, "prod-savon-01"); qty != 40 {
		t.Fatalf("first line not rolled back: stock = %d, want 40", qty)
	}
	if qty := stockQty(t, repo, "prod-jus-01"); qty != 40 {
		t.Fatalf("second line stock = %d, want 40", qty)
	}
}

func TestCheckoutRejectsRawMaterials(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "raw-huile-01", Qty: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCancelSaleRestoresStockAndFinance(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	cancelled, err := svc.CancelSale(ownerCtx(), resp.Sale.ID, domain.SaleCancelRequest{Reason: "customer return"})
	if err != nil {
		t.Fatalf("CancelSale: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}

	if qty := stockQty(t, repo, "prod-savon-01"); qty != 40 {
		t.Fatalf("stock after cancel = %d, want 40", qty)
	}
	if entries := financeEntries(t, repo); len(entries) != 0 {
		t.Fatalf("finance entries after cancel = %d, want 0", len(entries))
	}
}

func TestCancelSaleRequiresManager(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	_, err = svc.CancelSale(employeeCtx(), resp.Sale.ID, domain.SaleCancelRequest{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestExpenseCreatesOutcomeFinanceEntry(t *testing.T) {
	svc, repo := newTestService(t)

	expense, err := svc.CreateExpense(ownerCtx(), domain.ExpenseCreateRequest{
		Label:       "Electricity",
		Category:    "utilities",
		AmountCents: 2500,
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	entries := financeEntries(t, repo)
	if len(entries) != 1 {
		t.Fatalf("finance entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Kind != domain.FinanceKindOutcome || entry.Source != domain.FinanceSourceExpense || entry.SourceID != expense.ID {
		t.Fatalf("unexpected finance entry: %+v", entry)
	}
	if !entry.Amount.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("finance amount = %s, want 25", entry.Amount)
	}
	if !entry.OccurredAt.Equal(expense.IncurredAt) {
		t.Fatalf("occurred_at = %s, want %s", entry.OccurredAt, expense.IncurredAt)
	}
}

func TestDeleteExpenseRemovesFinanceEntry(t *testing.T) {
	svc, repo := newTestService(t)

	expense, err := svc.CreateExpense(ownerCtx(), domain.ExpenseCreateRequest{
		Label:       "Rent",
		AmountCents: 100000,
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	if err := svc.DeleteExpense(ownerCtx(), expense.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	if entries := financeEntries(t, repo); len(entries) != 0 {
		t.Fatalf("finance entries after delete = %d, want 0", len(entries))
	}
}

func TestCreateEmployeeDuplicatePropagates(t *testing.T) {
	svc, _ := newTestService(t)

	// "moussa" already exists in the seed accounts.
	_, err := svc.CreateEmployee(ownerCtx(), domain.EmployeeCreateRequest{
		Username: "moussa",
		Password: "supersecret1",
		Role:     domain.RoleManager,
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestCreateEmployeeRegistersRole(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateEmployee(ownerCtx(), domain.EmployeeCreateRequest{
		Username: "binta",
		Password: "supersecret1",
		Role:     domain.RoleManager,
	})
	if err != nil {
		t.Fatalf("CreateEmployee: %v", err)
	}

	company, err := repo.GetCompany(context.Background(), testCompanyID)
	if err != nil {
		t.Fatalf("GetCompany: %v", err)
	}
	if company.Employees["binta"] != domain.RoleManager {
		t.Fatalf("role map entry = %q, want manager", company.Employees["binta"])
	}
}

func TestCreateEmployeeRequiresOwner(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateEmployee(employeeCtx(), domain.EmployeeCreateRequest{
		Username: "binta",
		Password: "supersecret1",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestCreateCustomerNormalizesPhone(t *testing.T) {
	svc, _ := newTestService(t)

	customer, err := svc.CreateCustomer(employeeCtx(), domain.CustomerCreateRequest{
		Name:  "Aminata",
		Phone: "77 123 45 67",
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if customer.Phone != "+221771234567" {
		t.Fatalf("phone = %q, want +221771234567", customer.Phone)
	}
}

func TestCreateCustomerRejectsBadPhone(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateCustomer(employeeCtx(), domain.CustomerCreateRequest{
		Name:  "Aminata",
		Phone: "not-a-number",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateProductionConsumesAndBooksStock(t *testing.T) {
	svc, repo := newTestService(t)

	production, err := svc.CreateProduction(ownerCtx(), domain.ProductionCreateRequest{
		ProductID: "prod-savon-01",
		Qty:       2,
		Articles: []domain.ProductionArticle{
			{RawMaterialID: "raw-huile-01", QtyPerUnit: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateProduction: %v", err)
	}

	// raw-huile-01 costs 6000 cents per unit, one per produced item.
	if !production.UnitCost.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unit cost = %s, want 60", production.UnitCost)
	}
	if qty := stockQty(t, repo, "raw-huile-01"); qty != 38 {
		t.Fatalf("raw material stock = %d, want 38", qty)
	}
	if qty := stockQty(t, repo, "prod-savon-01"); qty != 42 {
		t.Fatalf("finished stock = %d, want 42", qty)
	}
}

func TestCreateProductionRollsBackOnShortRawMaterial(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateProduction(ownerCtx(), domain.ProductionCreateRequest{
		ProductID: "prod-savon-01",
		Qty:       1,
		Articles: []domain.ProductionArticle{
			{RawMaterialID: "raw-huile-01", QtyPerUnit: 2},
			{RawMaterialID: "raw-soude-01", QtyPerUnit: 1000},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if qty := stockQty(t, repo, "raw-huile-01"); qty != 40 {
		t.Fatalf("raw material not rolled back: %d, want 40", qty)
	}
}

func TestStockLevelsUsesDefaultThreshold(t *testing.T) {
	svc, repo := newTestService(t)

	// A product with no threshold of its own.
	if _, err := repo.CreateProduct(context.Background(), domain.Product{
		ID: "prod-extra", CompanyID: testCompanyID, Name: "Extra", Category: "misc",
		Kind: domain.ProductKindFinished, PriceCents: 500, Active: true,
	}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	levels, err := svc.StockLevels(employeeCtx())
	if err != nil {
		t.Fatalf("StockLevels: %v", err)
	}

	found := false
	for _, level := range levels.Levels {
		if level.ItemID != "prod-extra" {
			continue
		}
		found = true
		if level.Threshold != 5 {
			t.Fatalf("threshold = %d, want company default 5", level.Threshold)
		}
		if level.Status != domain.AlertRupture {
			t.Fatalf("status = %q, want rupture for zero stock", level.Status)
		}
	}
	if !found {
		t.Fatal("prod-extra missing from stock levels")
	}
}

func TestHeldCartDebounce(t *testing.T) {
	repo := memory.NewSeeded()
	saver := newCartSaver(repo, zap.NewNop(), 20*time.Millisecond)

	cart := domain.HeldCart{
		CompanyID:       testCompanyID,
		TerminalID:      "till-1",
		CashierUsername: "fatou",
		Lines:           []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1}},
		UpdatedAt:       time.Now().UTC(),
	}
	saver.Save(cart)

	// Second save within the window replaces the first.
	cart.Lines = []domain.CartLine{{ProductID: "prod-savon-01", Qty: 3}}
	saver.Save(cart)

	if pending, ok := saver.Pending(testCompanyID, "till-1"); !ok {
		t.Fatal("expected pending cart before the debounce fires")
	} else if pending.Lines[0].Qty != 3 {
		t.Fatalf("pending qty = %d, want 3", pending.Lines[0].Qty)
	}

	deadline := time.Now().Add(time.Second)
	for {
		stored, err := repo.GetHeldCart(context.Background(), testCompanyID, "till-1")
		if err == nil {
			if stored.Lines[0].Qty != 3 {
				t.Fatalf("stored qty = %d, want coalesced 3", stored.Lines[0].Qty)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced write never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := saver.Pending(testCompanyID, "till-1"); ok {
		t.Fatal("pending state should be cleared after flush")
	}
}

func TestHeldCartDropCancelsPendingWrite(t *testing.T) {
	repo := memory.NewSeeded()
	saver := newCartSaver(repo, zap.NewNop(), 20*time.Millisecond)

	saver.Save(domain.HeldCart{
		CompanyID:  testCompanyID,
		TerminalID: "till-9",
		Lines:      []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1}},
	})
	saver.Drop(testCompanyID, "till-9")

	time.Sleep(60 * time.Millisecond)
	if _, err := repo.GetHeldCart(context.Background(), testCompanyID, "till-9"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after drop", err)
	}
}

func TestCheckoutDropsHeldCart(t *testing.T) {
	svc, repo := newTestService(t)

	if err := svc.SaveHeldCart(employeeCtx(), domain.HeldCartSaveRequest{
		TerminalID: "till-1",
		Lines:      []domain.CartLine{{ProductID: "prod-savon-01", Qty: 2}},
	}); err != nil {
		t.Fatalf("SaveHeldCart: %v", err)
	}

	if _, err := svc.Checkout(employeeCtx(), domain.CheckoutRequest{
		TerminalID:    "till-1",
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 2}},
	}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if _, err := svc.GetHeldCart(employeeCtx(), "till-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after checkout", err)
	}

	if _, err := repo.GetHeldCart(context.Background(), testCompanyID, "till-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("store err = %v, want ErrNotFound", err)
	}
}

func TestNormalizeCartLinesMergesDuplicates(t *testing.T) {
	lines := normalizeCartLines([]domain.CartLine{
		{ProductID: "a", Qty: 1},
		{ProductID: "b", Qty: 2},
		{ProductID: "a", Qty: 3},
		{ProductID: "", Qty: 5},
		{ProductID: "c", Qty: 0},
	})
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].ProductID != "a" || lines[0].Qty != 4 {
		t.Fatalf("first line = %+v, want a x4", lines[0])
	}
	if lines[1].ProductID != "b" || lines[1].Qty != 2 {
		t.Fatalf("second line = %+v, want b x2", lines[1])
	}
}

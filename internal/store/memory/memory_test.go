package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
)

func setupStock(t *testing.T) *Store {
	t.Helper()
	s := NewEmpty()
	ctx := context.Background()

	if _, err := s.CreateCompany(ctx, domain.Company{ID: "co-1", Name: "Shop", OwnerUsername: "owner1"}); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: "prod-1", CompanyID: "co-1", Name: "Soap", Category: "hygiene",
		Kind: domain.ProductKindFinished, PriceCents: 1000, Active: true,
	}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	now := time.Now().UTC()
	for _, b := range []domain.StockBatch{
		{ID: "old", CompanyID: "co-1", ItemID: "prod-1", ItemType: domain.ItemTypeProduct, QtyReceived: 10, QtyRemaining: 10, Source: domain.BatchSourcePurchase, ReceivedAt: now.Add(-2 * time.Hour)},
		{ID: "new", CompanyID: "co-1", ItemID: "prod-1", ItemType: domain.ItemTypeProduct, QtyReceived: 10, QtyRemaining: 10, Source: domain.BatchSourcePurchase, ReceivedAt: now.Add(-time.Hour)},
	} {
		if _, err := s.CreateStockBatch(ctx, b); err != nil {
			t.Fatalf("CreateStockBatch(%s): %v", b.ID, err)
		}
	}
	return s
}

func batchByID(t *testing.T, s *Store, id string) domain.StockBatch {
	t.Helper()
	batches, err := s.ListStockBatches(context.Background(), "co-1", "prod-1", 10)
	if err != nil {
		t.Fatalf("ListStockBatches: %v", err)
	}
	for _, b := range batches {
		if b.ID == id {
			return b
		}
	}
	t.Fatalf("batch %s not found", id)
	return domain.StockBatch{}
}

func TestConsumeStockDrainsOldestFirst(t *testing.T) {
	s := setupStock(t)

	if err := s.ConsumeStock(context.Background(), "co-1", "prod-1", 12); err != nil {
		t.Fatalf("ConsumeStock: %v", err)
	}

	if got := batchByID(t, s, "old").QtyRemaining; got != 0 {
		t.Fatalf("old batch remaining = %d, want 0", got)
	}
	if got := batchByID(t, s, "new").QtyRemaining; got != 8 {
		t.Fatalf("new batch remaining = %d, want 8", got)
	}
}

func TestConsumeStockChecksAggregate(t *testing.T) {
	s := setupStock(t)

	err := s.ConsumeStock(context.Background(), "co-1", "prod-1", 21)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	// Nothing partially consumed.
	qty, err := s.GetStockQty(context.Background(), "co-1", "prod-1")
	if err != nil {
		t.Fatalf("GetStockQty: %v", err)
	}
	if qty != 20 {
		t.Fatalf("qty = %d, want 20", qty)
	}
}

func TestRestoreStockRefillsNewestFirst(t *testing.T) {
	s := setupStock(t)
	ctx := context.Background()

	if err := s.ConsumeStock(ctx, "co-1", "prod-1", 12); err != nil {
		t.Fatalf("ConsumeStock: %v", err)
	}
	if err := s.RestoreStock(ctx, "co-1", "prod-1", 5); err != nil {
		t.Fatalf("RestoreStock: %v", err)
	}

	// new batch had headroom 2, old takes the remaining 3.
	if got := batchByID(t, s, "new").QtyRemaining; got != 10 {
		t.Fatalf("new batch remaining = %d, want 10", got)
	}
	if got := batchByID(t, s, "old").QtyRemaining; got != 3 {
		t.Fatalf("old batch remaining = %d, want 3", got)
	}
}

func TestRestoreStockWithoutBatchesFails(t *testing.T) {
	s := NewEmpty()
	err := s.RestoreStock(context.Background(), "co-1", "prod-x", 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelSaleTwiceIsInvalid(t *testing.T) {
	s := setupStock(t)
	ctx := context.Background()

	sale := domain.Sale{
		ID: "sale-1", CompanyID: "co-1", CashierUsername: "owner1", PaymentMethod: "cash",
		SubtotalCents: 1000, TotalCents: 1000, Status: domain.SaleStatusCompleted,
		CreatedAt: time.Now().UTC(),
		Lines:     []domain.SaleLine{{ProductID: "prod-1", Name: "Soap", Qty: 1, UnitPriceCents: 1000}},
	}
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	if _, err := s.CancelSale(ctx, "co-1", "sale-1", "test", time.Now().UTC()); err != nil {
		t.Fatalf("first CancelSale: %v", err)
	}
	if _, err := s.CancelSale(ctx, "co-1", "sale-1", "test", time.Now().UTC()); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("second cancel err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.CancelSale(ctx, "co-1", "sale-missing", "test", time.Now().UTC()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing sale err = %v, want ErrNotFound", err)
	}
}

func TestListSalesRangeExcludesUpperBound(t *testing.T) {
	s := setupStock(t)
	ctx := context.Background()

	dayEnd := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, sale := range []domain.Sale{
		{ID: "sale-in", CreatedAt: dayEnd.Add(-time.Minute)},
		{ID: "sale-boundary", CreatedAt: dayEnd},
	} {
		sale.CompanyID = "co-1"
		sale.CashierUsername = "owner1"
		sale.PaymentMethod = "cash"
		sale.SubtotalCents = 1000
		sale.TotalCents = 1000
		sale.Status = domain.SaleStatusCompleted
		sale.Lines = []domain.SaleLine{{ProductID: "prod-1", Name: "Soap", Qty: 1, UnitPriceCents: 1000}}
		if _, err := s.CreateSale(ctx, sale); err != nil {
			t.Fatalf("CreateSale(%s): %v", sale.ID, err)
		}
	}

	// [from, to): a sale stamped exactly at midnight belongs to the next day.
	sales, err := s.ListSales(ctx, "co-1", dayEnd.Add(-24*time.Hour), dayEnd, 10)
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(sales) != 1 || sales[0].ID != "sale-in" {
		t.Fatalf("sales = %v, want only sale-in", saleIDs(sales))
	}

	next, err := s.ListSales(ctx, "co-1", dayEnd, dayEnd.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListSales next day: %v", err)
	}
	if len(next) != 1 || next[0].ID != "sale-boundary" {
		t.Fatalf("next day sales = %v, want only sale-boundary", saleIDs(next))
	}
}

func saleIDs(sales []domain.Sale) []string {
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	return ids
}

func TestHeldCartUpsert(t *testing.T) {
	s := setupStock(t)
	ctx := context.Background()

	cart := domain.HeldCart{
		CompanyID:  "co-1",
		TerminalID: "till-1",
		Lines:      []domain.CartLine{{ProductID: "prod-1", Qty: 1}},
	}
	if err := s.SaveHeldCart(ctx, cart); err != nil {
		t.Fatalf("SaveHeldCart: %v", err)
	}

	cart.Lines = []domain.CartLine{{ProductID: "prod-1", Qty: 4}}
	if err := s.SaveHeldCart(ctx, cart); err != nil {
		t.Fatalf("second SaveHeldCart: %v", err)
	}

	stored, err := s.GetHeldCart(ctx, "co-1", "till-1")
	if err != nil {
		t.Fatalf("GetHeldCart: %v", err)
	}
	if stored.Lines[0].Qty != 4 {
		t.Fatalf("qty = %d, want 4 after upsert", stored.Lines[0].Qty)
	}

	if err := s.DeleteHeldCart(ctx, "co-1", "till-1"); err != nil {
		t.Fatalf("DeleteHeldCart: %v", err)
	}
	if _, err := s.GetHeldCart(ctx, "co-1", "till-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestUpsertStockAlertHistoryReplacesPrior(t *testing.T) {
	s := setupStock(t)
	ctx := context.Background()

	first := domain.StockAlertHistory{
		CompanyID: "co-1", ItemID: "prod-1", ItemType: domain.ItemTypeProduct,
		Classification: domain.AlertLow, SentAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := s.UpsertStockAlertHistory(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := first
	second.Classification = domain.AlertRupture
	second.SentAt = time.Now().UTC()
	if err := s.UpsertStockAlertHistory(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	last, err := s.GetLastStockAlert(ctx, "co-1", "prod-1")
	if err != nil {
		t.Fatalf("GetLastStockAlert: %v", err)
	}
	if last.Classification != domain.AlertRupture {
		t.Fatalf("classification = %q, want rupture", last.Classification)
	}
	if !last.SentAt.Equal(second.SentAt) {
		t.Fatalf("sent_at = %s, want %s", last.SentAt, second.SentAt)
	}
}

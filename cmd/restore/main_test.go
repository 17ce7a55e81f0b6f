package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
	"boutika/backend/internal/store/memory"
)

func writeCollection(t *testing.T, dir string, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestRestorer(repo store.Repository, overwrite bool, dryRun bool) *restorer {
	return &restorer{repo: repo, log: zap.NewNop(), dryRun: dryRun, overwrite: overwrite, batch: 100}
}

func backupProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-1", CompanyID: "co-1", Name: "Savon", Category: "hygiene", Kind: domain.ProductKindFinished, PriceCents: 9999, Active: true},
		{ID: "prod-2", CompanyID: "co-1", Name: "Jus", Category: "boissons", Kind: domain.ProductKindFinished, PriceCents: 2000, Active: true},
	}
}

func seedProduct(t *testing.T, repo store.Repository) {
	t.Helper()
	_, err := repo.CreateProduct(context.Background(), domain.Product{
		ID: "prod-1", CompanyID: "co-1", Name: "Savon", Category: "hygiene",
		Kind: domain.ProductKindFinished, PriceCents: 1000, Active: true,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestRestoreMergeSkipsExistingIDs(t *testing.T) {
	repo := memory.NewEmpty()
	seedProduct(t, repo)
	path := writeCollection(t, t.TempDir(), "products.json", backupProducts())

	r := newTestRestorer(repo, false, false)
	stats := r.restoreProducts(context.Background(), path)

	if stats.Total != 2 || stats.Written != 1 || stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want total 2 written 1 skipped 1", stats)
	}

	existing, err := repo.GetProduct(context.Background(), "co-1", "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if existing.PriceCents != 1000 {
		t.Fatalf("price = %d, merge must not touch an existing product", existing.PriceCents)
	}
	if _, err := repo.GetProduct(context.Background(), "co-1", "prod-2"); err != nil {
		t.Fatalf("new product not written: %v", err)
	}
}

func TestRestoreOverwriteTakesUpdatePath(t *testing.T) {
	repo := memory.NewEmpty()
	seedProduct(t, repo)
	path := writeCollection(t, t.TempDir(), "products.json", backupProducts())

	r := newTestRestorer(repo, true, false)
	stats := r.restoreProducts(context.Background(), path)

	if stats.Total != 2 || stats.Written != 2 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want total 2 written 2", stats)
	}

	updated, err := repo.GetProduct(context.Background(), "co-1", "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if updated.PriceCents != 9999 {
		t.Fatalf("price = %d, overwrite must replace the existing product", updated.PriceCents)
	}
}

func TestRestoreOverwriteSkipsAppendOnlyCollections(t *testing.T) {
	repo := memory.NewEmpty()
	sale := domain.Sale{
		ID: "sale-1", CompanyID: "co-1", CashierUsername: "awa", PaymentMethod: "cash",
		SubtotalCents: 1500, TotalCents: 1500, Status: domain.SaleStatusCompleted,
		CreatedAt: time.Now().UTC(),
		Lines:     []domain.SaleLine{{ProductID: "prod-1", Name: "Savon", Qty: 1, UnitPriceCents: 1500}},
	}
	if _, err := repo.CreateSale(context.Background(), sale); err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	path := writeCollection(t, t.TempDir(), "sales.json", []domain.Sale{sale})

	// Sales have no update path, so even overwrite mode only counts the skip.
	r := newTestRestorer(repo, true, false)
	stats := r.restoreSales(context.Background(), path)

	if stats.Total != 1 || stats.Written != 0 || stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want total 1 skipped 1", stats)
	}
}

func TestRestoreDryRunWritesNothing(t *testing.T) {
	repo := memory.NewEmpty()
	path := writeCollection(t, t.TempDir(), "products.json", backupProducts())

	r := newTestRestorer(repo, false, true)
	stats := r.restoreProducts(context.Background(), path)

	if stats.Total != 2 || stats.Written != 0 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want total 2 and no writes", stats)
	}
	if _, err := repo.GetProduct(context.Background(), "co-1", "prod-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, dry run must not write", err)
	}
}

func TestRestoreMissingFileIsEmptyCollection(t *testing.T) {
	r := newTestRestorer(memory.NewEmpty(), false, false)
	stats := r.restoreProducts(context.Background(), filepath.Join(t.TempDir(), "products.json"))

	if stats.Total != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want empty stats for a missing file", stats)
	}
}

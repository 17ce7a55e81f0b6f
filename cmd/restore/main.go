// Command restore replays a JSON backup directory into the store. Each
// collection lives in its own file (companies.json, products.json, ...) as a
// JSON array of the API's wire types. Writes go through the same repository
// layer as the server so restored data passes the same constraints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"boutika/backend/internal/config"
	"boutika/backend/internal/domain"
	"boutika/backend/internal/logger"
	"boutika/backend/internal/store"
	"boutika/backend/internal/store/memory"
	pgstore "boutika/backend/internal/store/postgres"
)

type restoreStats struct {
	Collection string
	Total      int
	Written    int
	Skipped    int
	Failed     int
}

func main() {
	dir := flag.String("dir", "", "backup directory to restore from")
	dryRun := flag.Bool("dry-run", false, "parse and report without writing")
	mode := flag.String("mode", "merge", "merge (skip existing) or overwrite (replace existing)")
	batch := flag.Int("batch", 100, "records per progress report")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: restore -dir <backup-dir> [-dry-run] [-mode merge|overwrite] [-batch n]")
		os.Exit(2)
	}
	if *mode != "merge" && *mode != "overwrite" {
		fmt.Fprintf(os.Stderr, "unknown mode %q: want merge or overwrite\n", *mode)
		os.Exit(2)
	}
	if *batch < 1 {
		*batch = 100
	}

	cfg := config.Load()
	zl, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres unavailable", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()
		repo = pg
		zl.Info("restoring into postgres")
	} else {
		repo = memory.NewEmpty()
		zl.Warn("DATABASE_URL not set, restoring into a throwaway in-memory store")
	}

	r := &restorer{
		repo:      repo,
		log:       zl,
		dryRun:    *dryRun,
		overwrite: *mode == "overwrite",
		batch:     *batch,
	}

	// Dependency order: companies before accounts and catalogue, catalogue
	// before stock and sales.
	all := []restoreStats{
		r.restoreCompanies(ctx, filepath.Join(*dir, "companies.json")),
		r.restoreEmployees(ctx, filepath.Join(*dir, "employees.json")),
		r.restoreProducts(ctx, filepath.Join(*dir, "products.json")),
		r.restoreStockBatches(ctx, filepath.Join(*dir, "stock_batches.json")),
		r.restoreCustomers(ctx, filepath.Join(*dir, "customers.json")),
		r.restoreSales(ctx, filepath.Join(*dir, "sales.json")),
		r.restoreExpenses(ctx, filepath.Join(*dir, "expenses.json")),
		r.restoreFinanceEntries(ctx, filepath.Join(*dir, "finance_entries.json")),
		r.restoreProductions(ctx, filepath.Join(*dir, "productions.json")),
		r.restoreNotifications(ctx, filepath.Join(*dir, "notifications.json")),
	}

	failed := 0
	for _, stats := range all {
		if stats.Collection == "" {
			continue
		}
		zl.Info("collection done",
			zap.String("collection", stats.Collection),
			zap.Int("total", stats.Total),
			zap.Int("written", stats.Written),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed))
		failed += stats.Failed
	}

	if *dryRun {
		zl.Info("dry run complete, nothing written")
	}
	if failed > 0 {
		zl.Error("restore finished with failures", zap.Int("failed", failed))
		os.Exit(1)
	}
	zl.Info("restore complete")
}

type restorer struct {
	repo      store.Repository
	log       *zap.Logger
	dryRun    bool
	overwrite bool
	batch     int
}

// loadCollection reads a JSON array file into dest. A missing file is not an
// error: backups may omit empty collections.
func loadCollection(path string, dest any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// apply runs one write, translating duplicate errors per the restore mode.
// update is the overwrite-mode fallback; pass nil for append-only collections.
func (r *restorer) apply(stats *restoreStats, id string, create func() error, update func() error) {
	stats.Total++
	if r.dryRun {
		return
	}
	if stats.Total%r.batch == 0 {
		r.log.Info("progress",
			zap.String("collection", stats.Collection),
			zap.Int("processed", stats.Total))
	}

	err := create()
	if err == nil {
		stats.Written++
		return
	}
	if !errors.Is(err, store.ErrDuplicate) {
		stats.Failed++
		r.log.Warn("write failed",
			zap.String("collection", stats.Collection),
			zap.String("id", id),
			zap.Error(err))
		return
	}

	if !r.overwrite || update == nil {
		stats.Skipped++
		return
	}
	if err := update(); err != nil {
		stats.Failed++
		r.log.Warn("overwrite failed",
			zap.String("collection", stats.Collection),
			zap.String("id", id),
			zap.Error(err))
		return
	}
	stats.Written++
}

func (r *restorer) restoreCompanies(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "companies"}
	var companies []domain.Company
	if ok, err := loadCollection(path, &companies); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, company := range companies {
		company := company
		r.apply(&stats, company.ID,
			func() error {
				_, err := r.repo.CreateCompany(ctx, company)
				return err
			},
			func() error {
				_, err := r.repo.UpdateCompanySettings(ctx, company.ID, company.Settings)
				if err != nil {
					return err
				}
				for username, role := range company.Employees {
					if err := r.repo.SetCompanyEmployeeRole(ctx, company.ID, username, role); err != nil {
						return err
					}
				}
				return nil
			})
	}
	return stats
}

func (r *restorer) restoreEmployees(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "employees"}
	var accounts []domain.EmployeeAccount
	if ok, err := loadCollection(path, &accounts); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, account := range accounts {
		account := account
		r.apply(&stats, account.Username,
			func() error { return r.repo.CreateEmployee(ctx, account) },
			func() error { return r.repo.UpdateEmployeePassword(ctx, account.Username, account.Password) })
	}
	return stats
}

func (r *restorer) restoreProducts(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "products"}
	var products []domain.Product
	if ok, err := loadCollection(path, &products); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, product := range products {
		product := product
		r.apply(&stats, product.ID,
			func() error {
				_, err := r.repo.CreateProduct(ctx, product)
				return err
			},
			func() error {
				_, err := r.repo.UpdateProduct(ctx, product)
				return err
			})
	}
	return stats
}

func (r *restorer) restoreStockBatches(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "stock_batches"}
	var batches []domain.StockBatch
	if ok, err := loadCollection(path, &batches); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, batch := range batches {
		batch := batch
		r.apply(&stats, batch.ID,
			func() error {
				_, err := r.repo.CreateStockBatch(ctx, batch)
				return err
			},
			nil)
	}
	return stats
}

func (r *restorer) restoreCustomers(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "customers"}
	var customers []domain.Customer
	if ok, err := loadCollection(path, &customers); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, customer := range customers {
		customer := customer
		r.apply(&stats, customer.ID,
			func() error {
				_, err := r.repo.CreateCustomer(ctx, customer)
				return err
			},
			nil)
	}
	return stats
}

func (r *restorer) restoreSales(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "sales"}
	var sales []domain.Sale
	if ok, err := loadCollection(path, &sales); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, sale := range sales {
		sale := sale
		r.apply(&stats, sale.ID,
			func() error {
				_, err := r.repo.CreateSale(ctx, sale)
				return err
			},
			nil)
	}
	return stats
}

func (r *restorer) restoreExpenses(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "expenses"}
	var expenses []domain.Expense
	if ok, err := loadCollection(path, &expenses); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, expense := range expenses {
		expense := expense
		r.apply(&stats, expense.ID,
			func() error {
				_, err := r.repo.CreateExpense(ctx, expense)
				return err
			},
			nil)
	}
	return stats
}

func (r *restorer) restoreFinanceEntries(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "finance_entries"}
	var entries []domain.FinanceEntry
	if ok, err := loadCollection(path, &entries); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, entry := range entries {
		entry := entry
		r.apply(&stats, entry.ID,
			func() error { return r.repo.CreateFinanceEntry(ctx, entry) },
			nil)
	}
	return stats
}

func (r *restorer) restoreProductions(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "productions"}
	var productions []domain.Production
	if ok, err := loadCollection(path, &productions); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, production := range productions {
		production := production
		r.apply(&stats, production.ID,
			func() error {
				_, err := r.repo.CreateProduction(ctx, production)
				return err
			},
			nil)
	}
	return stats
}

func (r *restorer) restoreNotifications(ctx context.Context, path string) restoreStats {
	stats := restoreStats{Collection: "notifications"}
	var notifications []domain.Notification
	if ok, err := loadCollection(path, &notifications); err != nil {
		r.log.Error("load failed", zap.Error(err))
		stats.Failed++
		return stats
	} else if !ok {
		return stats
	}

	for _, notification := range notifications {
		notification := notification
		r.apply(&stats, notification.ID,
			func() error { return r.repo.CreateNotification(ctx, notification) },
			nil)
	}
	return stats
}

// Package alert implements the stock alert pipeline: classify current stock,
// gate repeat alerts behind a de-duplication window, fan a notification out to
// the company's managers and record the send for the next gate check.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
	"boutika/backend/internal/xid"
)

type Engine struct {
	repo        store.Repository
	log         *zap.Logger
	dedupWindow time.Duration
}

func NewEngine(repo store.Repository, log *zap.Logger, dedupWindow time.Duration) *Engine {
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{repo: repo, log: log, dedupWindow: dedupWindow}
}

// Classify maps an aggregate stock quantity to an alert classification.
func Classify(qty int, threshold int) string {
	switch {
	case qty <= 0:
		return domain.AlertRupture
	case qty <= threshold:
		return domain.AlertLow
	default:
		return domain.AlertNone
	}
}

// EvaluateItem reads the aggregate remaining quantity for the item and
// classifies it. Pure read, no side effects.
func (e *Engine) EvaluateItem(ctx context.Context, companyID string, itemID string, threshold int) (string, int, error) {
	qty, err := e.repo.GetStockQty(ctx, companyID, itemID)
	if err != nil {
		return "", 0, err
	}
	return Classify(qty, threshold), qty, nil
}

// shouldSend is the de-duplication gate. A new alert is permitted when there
// is no prior record, the classification changed, or the dedup window has
// elapsed. A read error fails open: the alert is sent rather than lost.
func (e *Engine) shouldSend(ctx context.Context, companyID string, itemID string, classification string, now time.Time) bool {
	last, err := e.repo.GetLastStockAlert(ctx, companyID, itemID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("stock alert history read failed, failing open",
				zap.String("company_id", companyID),
				zap.String("item_id", itemID),
				zap.Error(err))
		}
		return true
	}
	if last.Classification != classification {
		return true
	}
	return now.Sub(last.SentAt) > e.dedupWindow
}

// Process evaluates one item and, when the gate permits, fans a notification
// out to the company's managers and owner. It returns the classification and
// whether an alert was sent. Notification write failures are logged and
// swallowed so they never fail the caller.
func (e *Engine) Process(ctx context.Context, companyID string, item domain.Product) (string, bool, error) {
	threshold := item.StockThreshold
	if threshold <= 0 {
		company, err := e.repo.GetCompany(ctx, companyID)
		if err != nil {
			return "", false, err
		}
		threshold = company.Settings.DefaultStockThreshold
	}

	classification, qty, err := e.EvaluateItem(ctx, companyID, item.ID, threshold)
	if err != nil {
		return "", false, err
	}
	if classification == domain.AlertNone {
		return classification, false, nil
	}

	now := time.Now().UTC()
	if !e.shouldSend(ctx, companyID, item.ID, classification, now) {
		return classification, false, nil
	}

	recipients, err := e.resolveRecipients(ctx, companyID)
	if err != nil {
		return classification, false, err
	}

	itemType := domain.ItemTypeProduct
	if item.Kind == domain.ProductKindRawMaterial {
		itemType = domain.ItemTypeRawMaterial
	}

	notifType := domain.NotificationStockLow
	title := fmt.Sprintf("Low stock: %s", item.Name)
	body := fmt.Sprintf("%s is down to %d (threshold %d)", item.Name, qty, threshold)
	if classification == domain.AlertRupture {
		notifType = domain.NotificationStockRupture
		title = fmt.Sprintf("Out of stock: %s", item.Name)
		body = fmt.Sprintf("%s has no remaining stock", item.Name)
	}

	for _, recipient := range recipients {
		err := e.repo.CreateNotification(ctx, domain.Notification{
			ID:        xid.New("notif"),
			CompanyID: companyID,
			Recipient: recipient,
			Type:      notifType,
			Title:     title,
			Body:      body,
			ItemID:    item.ID,
			CreatedAt: now,
		})
		if err != nil {
			e.log.Warn("notification write failed",
				zap.String("recipient", recipient),
				zap.String("item_id", item.ID),
				zap.Error(err))
		}
	}

	if err := e.repo.UpsertStockAlertHistory(ctx, domain.StockAlertHistory{
		CompanyID:      companyID,
		ItemID:         item.ID,
		ItemType:       itemType,
		Classification: classification,
		SentAt:         now,
	}); err != nil {
		e.log.Warn("stock alert history write failed",
			zap.String("item_id", item.ID),
			zap.Error(err))
	}

	return classification, true, nil
}

// Run sweeps every active product and raw material for the company.
func (e *Engine) Run(ctx context.Context, companyID string) (domain.AlertRunResult, error) {
	products, err := e.repo.ListProducts(ctx, companyID, "")
	if err != nil {
		return domain.AlertRunResult{}, err
	}

	result := domain.AlertRunResult{}
	for _, product := range products {
		if !product.Active {
			continue
		}
		result.Evaluated++
		_, sent, err := e.Process(ctx, companyID, product)
		if err != nil {
			e.log.Warn("stock alert evaluation failed",
				zap.String("item_id", product.ID),
				zap.Error(err))
			result.Skipped++
			continue
		}
		if sent {
			result.Sent++
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

// resolveRecipients returns the owner plus every manager-level employee from
// the company's embedded employee map, deduplicated and sorted.
func (e *Engine) resolveRecipients(ctx context.Context, companyID string) ([]string, error) {
	company, err := e.repo.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(company.Employees)+1)
	if company.OwnerUsername != "" {
		seen[company.OwnerUsername] = struct{}{}
	}
	for username, role := range company.Employees {
		if role == domain.RoleManager || role == domain.RoleOwner {
			seen[username] = struct{}{}
		}
	}

	recipients := make([]string, 0, len(seen))
	for username := range seen {
		recipients = append(recipients, username)
	}
	sort.Strings(recipients)
	return recipients, nil
}

package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
)

// cartSaver debounces held-cart persistence. Terminals send a save request on
// every cart edit; only the last state within the delay window reaches the
// store, keyed per company and terminal.
type cartSaver struct {
	repo  store.Repository
	log   *zap.Logger
	delay time.Duration

	mu      sync.Mutex
	pending map[string]domain.HeldCart
	timers  map[string]*time.Timer
}

func newCartSaver(repo store.Repository, log *zap.Logger, delay time.Duration) *cartSaver {
	if delay <= 0 {
		delay = time.Second
	}
	return &cartSaver{
		repo:    repo,
		log:     log,
		delay:   delay,
		pending: make(map[string]domain.HeldCart),
		timers:  make(map[string]*time.Timer),
	}
}

func cartKey(companyID string, terminalID string) string {
	return companyID + "/" + terminalID
}

// Save replaces any pending state for the terminal and (re)arms its timer.
func (cs *cartSaver) Save(cart domain.HeldCart) {
	key := cartKey(cart.CompanyID, cart.TerminalID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.pending[key] = cart
	if timer, ok := cs.timers[key]; ok {
		timer.Reset(cs.delay)
		return
	}
	cs.timers[key] = time.AfterFunc(cs.delay, func() {
		cs.flushKey(key)
	})
}

// Pending returns the not-yet-persisted state for a terminal, if any.
func (cs *cartSaver) Pending(companyID string, terminalID string) (domain.HeldCart, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cart, ok := cs.pending[cartKey(companyID, terminalID)]
	return cart, ok
}

// Drop discards pending state and disarms the timer, used when the cart is
// checked out or explicitly cleared.
func (cs *cartSaver) Drop(companyID string, terminalID string) {
	key := cartKey(companyID, terminalID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if timer, ok := cs.timers[key]; ok {
		timer.Stop()
		delete(cs.timers, key)
	}
	delete(cs.pending, key)
}

func (cs *cartSaver) flushKey(key string) {
	cs.mu.Lock()
	cart, ok := cs.pending[key]
	delete(cs.pending, key)
	delete(cs.timers, key)
	cs.mu.Unlock()

	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cs.repo.SaveHeldCart(ctx, cart); err != nil {
		cs.log.Warn("held cart save failed",
			zap.String("terminal_id", cart.TerminalID),
			zap.Error(err))
	}
}

// Flush writes out everything still pending, used on shutdown.
func (cs *cartSaver) Flush() {
	cs.mu.Lock()
	keys := make([]string, 0, len(cs.pending))
	for key := range cs.pending {
		keys = append(keys, key)
	}
	for key, timer := range cs.timers {
		timer.Stop()
		delete(cs.timers, key)
	}
	cs.mu.Unlock()

	for _, key := range keys {
		cs.flushKey(key)
	}
}

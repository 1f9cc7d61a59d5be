// Package sync coordinates the client's offline queue with the backend: it
// drains pending operations when connectivity allows, refreshes the cached
// entities, and maintains the local balance projection.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"expenser/internal/api"
	"expenser/internal/core"
	"expenser/internal/store"
)

const (
	// StateOffline means no drain can run; user actions queue locally.
	StateOffline State = iota
	// StateIdle means online with no drain in flight.
	StateIdle
	// StateDraining means a drain pass is replaying the pending queues.
	StateDraining
)

type (
	// State is the engine's explicit machine state. Modeling it as a tagged
	// value keeps "draining while offline" unrepresentable.
	State int

	// Status is a snapshot pushed to subscribers on every state change.
	Status struct {
		State        State
		PendingCount int
		LastSyncTime time.Time
	}

	Config struct {
		// RefreshInterval is how often the background silent refresh runs
		// while online (default: 30s).
		RefreshInterval time.Duration
	}

	Engine struct {
		store  *store.Store
		remote api.Remote
		config Config
		logger *slog.Logger

		mu          sync.Mutex
		state       State
		subscribers map[int]func(Status)
		nextSubID   int

		// Lifecycle management
		running bool
		baseCtx context.Context
		stopCh  chan struct{}
		doneCh  chan struct{}
	}
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

func (s Status) Online() bool  { return s.State != StateOffline }
func (s Status) Syncing() bool { return s.State == StateDraining }

func DefaultConfig() Config {
	return Config{RefreshInterval: 30 * time.Second}
}

func NewEngine(st *store.Store, remote api.Remote, config Config, logger *slog.Logger) *Engine {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultConfig().RefreshInterval
	}
	return &Engine{
		store:       st,
		remote:      remote,
		config:      config,
		logger:      logger,
		state:       StateOffline,
		subscribers: make(map[int]func(Status)),
	}
}

// Start begins the background refresh loop. Returns an error if already
// running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("sync engine is already running")
	}
	e.running = true
	e.baseCtx = ctx
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	go e.runLoop(ctx)

	e.logger.InfoContext(ctx, "sync engine started",
		"refresh_interval", e.config.RefreshInterval)
	return nil
}

// Stop stops the background loop and waits for it to drain.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	close(e.stopCh)

	select {
	case <-e.doneCh:
		e.logger.InfoContext(ctx, "sync engine stopped")
	case <-ctx.Done():
		e.logger.WarnContext(ctx, "sync engine stop timed out")
		return ctx.Err()
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SilentRefresh(ctx)
		}
	}
}

// SetOnline records a connectivity transition. Regaining connectivity kicks
// off a full drain in the background; losing it freezes the engine in the
// offline state until the next transition.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.state != StateOffline
	if online == wasOnline {
		e.mu.Unlock()
		return
	}
	if online {
		e.state = StateIdle
	} else {
		// A drain in flight keeps running; its network calls will fail and
		// be left queued for the next pass.
		e.state = StateOffline
	}
	ctx := e.baseCtx
	e.mu.Unlock()

	e.logger.Info("connectivity changed", "online", online)
	e.notify()

	if online {
		if ctx == nil {
			ctx = context.Background()
		}
		go e.SyncAll(ctx)
	}
}

func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != StateOffline
}

// Subscribe registers a status callback and returns an unsubscribe function.
func (e *Engine) Subscribe(fn func(Status)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// Status reports the current engine state plus queue depth.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	status := Status{State: state}
	if count, err := e.store.PendingCount(ctx); err == nil {
		status.PendingCount = count
	} else {
		e.logger.WarnContext(ctx, "failed to read pending count", "error", err)
	}
	if ts, err := e.store.LastSyncTime(ctx); err == nil {
		status.LastSyncTime = ts
	}
	return status
}

// Notify pushes a fresh status snapshot to every subscriber. The application
// facade calls this after inserting into a pending queue.
func (e *Engine) Notify() {
	e.notify()
}

func (e *Engine) notify() {
	ctx := context.Background()
	status := e.Status(ctx)

	e.mu.Lock()
	fns := make([]func(Status), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

// beginDrain transitions Idle → Draining. It refuses while offline and
// coalesces re-entrant requests: a drain already in flight absorbs the new
// request.
func (e *Engine) beginDrain() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return false
	}
	e.state = StateDraining
	return true
}

func (e *Engine) endDrain() {
	e.mu.Lock()
	// Connectivity may have dropped mid-drain; do not resurrect Idle then.
	if e.state == StateDraining {
		e.state = StateIdle
	}
	e.mu.Unlock()
}

// SyncAll performs one full drain pass: replay pending deletes, then pending
// transaction creations, then pending workflow creations, then refresh every
// cached entity from the server and stamp the sync time. Per-item failures
// are logged and left queued for the next pass; a failed refresh aborts the
// rest of this pass only.
func (e *Engine) SyncAll(ctx context.Context) {
	if !e.beginDrain() {
		e.logger.DebugContext(ctx, "drain request dropped", "state", e.Status(ctx).State.String())
		return
	}
	e.notify()
	defer func() {
		e.endDrain()
		e.notify()
	}()

	e.logger.InfoContext(ctx, "starting full sync")

	e.drainDeletes(ctx)
	e.drainTransactions(ctx)
	e.drainWorkflows(ctx)

	if err := e.refreshAll(ctx); err != nil {
		e.logger.ErrorContext(ctx, "refresh failed, aborting sync pass", "error", err)
		return
	}

	if err := e.store.SetLastSyncTime(ctx, time.Now()); err != nil {
		e.logger.WarnContext(ctx, "failed to record sync time", "error", err)
	}

	e.logger.InfoContext(ctx, "sync completed")
}

func (e *Engine) drainDeletes(ctx context.Context) {
	pending, err := e.store.PendingDeletes(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to read pending deletes", "error", err)
		return
	}
	if len(pending) > 0 {
		e.logger.InfoContext(ctx, "replaying pending deletes", "count", len(pending))
	}

	for _, item := range pending {
		var delErr error
		switch item.EntityType {
		case core.EntityTransaction:
			delErr = e.remote.DeleteTransaction(ctx, item.ID)
		case core.EntityWorkflow:
			delErr = e.remote.DeleteWorkflow(ctx, item.ID)
		default:
			delErr = fmt.Errorf("unknown entity type %q", item.EntityType)
		}
		if delErr != nil {
			// Stays queued; retried on the next pass.
			e.logger.WarnContext(ctx, "pending delete failed",
				"type", item.EntityType, "id", item.ID, "error", delErr)
			continue
		}
		if err := e.store.RemovePendingDelete(ctx, item); err != nil {
			e.logger.ErrorContext(ctx, "failed to dequeue delete", "id", item.ID, "error", err)
		}
	}
}

func (e *Engine) drainTransactions(ctx context.Context) {
	pending, err := e.store.PendingTransactions(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to read pending transactions", "error", err)
		return
	}
	if len(pending) > 0 {
		e.logger.InfoContext(ctx, "replaying pending transactions", "count", len(pending))
	}

	// Insertion order is chronological; replay strictly in order so a later
	// write never overtakes an earlier one.
	for _, txn := range pending {
		_, err := e.remote.CreateTransaction(ctx, core.CreateTransaction{
			Type:          txn.Type,
			Amount:        txn.Amount,
			Description:   txn.Description,
			Category:      txn.Category,
			PaymentMethod: txn.PaymentMethod,
			SplitAmount:   txn.SplitAmount,
			Date:          txn.Date,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "pending transaction failed",
				"temp_id", txn.ID, "error", err)
			continue
		}
		if err := e.store.RemovePendingTransaction(ctx, txn.ID); err != nil {
			e.logger.ErrorContext(ctx, "failed to dequeue transaction",
				"temp_id", txn.ID, "error", err)
		}
	}
}

func (e *Engine) drainWorkflows(ctx context.Context) {
	pending, err := e.store.PendingWorkflows(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to read pending workflows", "error", err)
		return
	}
	if len(pending) > 0 {
		e.logger.InfoContext(ctx, "replaying pending workflows", "count", len(pending))
	}

	for _, wf := range pending {
		_, err := e.remote.CreateWorkflow(ctx, core.CreateWorkflow{
			Name:          wf.Name,
			Type:          wf.Type,
			Amount:        wf.Amount,
			Description:   wf.Description,
			Category:      wf.Category,
			PaymentMethod: wf.PaymentMethod,
			SplitAmount:   wf.SplitAmount,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "pending workflow failed",
				"temp_id", wf.ID, "error", err)
			continue
		}
		if err := e.store.RemovePendingWorkflow(ctx, wf.ID); err != nil {
			e.logger.ErrorContext(ctx, "failed to dequeue workflow",
				"temp_id", wf.ID, "error", err)
		}
	}
}

// refreshAll fetches transactions, workflows and the profile concurrently and
// overwrites the local caches. Local balances are reset to the server's
// authoritative values only when no transaction creation is still queued —
// otherwise the projection still carries unconfirmed local effects and must
// not be clobbered.
func (e *Engine) refreshAll(ctx context.Context) error {
	var (
		txns    []core.Transaction
		wfs     []core.Workflow
		profile core.Profile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txns, err = e.remote.ListTransactions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		wfs, err = e.remote.ListWorkflows(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = e.remote.GetProfile(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch from server: %w", err)
	}

	if err := e.store.SetTransactions(ctx, txns); err != nil {
		e.logger.ErrorContext(ctx, "failed to cache transactions", "error", err)
	}
	if err := e.store.SetWorkflows(ctx, wfs); err != nil {
		e.logger.ErrorContext(ctx, "failed to cache workflows", "error", err)
	}
	if err := e.store.SetProfile(ctx, profile); err != nil {
		e.logger.ErrorContext(ctx, "failed to cache profile", "error", err)
	}

	pendingTxns, err := e.store.PendingTransactions(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to read pending transactions", "error", err)
		return nil
	}
	if len(pendingTxns) == 0 {
		if err := e.store.SetLocalBalances(ctx, profile.Balances); err != nil {
			e.logger.ErrorContext(ctx, "failed to reset local balances", "error", err)
		}
	} else {
		e.logger.DebugContext(ctx, "keeping local balances, transactions still pending",
			"pending", len(pendingTxns))
	}

	return nil
}

// SilentRefresh is the periodic light poll: fetch fresh data without
// replaying the queues. When it discovers queued work it escalates to a full
// drain, so a missed connectivity event still self-heals.
func (e *Engine) SilentRefresh(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	count, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to read pending count", "error", err)
	}
	if count > 0 {
		e.logger.InfoContext(ctx, "pending items found during refresh, escalating to full sync",
			"pending", count)
		e.SyncAll(ctx)
		return
	}

	if err := e.refreshAll(ctx); err != nil {
		e.logger.DebugContext(ctx, "silent refresh failed", "error", err)
		return
	}
	e.notify()
}

// UpdateLocalBalance applies a transaction's effect to the local balance
// projection at the moment the user records it, regardless of connectivity.
// When no projection has ever been recorded, the cached profile's server
// balances seed it, so the first offline add starts from the server baseline
// rather than zero.
func (e *Engine) UpdateLocalBalance(ctx context.Context, method core.PaymentMethod, amount decimal.Decimal, txType core.TransactionType, splitAmount decimal.Decimal) (core.Balances, error) {
	balances, err := e.store.LocalBalances(ctx)
	if err != nil {
		return core.Balances{}, fmt.Errorf("read local balances: %w", err)
	}
	hasBalances, err := e.store.HasLocalBalances(ctx)
	if err != nil {
		return core.Balances{}, fmt.Errorf("check local balances: %w", err)
	}
	if !hasBalances {
		profile, err := e.store.Profile(ctx)
		if err != nil {
			return core.Balances{}, fmt.Errorf("read profile: %w", err)
		}
		if profile != nil {
			balances = profile.Balances
		}
	}
	balances.Apply(method, amount, txType, splitAmount)
	if err := e.store.SetLocalBalances(ctx, balances); err != nil {
		return core.Balances{}, fmt.Errorf("write local balances: %w", err)
	}
	return balances, nil
}

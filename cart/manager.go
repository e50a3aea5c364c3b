// Package cart keeps the shopper's cart in memory and reconciles it between
// device-local storage and the remote per-account store.
//
// The in-memory cart is the source of truth for what the shopper sees. All
// storage I/O runs on one worker goroutine, so device-local and remote writes
// never overlap, and a reconciliation always finishes before any later
// mutation is persisted.
package cart

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"shop-cart/local"
	"shop-cart/model"
	"shop-cart/session"
)

// StorageKey is the device-local key holding the serialized cart.
const StorageKey = "shop_cart"

// RemoteStore is the account-scoped cart document store.
type RemoteStore interface {
	// Fetch returns an empty cart when the account has none.
	Fetch(ctx context.Context, accountID string) ([]model.CartItem, error)
	Save(ctx context.Context, accountID string, items []model.CartItem) error
	Clear(ctx context.Context, accountID string) error
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithResultHook calls fn, on the worker goroutine, after every storage step.
// fn must not call Flush, Reconcile or SetSession: only the worker serves
// those, so the call would never return.
func WithResultHook(fn func(Result)) Option {
	return func(m *Manager) { m.hook = fn }
}

type reconcileReq struct {
	ctx       context.Context
	accountID string
	reply     chan reconcileReply
}

type reconcileReply struct {
	res Result
	err error
}

type flushReq struct {
	ctx   context.Context
	reply chan Result
}

// Manager owns the cart for one running client.
type Manager struct {
	local  local.Store
	remote RemoteStore
	logger *zap.Logger
	hook   func(Result)

	mu       sync.Mutex
	items    []model.CartItem
	hydrated bool
	session  session.State
	phase    Phase
	// pending means the stored cart is behind the in-memory one. Every write
	// carries the whole cart, so queued requests collapse into this flag.
	pending      bool
	clearRemote  bool
	reconciling  string
	reconciledTo string
	// journal holds mutations made while a reconciliation is fetching; nil
	// when none is running.
	journal []cartOp
	last    Result

	reconcileCh chan reconcileReq
	flushCh     chan flushReq
	wake        chan struct{}
	done        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
}

// Open hydrates the cart from device-local storage and starts the storage
// worker. The session starts unresolved; nothing is persisted until
// SetSession is called.
func Open(ctx context.Context, localStore local.Store, remote RemoteStore, opts ...Option) *Manager {
	m := &Manager{
		local:       localStore,
		remote:      remote,
		logger:      zap.NewNop(),
		session:     session.UnresolvedState(),
		reconcileCh: make(chan reconcileReq),
		flushCh:     make(chan flushReq),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.hydrate(ctx)
	go m.run()
	return m
}

// Close persists anything still pending and stops the worker.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	<-m.stopped
	return nil
}

func (m *Manager) hydrate(ctx context.Context) {
	items := m.readLocal(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hydrated {
		return
	}
	m.hydrated = true
	if len(items) > 0 {
		m.items = items
	}
	m.logger.Debug("cart hydrated", zap.Int("items", len(items)))
}

// readLocal treats every failure as "no saved cart".
func (m *Manager) readLocal(ctx context.Context) []model.CartItem {
	raw, ok, err := m.local.Get(ctx, StorageKey)
	if err != nil {
		m.logger.Warn("error loading cart from device storage", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	items, err := Decode(raw)
	if err != nil {
		m.logger.Warn("discarding unreadable device cart", zap.Error(err))
		return nil
	}
	return items
}

// Items returns a copy of the cart in display order.
func (m *Manager) Items() []model.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneItems(m.items)
}

func (m *Manager) TotalItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.TotalItems(m.items)
}

// TotalPrice uses the snapshot prices stored with each line.
func (m *Manager) TotalPrice() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.TotalPrice(m.items)
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) Session() session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// AddToCart adds qty of p, merging into an existing line. A quantity below
// one adds a single unit. The whole mutation is rejected with a *StockError
// when the resulting quantity would exceed p.Stock.
func (m *Manager) AddToCart(p model.ProductSnapshot, qty int) error {
	if qty < 1 {
		qty = 1
	}
	m.mu.Lock()
	if i := indexOf(m.items, p.ID); i >= 0 {
		next := m.items[i].Quantity + qty
		if next > p.Stock {
			m.mu.Unlock()
			return &StockError{ProductID: p.ID, Requested: next, Available: p.Stock}
		}
		m.items[i].Quantity = next
	} else {
		if qty > p.Stock {
			m.mu.Unlock()
			return &StockError{ProductID: p.ID, Requested: qty, Available: p.Stock}
		}
		m.items = append(m.items, model.CartItem{ProductID: p.ID, Product: p, Quantity: qty})
	}
	m.recordLocked(cartOp{kind: opAdd, productID: p.ID, product: p, qty: qty})
	m.markDirtyLocked()
	m.mu.Unlock()
	m.nudge()
	return nil
}

// RemoveFromCart drops the line for productID, if any.
func (m *Manager) RemoveFromCart(productID string) {
	m.mu.Lock()
	// a line the merge has yet to bring in is removed too
	m.recordLocked(cartOp{kind: opRemove, productID: productID})
	i := indexOf(m.items, productID)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items[:i:i], m.items[i+1:]...)
	m.markDirtyLocked()
	m.mu.Unlock()
	m.nudge()
}

// UpdateQuantity sets the quantity of an existing line in place. A quantity
// of zero or less removes the line; an unknown product is ignored.
func (m *Manager) UpdateQuantity(productID string, qty int) error {
	if qty <= 0 {
		m.RemoveFromCart(productID)
		return nil
	}
	m.mu.Lock()
	i := indexOf(m.items, productID)
	if i < 0 {
		m.mu.Unlock()
		return nil
	}
	if stock := m.items[i].Product.Stock; qty > stock {
		m.mu.Unlock()
		return &StockError{ProductID: productID, Requested: qty, Available: stock}
	}
	m.recordLocked(cartOp{kind: opSet, productID: productID, qty: qty})
	if m.items[i].Quantity != qty {
		m.items[i].Quantity = qty
		m.markDirtyLocked()
	}
	m.mu.Unlock()
	m.nudge()
	return nil
}

// ClearCart empties the cart immediately. For a signed-in account the remote
// cart is cleared in the background; the outcome is reported as a Result.
func (m *Manager) ClearCart() {
	m.mu.Lock()
	m.items = nil
	if m.session.IsAuthenticated() {
		m.clearRemote = true
	}
	m.recordLocked(cartOp{kind: opClear})
	m.markDirtyLocked()
	m.mu.Unlock()
	m.nudge()
}

func (m *Manager) recordLocked(op cartOp) {
	if m.journal != nil {
		m.journal = append(m.journal, op)
	}
}

func (m *Manager) markDirtyLocked() {
	m.pending = true
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// SetSession feeds a session change into the manager. Becoming authenticated
// starts reconciliation for that account and returns its result; any other
// change returns a skipped Result.
func (m *Manager) SetSession(ctx context.Context, st session.State) (Result, error) {
	m.mu.Lock()
	prev := m.session
	m.session = st
	if !st.IsAuthenticated() || prev.AccountID != st.AccountID {
		// a new authentication event gets its own reconciliation
		m.reconciledTo = ""
	}
	// leaving an account hands the cart back to the device; becoming
	// authenticated writes nothing until the merge decides what to keep
	if st.Kind == session.Anonymous && prev != st {
		m.markDirtyLocked()
	}
	m.mu.Unlock()

	if !st.IsAuthenticated() {
		m.nudge()
		return Result{Skipped: true}, nil
	}
	return m.Reconcile(ctx, st.AccountID)
}

// Reconcile merges the device-local cart into the account's remote cart. It
// runs at most once per authentication event: a call made while one is in
// flight, or after one succeeded, returns a skipped Result. A failed fetch
// leaves everything as it was, so Reconcile may be called again.
func (m *Manager) Reconcile(ctx context.Context, accountID string) (Result, error) {
	m.mu.Lock()
	if m.session.Kind != session.Authenticated || m.session.AccountID != accountID {
		m.mu.Unlock()
		return Result{Op: OpReconcile, AccountID: accountID, Skipped: true}, ErrNotAuthenticated
	}
	if m.reconciling != "" || m.reconciledTo == accountID {
		m.mu.Unlock()
		return Result{Op: OpReconcile, AccountID: accountID, Skipped: true}, nil
	}
	m.reconciling = accountID
	m.mu.Unlock()

	req := reconcileReq{ctx: ctx, accountID: accountID, reply: make(chan reconcileReply, 1)}
	select {
	case m.reconcileCh <- req:
	case <-ctx.Done():
		m.releaseClaim()
		return Result{Op: OpReconcile, AccountID: accountID, Err: ctx.Err()}, ctx.Err()
	case <-m.stopped:
		m.releaseClaim()
		return Result{Op: OpReconcile, AccountID: accountID, Err: ErrClosed}, ErrClosed
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		// the worker sees the same canceled context and aborts on its own
		return Result{Op: OpReconcile, AccountID: accountID, Err: ctx.Err()}, ctx.Err()
	}
}

func (m *Manager) releaseClaim() {
	m.mu.Lock()
	m.reconciling = ""
	m.mu.Unlock()
}

// Flush waits until every pending mutation has been persisted (or cannot be
// yet, while the session is unresolved) and returns the latest Result.
func (m *Manager) Flush(ctx context.Context) (Result, error) {
	req := flushReq{ctx: ctx, reply: make(chan Result, 1)}
	select {
	case m.flushCh <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-m.stopped:
		return Result{}, ErrClosed
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			m.drain(context.Background())
			return
		case req := <-m.reconcileCh:
			res, err := m.reconcile(req.ctx, req.accountID)
			req.reply <- reconcileReply{res: res, err: err}
			m.drain(context.Background())
		case req := <-m.flushCh:
			m.drain(req.ctx)
			m.mu.Lock()
			res := m.last
			m.mu.Unlock()
			req.reply <- res
		case <-m.wake:
			m.drain(context.Background())
		}
	}
}

func (m *Manager) report(res Result) {
	m.mu.Lock()
	m.last = res
	m.mu.Unlock()
	if m.hook != nil {
		m.hook(res)
	}
}

// drain persists the in-memory cart until nothing is pending.
func (m *Manager) drain(ctx context.Context) {
	for {
		m.mu.Lock()
		if !m.pending || !m.hydrated || m.session.Kind == session.Unresolved {
			m.mu.Unlock()
			return
		}
		m.pending = false
		items := model.CloneItems(m.items)
		st := m.session
		// the remote cart is authoritative only once reconciled
		remoteReady := st.IsAuthenticated() && m.reconciledTo == st.AccountID
		clearRemote := remoteReady && m.clearRemote
		if remoteReady {
			m.clearRemote = false
		}
		m.phase = Persisting
		m.mu.Unlock()

		var res Result
		if remoteReady {
			res = m.persistRemote(ctx, st.AccountID, items, clearRemote)
		} else {
			res = m.persistLocal(ctx, items)
		}

		m.mu.Lock()
		m.phase = Idle
		m.mu.Unlock()
		m.report(res)
	}
}

func (m *Manager) persistLocal(ctx context.Context, items []model.CartItem) Result {
	res := Result{Op: OpPersist, Target: TargetLocal, Items: len(items)}
	raw, err := Encode(items)
	if err == nil {
		err = m.local.Set(ctx, StorageKey, raw)
	}
	if err != nil {
		m.logger.Error("error saving cart to device storage", zap.Error(err))
		res.Err = err
	}
	return res
}

func (m *Manager) persistRemote(ctx context.Context, accountID string, items []model.CartItem, clearRemote bool) Result {
	res := Result{Op: OpPersist, Target: TargetRemote, AccountID: accountID, Items: len(items)}
	var err error
	if clearRemote && len(items) == 0 {
		res.Op = OpClear
		err = m.remote.Clear(ctx, accountID)
	} else {
		err = m.remote.Save(ctx, accountID, items)
	}
	if err != nil {
		m.logger.Warn("error saving cart remotely, keeping it on device",
			zap.String("account_id", accountID), zap.Stringer("op", res.Op), zap.Error(err))
		fallback := m.persistLocal(ctx, items)
		res.Target = TargetLocal
		res.FellBack = true
		res.Err = err
		if fallback.Err != nil {
			res.Err = fmt.Errorf("%w (device fallback: %v)", err, fallback.Err)
		}
		return res
	}
	if err := m.local.Remove(ctx, StorageKey); err != nil {
		m.logger.Warn("error clearing device cart", zap.Error(err))
	}
	return res
}

// reconcile runs on the worker goroutine.
func (m *Manager) reconcile(ctx context.Context, accountID string) (Result, error) {
	m.mu.Lock()
	m.phase = Reconciling
	m.journal = []cartOp{}
	base := model.CloneItems(m.items)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.phase = Idle
		m.reconciling = ""
		m.journal = nil
		m.mu.Unlock()
	}()

	res := Result{Op: OpReconcile, Target: TargetRemote, AccountID: accountID}
	remoteItems, err := m.remote.Fetch(ctx, accountID)
	if err != nil {
		m.logger.Error("error loading remote cart", zap.String("account_id", accountID), zap.Error(err))
		res.Target = TargetNone
		res.Err = err
		m.report(res)
		return res, fmt.Errorf("fetch remote cart: %w", err)
	}
	deviceItems := m.readLocal(ctx)

	m.mu.Lock()
	if m.session.AccountID != accountID || !m.session.IsAuthenticated() {
		m.mu.Unlock()
		res.Target = TargetNone
		res.Err = ErrSessionChanged
		m.report(res)
		return res, ErrSessionChanged
	}
	// Remote lines first, then lines only the device had, then anything
	// added in memory that reached neither store. Mutations made during the
	// fetch are applied on top.
	merged := replay(Merge(Merge(remoteItems, deviceItems), base), m.journal)
	m.journal = nil
	m.items = merged
	m.reconciledTo = accountID
	m.clearRemote = false
	// the merged write below covers every mutation made so far
	m.pending = false
	items := model.CloneItems(merged)
	m.mu.Unlock()

	// once the cart is adopted the protocol runs to completion
	ctx = context.WithoutCancel(ctx)

	res.Items = len(items)
	var werr error
	switch {
	case len(items) > 0:
		werr = m.remote.Save(ctx, accountID, items)
	case len(remoteItems) > 0:
		// emptied while the fetch was in flight
		werr = m.remote.Clear(ctx, accountID)
	}
	if werr != nil {
		m.logger.Warn("error saving merged cart, keeping it on device",
			zap.String("account_id", accountID), zap.Error(werr))
		fallback := m.persistLocal(ctx, items)
		res.Target = TargetLocal
		res.FellBack = true
		res.Err = werr
		if fallback.Err != nil {
			res.Err = fmt.Errorf("%w (device fallback: %v)", werr, fallback.Err)
		}
		m.report(res)
		return res, nil
	}
	if err := m.local.Remove(ctx, StorageKey); err != nil {
		m.logger.Warn("error clearing device cart", zap.Error(err))
	}
	m.logger.Debug("cart reconciled", zap.String("account_id", accountID), zap.Int("items", len(items)))
	m.report(res)
	return res, nil
}

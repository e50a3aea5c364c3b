package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shop-cart/local"
)

// TokenKey is the device-local key holding the session token.
const TokenKey = "session_token"

// Provider owns the device's session state and notifies subscribers when it
// changes. It starts Unresolved until Resolve is called.
type Provider struct {
	store  local.Store
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	token     string
	nextID    int
	listeners map[int]func(State)
}

func NewProvider(store local.Store, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:     store,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(State)),
	}
}

// Current returns the session state.
func (p *Provider) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Token returns the raw token of an authenticated session.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Subscribe registers fn for state changes and returns a function that removes it.
func (p *Provider) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Resolve determines the session from the stored token. A missing, expired or
// unreadable token resolves to Anonymous.
func (p *Provider) Resolve(ctx context.Context) (State, error) {
	tok, ok, err := p.store.Get(ctx, TokenKey)
	if err != nil {
		return State{}, fmt.Errorf("read session token: %w", err)
	}
	if !ok {
		return p.set(AnonymousState(), ""), nil
	}
	account, err := AccountFromToken(tok, p.now())
	if err != nil {
		p.logger.Info("discarding stored session token", zap.Error(err))
		if rmErr := p.store.Remove(ctx, TokenKey); rmErr != nil {
			p.logger.Warn("failed to remove session token", zap.Error(rmErr))
		}
		return p.set(AnonymousState(), ""), nil
	}
	return p.set(AuthenticatedState(account), tok), nil
}

// Login stores token and switches to the authenticated session it names.
func (p *Provider) Login(ctx context.Context, token string) (State, error) {
	account, err := AccountFromToken(token, p.now())
	if err != nil {
		return State{}, err
	}
	if err := p.store.Set(ctx, TokenKey, token); err != nil {
		return State{}, fmt.Errorf("store session token: %w", err)
	}
	return p.set(AuthenticatedState(account), token), nil
}

// Logout forgets the token and switches to Anonymous.
func (p *Provider) Logout(ctx context.Context) (State, error) {
	if err := p.store.Remove(ctx, TokenKey); err != nil {
		return State{}, fmt.Errorf("remove session token: %w", err)
	}
	return p.set(AnonymousState(), ""), nil
}

func (p *Provider) set(st State, token string) State {
	p.mu.Lock()
	changed := p.state != st
	p.state = st
	p.token = token
	fns := make([]func(State), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	if changed {
		p.logger.Debug("session changed", zap.Stringer("state", st))
		for _, fn := range fns {
			fn(st)
		}
	}
	return st
}

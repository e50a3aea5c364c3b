// Package remote talks to cartd: the per-account cart document, the catalog
// and checkout.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"shop-cart/cart"
	"shop-cart/model"
	"shop-cart/session"
)

var _ cart.RemoteStore = (*Client)(nil)

// ErrNoSession is returned by account-scoped calls when there is no token, or
// the token belongs to a different account than the one asked for.
var ErrNoSession = errors.New("no session for account")

// StatusError is a non-2xx response from cartd.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Msg)
}

// Client is an HTTP client for cartd.
type Client struct {
	base   string
	http   *http.Client
	token  func() string
	logger *zap.Logger
	now    func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client for the server at baseURL. token supplies the
// current bearer token and may return "".
func NewClient(baseURL string, token func() string, opts ...ClientOption) *Client {
	c := &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: 10 * time.Second},
		token:  token,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cartBody struct {
	Items []model.CartItem `json:"items"`
}

// Fetch returns the account's cart document, empty when it has none.
func (c *Client) Fetch(ctx context.Context, accountID string) ([]model.CartItem, error) {
	tok, err := c.tokenFor(accountID)
	if err != nil {
		return nil, err
	}
	var body cartBody
	if err := c.do(ctx, http.MethodGet, "/cart", tok, nil, &body); err != nil {
		return nil, err
	}
	if body.Items == nil {
		return []model.CartItem{}, nil
	}
	return body.Items, nil
}

// Save replaces the account's cart document.
func (c *Client) Save(ctx context.Context, accountID string, items []model.CartItem) error {
	tok, err := c.tokenFor(accountID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []model.CartItem{}
	}
	return c.do(ctx, http.MethodPut, "/cart", tok, cartBody{Items: items}, nil)
}

func (c *Client) Clear(ctx context.Context, accountID string) error {
	tok, err := c.tokenFor(accountID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/cart", tok, nil, nil)
}

// Checkout places an order from the stored cart of the current session.
func (c *Client) Checkout(ctx context.Context) (model.Order, error) {
	var ord model.Order
	tok := c.token()
	if tok == "" {
		return ord, ErrNoSession
	}
	err := c.do(ctx, http.MethodPost, "/checkout/order", tok, nil, &ord)
	return ord, err
}

func (c *Client) ListProducts(ctx context.Context) ([]model.ProductSnapshot, error) {
	var out []model.ProductSnapshot
	if err := c.do(ctx, http.MethodGet, "/products/list", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProduct returns the live catalog entry, used as the snapshot when the
// product is put in the cart.
func (c *Client) GetProduct(ctx context.Context, id string) (model.ProductSnapshot, error) {
	var p model.ProductSnapshot
	err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), "", nil, &p)
	return p, err
}

func (c *Client) tokenFor(accountID string) (string, error) {
	tok := c.token()
	if tok == "" {
		return "", ErrNoSession
	}
	sub, err := session.AccountFromToken(tok, c.now())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	if sub != accountID {
		return "", fmt.Errorf("%w: token is for %q, not %q", ErrNoSession, sub, accountID)
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", resp.Header.Get("X-Request-Id")),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e) == nil {
			se.Msg = e.Error
		}
		return se
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

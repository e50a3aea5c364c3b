package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"shop-cart/cart"
	"shop-cart/config"
	"shop-cart/local"
	"shop-cart/logging"
	"shop-cart/remote"
	"shop-cart/session"
)

// app is everything one cart invocation needs.
type app struct {
	cfg      config.Client
	logger   *zap.Logger
	device   *local.SQLite
	session  *session.Provider
	remote   *remote.Client
	cart     *cart.Manager
	unsub    func()
	syncErr  error
	lastSync cart.Result
}

func openApp(ctx context.Context, configPath string, verbose bool) (*app, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Service: "cart", Level: cfg.LogLevel, Verbose: verbose})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DevicePath), 0o700); err != nil {
		return nil, err
	}
	device, err := local.OpenSQLite(cfg.DevicePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, device: device}
	a.session = session.NewProvider(device, logger)
	a.remote = remote.NewClient(cfg.ServerURL, a.session.Token,
		remote.WithLogger(logger),
		remote.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)
	a.cart = cart.Open(ctx, device, a.remote,
		cart.WithLogger(logger),
		cart.WithResultHook(func(res cart.Result) {
			if res.Err != nil {
				logger.Debug("cart storage step failed",
					zap.Stringer("op", res.Op),
					zap.Stringer("target", res.Target),
					zap.Error(res.Err))
			}
		}),
	)
	a.unsub = a.session.Subscribe(func(st session.State) {
		a.lastSync, a.syncErr = a.cart.SetSession(ctx, st)
	})
	if _, err := a.session.Resolve(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close persists pending cart changes and releases the device database.
func (a *app) Close() error {
	if a.unsub != nil {
		a.unsub()
	}
	var errs []error
	if a.cart != nil {
		errs = append(errs, a.cart.Close())
	}
	errs = append(errs, a.device.Close())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

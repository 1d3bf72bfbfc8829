package main

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/dig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/store"
)

// app is the command's dependency graph. Components are built on first
// use, so a command that never touches the module store does not open it.
type app struct {
	c       *dig.Container
	closers []func(context.Context) error
}

func newApp(configPath string) (*app, error) {
	a := &app{c: dig.New()}

	providers := []any{
		func() (*config.File, error) { return config.Load(configPath) },
		a.newLogger,
		a.openStore,
		a.newEngine,
	}
	for _, p := range providers {
		if err := a.c.Provide(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// invoke runs fn with its arguments resolved from the graph and unwraps
// dig's error decoration.
func (a *app) invoke(fn any) error {
	if err := a.c.Invoke(fn); err != nil {
		return dig.RootCause(err)
	}
	return nil
}

func (a *app) newLogger(f *config.File) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if f.Log.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(f.Log.Level)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = log.Sync()
		return nil
	})
	return log, nil
}

func (a *app) openStore(f *config.File, log *zap.Logger) (*store.BadgerStore, error) {
	if err := os.MkdirAll(filepath.Dir(f.Store.Path), 0o755); err != nil {
		return nil, err
	}
	s, err := store.Open(f.Store.Path, store.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	return s, nil
}

func (a *app) newEngine(f *config.File, log *zap.Logger) (*runtime.Engine, error) {
	ctx := context.Background()
	eng, err := runtime.New(ctx, f.Engine,
		runtime.WithLogger(log),
		runtime.WithStore(storeRef{a}))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, eng.Close)
	return eng, nil
}

// Close releases what was built, newest first.
func (a *app) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// storeRef opens the module store on the first Load.
type storeRef struct{ a *app }

func (r storeRef) Load(name string) (string, []byte, error) {
	var (
		key string
		bin []byte
	)
	err := r.a.invoke(func(s *store.BadgerStore) error {
		var err error
		key, bin, err = s.Load(name)
		return err
	})
	return key, bin, err
}

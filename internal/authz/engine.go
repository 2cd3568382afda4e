package authz

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when Options.Namespace is empty.
const DefaultNamespace = "default"

// Options configures Open.
type Options struct {
	Adapter Adapter
	// Namespace scopes the persisted snapshot. Save replaces only this namespace.
	Namespace string
	// Model is the parsed matcher configuration; nil means DefaultModelText.
	Model             *Model
	PersistTimeout    time.Duration
	PlaceholderObject string
	Notifier          Notifier
	Registerer        prometheus.Registerer
	Logger            *slog.Logger
}

// Engine is the process-wide authorization handle. It owns the rule store,
// the enforcer built over it and the admin API that mutates it.
type Engine struct {
	Enforcer *Enforcer
	Admin    *Admin

	mu       sync.Mutex
	closed   bool
	releases []func() error
}

// Open builds an Engine and loads the durable snapshot once.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	model := opts.Model
	if model == nil {
		parsed, err := ParseModel(DefaultModelText)
		if err != nil {
			return nil, err
		}
		model = parsed
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "authz"), slog.String("namespace", namespace))

	store := NewRuleStore(opts.Adapter, namespace, opts.PersistTimeout)
	enforcer := NewEnforcer(store, model, NewMetrics(opts.Registerer))
	if err := enforcer.Reload(ctx); err != nil {
		return nil, err
	}
	engine := &Engine{
		Enforcer: enforcer,
		Admin:    NewAdmin(enforcer, opts.PlaceholderObject, opts.Notifier, logger),
	}
	logger.Info("authz engine loaded",
		slog.Int("policies", len(store.AllPolicies())),
		slog.Int("groupings", store.Graph().Len()))
	return engine, nil
}

// OnClose registers fn to run when the engine is closed, in reverse order.
func (e *Engine) OnClose(fn func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases = append(e.releases, fn)
}

// Reload refreshes the enforcer from durable storage.
func (e *Engine) Reload(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.Enforcer.Reload(ctx)
}

// Enforce is shorthand for e.Enforcer.Enforce.
func (e *Engine) Enforce(subject, object, action string) bool {
	return e.Enforcer.Enforce(subject, object, action)
}

// Close releases resources registered with OnClose. It is safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	releases := e.releases
	e.releases = nil
	e.mu.Unlock()

	var first error
	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

package authz

import (
	"context"
	"sync"
)

// Adapter moves rule snapshots between memory and durable storage.
// SaveRules must replace the whole snapshot for the namespace atomically.
type Adapter interface {
	LoadRules(ctx context.Context, namespace string) ([]Rule, error)
	SaveRules(ctx context.Context, namespace string, rules []Rule) error
}

// MemoryAdapter keeps snapshots in process memory. It backs tests and
// embedded single-process deployments.
type MemoryAdapter struct {
	mu        sync.Mutex
	snapshots map[string][]Rule
}

// NewMemoryAdapter returns an adapter seeded with the given rules for namespace.
func NewMemoryAdapter(namespace string, rules ...Rule) *MemoryAdapter {
	a := &MemoryAdapter{snapshots: make(map[string][]Rule)}
	if len(rules) > 0 {
		a.snapshots[namespace] = copyRules(rules)
	}
	return a
}

// LoadRules implements Adapter.
func (a *MemoryAdapter) LoadRules(ctx context.Context, namespace string) ([]Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyRules(a.snapshots[namespace]), nil
}

// SaveRules implements Adapter.
func (a *MemoryAdapter) SaveRules(ctx context.Context, namespace string, rules []Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots[namespace] = copyRules(rules)
	return nil
}

func copyRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{PType: r.PType, Values: append([]string(nil), r.Values...)}
	}
	return out
}

var _ Adapter = (*MemoryAdapter)(nil)

package authz

import (
	"context"
	"sync"
	"sync/atomic"
)

const maxCachedClosures = 4096

// Decision explains the outcome of an authorization request.
type Decision struct {
	Allowed bool `json:"allowed"`
	// MatchedSubject is the closure member whose grant allowed the request.
	MatchedSubject string `json:"matched_subject,omitempty"`
	// Closure lists the subject and every role it inherits, sorted.
	Closure []string `json:"closure"`
}

// Enforcer evaluates (subject, object, action) requests against the rule
// store. Enforce never reloads on its own; callers that need to observe
// recent changes from another writer call Reload first.
type Enforcer struct {
	// writeMu serialises every load-or-modify-then-install sequence: Reload
	// and the Admin mutations. Without it a reload that fetched before a
	// commit could install the older snapshot after it.
	writeMu sync.Mutex
	mu      sync.RWMutex
	store   *RuleStore
	model   *Model
	metrics *Metrics

	cacheMu sync.Mutex
	closure map[string]map[string]struct{}

	stale atomic.Bool
}

// NewEnforcer returns an Enforcer over store.
// Once owned, the store's exported methods go through the enforcer's locks.
func NewEnforcer(store *RuleStore, model *Model, metrics *Metrics) *Enforcer {
	e := &Enforcer{
		store:   store,
		model:   model,
		metrics: metrics,
		closure: make(map[string]map[string]struct{}),
	}
	store.owner = e
	return e
}

// Enforce reports whether any identifier in the closure of subject holds a
// direct grant of action on object. Unknown identifiers are denied.
func (e *Enforcer) Enforce(subject, object, action string) bool {
	return e.Explain(subject, object, action).Allowed
}

// Explain evaluates a request like Enforce and reports how it was decided.
func (e *Enforcer) Explain(subject, object, action string) Decision {
	subject, object, action = normalizeID(subject), normalizeID(object), normalizeID(action)

	e.mu.RLock()
	defer e.mu.RUnlock()

	candidates := e.closureOf(subject)
	decision := Decision{Closure: sortedKeys(candidates)}
	if subject != "" && object != "" && action != "" {
		// Walk candidates in sorted order so the reported match is stable.
		for _, candidate := range decision.Closure {
			if e.store.set.hasPolicy(Policy{Subject: candidate, Object: object, Action: action}) {
				decision.Allowed = true
				decision.MatchedSubject = candidate
				break
			}
		}
	}
	e.metrics.observeDecision(decision.Allowed)
	return decision
}

// Closure returns subject plus every role it inherits.
func (e *Enforcer) Closure(subject string) []string {
	subject = normalizeID(subject)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedKeys(e.closureOf(subject))
}

// Reload replaces the in-memory rules with the durable snapshot. Enforce
// keeps serving the old snapshot while the load is in flight; admin
// mutations wait for it.
func (e *Enforcer) Reload(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.reloadLocked(ctx)
}

// reloadLocked must be called with e.writeMu held.
func (e *Enforcer) reloadLocked(ctx context.Context) error {
	set, err := e.store.fetch(ctx)
	e.metrics.observeReload(err)
	if err != nil {
		return err
	}
	e.replace(set)
	e.stale.Store(false)
	return nil
}

// MarkStale records that another writer has committed a newer snapshot.
func (e *Enforcer) MarkStale() { e.stale.Store(true) }

// Stale reports whether a newer durable snapshot is known to exist.
func (e *Enforcer) Stale() bool { return e.stale.Load() }

// Model returns the matcher configuration the enforcer was built with.
func (e *Enforcer) Model() *Model { return e.model }

// closureOf must be called with e.mu held for reading.
func (e *Enforcer) closureOf(subject string) map[string]struct{} {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if cached, ok := e.closure[subject]; ok {
		return cached
	}
	computed := e.store.set.graph.Closure(subject)
	if len(e.closure) >= maxCachedClosures {
		e.closure = make(map[string]map[string]struct{})
	}
	e.closure[subject] = computed
	return computed
}

// read runs fn against the current snapshot under the read lock.
func (e *Enforcer) read(fn func(set *ruleSet)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.store.set)
}

// mutate runs fn against the live snapshot under the write lock and drops
// cached closures.
func (e *Enforcer) mutate(fn func(set *ruleSet) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := fn(e.store.set)
	if changed {
		e.invalidate()
	}
	return changed
}

// staged returns a private copy of the snapshot for batch edits.
func (e *Enforcer) staged() *ruleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.set.clone()
}

func (e *Enforcer) snapshot() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.set.rules()
}

func (e *Enforcer) replace(set *ruleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.set = set
	e.invalidate()
}

func (e *Enforcer) invalidate() {
	e.cacheMu.Lock()
	e.closure = make(map[string]map[string]struct{})
	e.cacheMu.Unlock()
}

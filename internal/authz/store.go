package authz

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DefaultPersistTimeout bounds a single load or save round trip.
const DefaultPersistTimeout = 10 * time.Second

// ruleSet is the in-memory snapshot: direct policies per subject, the role
// graph and rows of relations the engine does not evaluate.
type ruleSet struct {
	policies map[string]map[Permission]struct{}
	graph    *RoleGraph
	extra    []Rule
}

func newRuleSet() *ruleSet {
	return &ruleSet{
		policies: make(map[string]map[Permission]struct{}),
		graph:    NewRoleGraph(),
	}
}

func buildRuleSet(rules []Rule) *ruleSet {
	set := newRuleSet()
	seen := make(map[string]struct{})
	for _, r := range rules {
		switch r.PType {
		case PTypePolicy:
			sub, obj, act := r.Value(0), r.Value(1), r.Value(2)
			if sub == "" || obj == "" || act == "" {
				continue
			}
			set.addPolicy(Policy{Subject: sub, Object: obj, Action: act})
		case PTypeGrouping:
			member, role := r.Value(0), r.Value(1)
			if member == "" || role == "" {
				continue
			}
			set.graph.AddEdge(member, role)
		default:
			if _, dup := seen[r.key()]; dup {
				continue
			}
			seen[r.key()] = struct{}{}
			set.extra = append(set.extra, Rule{PType: r.PType, Values: append([]string(nil), r.Values...)})
		}
	}
	return set
}

func (s *ruleSet) addPolicy(p Policy) bool {
	perms, ok := s.policies[p.Subject]
	if !ok {
		perms = make(map[Permission]struct{})
		s.policies[p.Subject] = perms
	}
	perm := Permission{Object: p.Object, Action: p.Action}
	if _, exists := perms[perm]; exists {
		return false
	}
	perms[perm] = struct{}{}
	return true
}

func (s *ruleSet) removePolicy(p Policy) bool {
	perms, ok := s.policies[p.Subject]
	if !ok {
		return false
	}
	perm := Permission{Object: p.Object, Action: p.Action}
	if _, exists := perms[perm]; !exists {
		return false
	}
	delete(perms, perm)
	if len(perms) == 0 {
		delete(s.policies, p.Subject)
	}
	return true
}

func (s *ruleSet) hasPolicy(p Policy) bool {
	_, ok := s.policies[p.Subject][Permission{Object: p.Object, Action: p.Action}]
	return ok
}

func (s *ruleSet) removeSubject(subject string) int {
	n := len(s.policies[subject])
	delete(s.policies, subject)
	return n
}

func (s *ruleSet) removeObject(object string) int {
	removed := 0
	for subject, perms := range s.policies {
		for perm := range perms {
			if perm.Object == object {
				delete(perms, perm)
				removed++
			}
		}
		if len(perms) == 0 {
			delete(s.policies, subject)
		}
	}
	return removed
}

func (s *ruleSet) policiesFor(subject string) []Permission {
	perms := s.policies[subject]
	out := make([]Permission, 0, len(perms))
	for perm := range perms {
		out = append(out, perm)
	}
	sortPermissions(out)
	return out
}

func (s *ruleSet) allPolicies() []Policy {
	subjects := make([]string, 0, len(s.policies))
	for subject := range s.policies {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	var out []Policy
	for _, subject := range subjects {
		for _, perm := range s.policiesFor(subject) {
			out = append(out, Policy{Subject: subject, Object: perm.Object, Action: perm.Action})
		}
	}
	return out
}

func (s *ruleSet) subjects() []string {
	set := make(map[string]struct{}, len(s.policies))
	for subject, perms := range s.policies {
		if len(perms) > 0 {
			set[subject] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func (s *ruleSet) rules() []Rule {
	policies := s.allPolicies()
	edges := s.graph.Edges()
	out := make([]Rule, 0, len(policies)+len(edges)+len(s.extra))
	for _, p := range policies {
		out = append(out, PolicyRule(p))
	}
	for _, g := range edges {
		out = append(out, GroupingRule(g))
	}
	return append(out, copyRules(s.extra)...)
}

func (s *ruleSet) clone() *ruleSet {
	out := &ruleSet{
		policies: make(map[string]map[Permission]struct{}, len(s.policies)),
		graph:    s.graph.clone(),
		extra:    copyRules(s.extra),
	}
	for subject, perms := range s.policies {
		copied := make(map[Permission]struct{}, len(perms))
		for perm := range perms {
			copied[perm] = struct{}{}
		}
		out.policies[subject] = copied
	}
	return out
}

// RuleStore is the in-memory holder of policy and grouping tuples together
// with the adapter that persists them. A store on its own is not safe for
// concurrent use. Once an Enforcer owns it, the exported methods take the
// enforcer's locks and drop its cached closures, so they may be mixed with
// Enforce and Admin calls.
type RuleStore struct {
	adapter   Adapter
	namespace string
	timeout   time.Duration
	set       *ruleSet
	owner     *Enforcer
}

// NewRuleStore returns an empty store bound to adapter and namespace.
func NewRuleStore(adapter Adapter, namespace string, timeout time.Duration) *RuleStore {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &RuleStore{adapter: adapter, namespace: namespace, timeout: timeout, set: newRuleSet()}
}

// Namespace returns the policy namespace the store persists under.
func (s *RuleStore) Namespace() string { return s.namespace }

// AddPolicy inserts p. Re-adding an existing tuple is a no-op that reports false.
func (s *RuleStore) AddPolicy(p Policy) bool {
	return s.modify(func(set *ruleSet) bool { return set.addPolicy(p) })
}

// RemovePolicy deletes p and reports whether it was present.
func (s *RuleStore) RemovePolicy(p Policy) bool {
	return s.modify(func(set *ruleSet) bool { return set.removePolicy(p) })
}

// PoliciesFor returns the permissions granted directly to subject. Role
// expansion is the Enforcer's job.
func (s *RuleStore) PoliciesFor(subject string) (perms []Permission) {
	s.view(func(set *ruleSet) { perms = set.policiesFor(subject) })
	return perms
}

// AllPolicies returns every policy tuple ordered by subject, object, action.
func (s *RuleStore) AllPolicies() (policies []Policy) {
	s.view(func(set *ruleSet) { policies = set.allPolicies() })
	return policies
}

// Groupings returns every grouping tuple ordered by member, role.
func (s *RuleStore) Groupings() (edges []Grouping) {
	s.view(func(set *ruleSet) { edges = set.graph.Edges() })
	return edges
}

// Graph exposes the grouping tuples as a role graph. For an owned store it
// is a detached copy; edit groupings through Admin instead.
func (s *RuleStore) Graph() (graph *RoleGraph) {
	if s.owner == nil {
		return s.set.graph
	}
	s.view(func(set *ruleSet) { graph = set.graph.clone() })
	return graph
}

// Rules returns the durable form of the current snapshot.
func (s *RuleStore) Rules() (rules []Rule) {
	s.view(func(set *ruleSet) { rules = set.rules() })
	return rules
}

// Save commits the in-memory snapshot, replacing the durable one for the
// namespace. On failure memory is left untouched.
func (s *RuleStore) Save(ctx context.Context) error {
	if s.owner == nil {
		return s.persist(ctx, s.set.rules())
	}
	s.owner.writeMu.Lock()
	defer s.owner.writeMu.Unlock()
	return s.persist(ctx, s.owner.snapshot())
}

// Reload replaces memory with the durable snapshot, discarding uncommitted
// changes. On failure the previous snapshot stays in place.
func (s *RuleStore) Reload(ctx context.Context) error {
	if s.owner != nil {
		return s.owner.Reload(ctx)
	}
	set, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.set = set
	return nil
}

func (s *RuleStore) modify(fn func(set *ruleSet) bool) bool {
	if s.owner == nil {
		return fn(s.set)
	}
	return s.owner.mutate(fn)
}

func (s *RuleStore) view(fn func(set *ruleSet)) {
	if s.owner == nil {
		fn(s.set)
		return
	}
	s.owner.read(fn)
}

func (s *RuleStore) fetch(ctx context.Context) (*ruleSet, error) {
	if s.adapter == nil {
		return newRuleSet(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rules, err := s.adapter.LoadRules(ctx, s.namespace)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	return buildRuleSet(rules), nil
}

func (s *RuleStore) persist(ctx context.Context, rules []Rule) error {
	if s.adapter == nil {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("no adapter configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.adapter.SaveRules(ctx, s.namespace, rules); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

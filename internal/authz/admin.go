package authz

import (
	"context"
	"log/slog"
)

// DefaultPlaceholderObject is the object of the grant that makes a new role
// discoverable through ListRoles.
const DefaultPlaceholderObject = "home"

// Notifier tells other processes that a namespace snapshot was committed.
type Notifier interface {
	Notify(ctx context.Context, namespace string) error
}

// Admin mutates rules and persists them. Mutations hold the enforcer's
// writer lock, the same one Reload takes, so concurrent read/modify/save
// and reload sequences in one process cannot lose updates.
type Admin struct {
	enforcer    *Enforcer
	placeholder string
	notifier    Notifier
	logger      *slog.Logger
}

// NewAdmin returns an Admin operating on enforcer's store.
func NewAdmin(enforcer *Enforcer, placeholder string, notifier Notifier, logger *slog.Logger) *Admin {
	if placeholder == "" {
		placeholder = DefaultPlaceholderObject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{enforcer: enforcer, placeholder: placeholder, notifier: notifier, logger: logger}
}

// GrantRoleToUser adds the grouping edge user -> role.
func (a *Admin) GrantRoleToUser(ctx context.Context, user, role string) (bool, error) {
	user, role = normalizeID(user), normalizeID(role)
	if user == "" || role == "" {
		return false, ErrInvalidIdentifier
	}
	return a.apply(ctx, "grant role", func(set *ruleSet) bool {
		return set.graph.AddEdge(user, role)
	}, slog.String("user", user), slog.String("role", role))
}

// RevokeRoleFromUser removes the grouping edge user -> role.
func (a *Admin) RevokeRoleFromUser(ctx context.Context, user, role string) (bool, error) {
	user, role = normalizeID(user), normalizeID(role)
	if user == "" || role == "" {
		return false, nil
	}
	return a.apply(ctx, "revoke role", func(set *ruleSet) bool {
		return set.graph.RemoveEdge(user, role)
	}, slog.String("user", user), slog.String("role", role))
}

// RolesOfUser returns the direct roles of user. Inherited roles are not expanded.
func (a *Admin) RolesOfUser(user string) []string {
	user = normalizeID(user)
	var roles []string
	a.enforcer.read(func(set *ruleSet) { roles = set.graph.Roles(user) })
	return roles
}

// UsersForRole returns the direct members of role.
func (a *Admin) UsersForRole(role string) []string {
	role = normalizeID(role)
	var members []string
	a.enforcer.read(func(set *ruleSet) { members = set.graph.Members(role) })
	return members
}

// GrantPermission adds (subject, object, action). An empty action means view.
func (a *Admin) GrantPermission(ctx context.Context, subject, object, action string) (bool, error) {
	p, ok := newPolicy(subject, object, action)
	if !ok {
		return false, ErrInvalidIdentifier
	}
	return a.apply(ctx, "grant permission", func(set *ruleSet) bool {
		return set.addPolicy(p)
	}, slog.String("subject", p.Subject), slog.String("object", p.Object), slog.String("action", p.Action))
}

// RevokePermission removes (subject, object, action). An empty action means view.
func (a *Admin) RevokePermission(ctx context.Context, subject, object, action string) (bool, error) {
	p, ok := newPolicy(subject, object, action)
	if !ok {
		return false, nil
	}
	return a.apply(ctx, "revoke permission", func(set *ruleSet) bool {
		return set.removePolicy(p)
	}, slog.String("subject", p.Subject), slog.String("object", p.Object), slog.String("action", p.Action))
}

// PermissionsOf returns the permissions granted directly to subject.
func (a *Admin) PermissionsOf(subject string) []Permission {
	subject = normalizeID(subject)
	var perms []Permission
	a.enforcer.read(func(set *ruleSet) { perms = set.policiesFor(subject) })
	return perms
}

// AllMenuPermissionsOf returns the objects user may view through a direct
// grant or a grant to one of its direct roles, sorted.
//
// Only one level of roles is expanded. This is a display summary and is
// intentionally shallower than Enforce, which follows the full closure: a
// grant reached through user -> roleA -> roleB is enforced but not listed.
func (a *Admin) AllMenuPermissionsOf(user string) []string {
	user = normalizeID(user)
	objects := make(map[string]struct{})
	a.enforcer.read(func(set *ruleSet) {
		subjects := append([]string{user}, set.graph.Roles(user)...)
		for _, subject := range subjects {
			for perm := range set.policies[subject] {
				if perm.Action == ActionView {
					objects[perm.Object] = struct{}{}
				}
			}
		}
	})
	return sortedKeys(objects)
}

// Placeholder returns the object CreateRole grants view on.
func (a *Admin) Placeholder() string { return a.placeholder }

// CreateRole makes role discoverable by granting it view on the placeholder
// object. Roles have no record of their own.
func (a *Admin) CreateRole(ctx context.Context, role string) (bool, error) {
	role = normalizeID(role)
	if role == "" {
		return false, ErrInvalidIdentifier
	}
	if _, err := a.GrantPermission(ctx, role, a.placeholder, ActionView); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRole removes every policy whose subject is role and every grouping
// edge in which role is the member or the target, then persists. Deleting a
// role without tuples succeeds without writing.
func (a *Admin) DeleteRole(ctx context.Context, role string) (bool, error) {
	return a.deleteSubject(ctx, "delete role", role)
}

// DeleteSubject is DeleteRole for any identifier, used when a user account
// is removed.
func (a *Admin) DeleteSubject(ctx context.Context, subject string) (bool, error) {
	return a.deleteSubject(ctx, "delete subject", subject)
}

func (a *Admin) deleteSubject(ctx context.Context, op, subject string) (bool, error) {
	subject = normalizeID(subject)
	if subject == "" {
		return true, nil
	}
	a.enforcer.writeMu.Lock()
	defer a.enforcer.writeMu.Unlock()

	staged := a.enforcer.staged()
	policies := staged.removeSubject(subject)
	groupings := staged.graph.RemoveNode(subject)
	if policies == 0 && groupings == 0 {
		return true, nil
	}
	if err := a.commitStaged(ctx, staged); err != nil {
		a.logger.Error(op, slog.String("subject", subject), slog.Any("error", err))
		return false, &CascadeError{
			Subject:         subject,
			Step:            "save",
			PoliciesStaged:  policies,
			GroupingsStaged: groupings,
			Err:             err,
		}
	}
	a.logger.Info(op, slog.String("subject", subject), slog.Int("policies", policies), slog.Int("groupings", groupings))
	return true, nil
}

// ListRoles returns the distinct subjects of policy tuples. An identifier
// that only ever appears in grouping tuples is not listed.
func (a *Admin) ListRoles() []string {
	var roles []string
	a.enforcer.read(func(set *ruleSet) { roles = set.subjects() })
	return roles
}

// ListUsers returns the distinct members of grouping tuples.
func (a *Admin) ListUsers() []string {
	var users []string
	a.enforcer.read(func(set *ruleSet) { users = set.graph.MemberIDs() })
	return users
}

// AllPolicies returns every policy tuple.
func (a *Admin) AllPolicies() []Policy {
	var out []Policy
	a.enforcer.read(func(set *ruleSet) { out = set.allPolicies() })
	return out
}

// AllGroupings returns every grouping tuple.
func (a *Admin) AllGroupings() []Grouping {
	var out []Grouping
	a.enforcer.read(func(set *ruleSet) { out = set.graph.Edges() })
	return out
}

// SetRolePermissions replaces role's direct permissions with perms. The
// clear and the adds are staged and committed as one snapshot, so either
// all of them become durable or none do.
func (a *Admin) SetRolePermissions(ctx context.Context, role string, perms []Permission) error {
	role = normalizeID(role)
	if role == "" {
		return ErrInvalidIdentifier
	}
	policies := make([]Policy, 0, len(perms))
	for _, perm := range perms {
		p, ok := newPolicy(role, perm.Object, perm.Action)
		if !ok {
			return ErrInvalidIdentifier
		}
		policies = append(policies, p)
	}
	return a.applyStaged(ctx, "set role permissions", func(set *ruleSet) {
		set.removeSubject(role)
		for _, p := range policies {
			set.addPolicy(p)
		}
	}, slog.String("role", role), slog.Int("permissions", len(policies)))
}

// SetUserRoles replaces user's direct roles with roles, as one snapshot.
func (a *Admin) SetUserRoles(ctx context.Context, user string, roles []string) error {
	user = normalizeID(user)
	if user == "" {
		return ErrInvalidIdentifier
	}
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		role = normalizeID(role)
		if role == "" {
			return ErrInvalidIdentifier
		}
		normalized = append(normalized, role)
	}
	return a.applyStaged(ctx, "set user roles", func(set *ruleSet) {
		set.graph.RemoveMemberEdges(user)
		for _, role := range normalized {
			set.graph.AddEdge(user, role)
		}
	}, slog.String("user", user), slog.Int("roles", len(normalized)))
}

// RemoveObject deletes every policy on object and returns how many were
// removed. Menus call it before their row is deleted.
func (a *Admin) RemoveObject(ctx context.Context, object string) (int, error) {
	object = normalizeID(object)
	if object == "" {
		return 0, nil
	}
	removed := 0
	err := a.applyStaged(ctx, "remove object", func(set *ruleSet) {
		removed = set.removeObject(object)
	}, slog.String("object", object))
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// RenameSubject moves every policy and grouping edge of from onto to.
func (a *Admin) RenameSubject(ctx context.Context, from, to string) error {
	from, to = normalizeID(from), normalizeID(to)
	if from == "" || to == "" {
		return ErrInvalidIdentifier
	}
	if from == to {
		return nil
	}
	return a.applyStaged(ctx, "rename subject", func(set *ruleSet) {
		for _, perm := range set.policiesFor(from) {
			set.addPolicy(Policy{Subject: to, Object: perm.Object, Action: perm.Action})
		}
		set.removeSubject(from)
		for _, role := range set.graph.Roles(from) {
			set.graph.AddEdge(to, role)
		}
		for _, member := range set.graph.Members(from) {
			set.graph.AddEdge(member, to)
		}
		set.graph.RemoveNode(from)
	}, slog.String("from", from), slog.String("to", to))
}

// RenameObject moves every policy on from onto to.
func (a *Admin) RenameObject(ctx context.Context, from, to string) error {
	from, to = normalizeID(from), normalizeID(to)
	if from == "" || to == "" {
		return ErrInvalidIdentifier
	}
	if from == to {
		return nil
	}
	return a.applyStaged(ctx, "rename object", func(set *ruleSet) {
		for _, p := range set.allPolicies() {
			if p.Object != from {
				continue
			}
			set.removePolicy(p)
			set.addPolicy(Policy{Subject: p.Subject, Object: to, Action: p.Action})
		}
	}, slog.String("from", from), slog.String("to", to))
}

// Save persists the current in-memory rules. Use it to retry after a
// failed mutation commit.
func (a *Admin) Save(ctx context.Context) error {
	a.enforcer.writeMu.Lock()
	defer a.enforcer.writeMu.Unlock()
	return a.commit(ctx)
}

// apply mutates the live snapshot and persists it when something changed.
// A failed save leaves the mutation in memory; callers decide whether to
// retry with Save or discard with Reload.
func (a *Admin) apply(ctx context.Context, op string, fn func(set *ruleSet) bool, attrs ...slog.Attr) (bool, error) {
	a.enforcer.writeMu.Lock()
	defer a.enforcer.writeMu.Unlock()

	if !a.enforcer.mutate(fn) {
		return false, nil
	}
	if err := a.commit(ctx); err != nil {
		a.logger.LogAttrs(ctx, slog.LevelError, op, append(attrs, slog.Any("error", err))...)
		return true, err
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, op, attrs...)
	return true, nil
}

// applyStaged edits a private copy and swaps it in only after it is durable.
func (a *Admin) applyStaged(ctx context.Context, op string, fn func(set *ruleSet), attrs ...slog.Attr) error {
	a.enforcer.writeMu.Lock()
	defer a.enforcer.writeMu.Unlock()

	staged := a.enforcer.staged()
	fn(staged)
	if err := a.commitStaged(ctx, staged); err != nil {
		a.logger.LogAttrs(ctx, slog.LevelError, op, append(attrs, slog.Any("error", err))...)
		return err
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, op, attrs...)
	return nil
}

func (a *Admin) commit(ctx context.Context) error {
	err := a.enforcer.store.persist(ctx, a.enforcer.snapshot())
	a.enforcer.metrics.observeSave(err)
	if err != nil {
		return err
	}
	a.notify(ctx)
	return nil
}

func (a *Admin) commitStaged(ctx context.Context, staged *ruleSet) error {
	err := a.enforcer.store.persist(ctx, staged.rules())
	a.enforcer.metrics.observeSave(err)
	if err != nil {
		return err
	}
	a.enforcer.replace(staged)
	a.notify(ctx)
	return nil
}

func (a *Admin) notify(ctx context.Context) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(ctx, a.enforcer.store.Namespace()); err != nil {
		a.logger.Warn("notify policy change", slog.Any("error", err))
	}
}

func newPolicy(subject, object, action string) (Policy, bool) {
	p := Policy{Subject: normalizeID(subject), Object: normalizeID(object), Action: normalizeAction(action)}
	return p, p.Subject != "" && p.Object != ""
}

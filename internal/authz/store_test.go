package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type flakyAdapter struct {
	*MemoryAdapter
	saveErr error
	loadErr error
	saves   int
}

func (f *flakyAdapter) SaveRules(ctx context.Context, namespace string, rules []Rule) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	return f.MemoryAdapter.SaveRules(ctx, namespace, rules)
}

func (f *flakyAdapter) LoadRules(ctx context.Context, namespace string) ([]Rule, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.MemoryAdapter.LoadRules(ctx, namespace)
}

func TestRuleStoreAddPolicyIsIdempotent(t *testing.T) {
	store := NewRuleStore(NewMemoryAdapter("ns"), "ns", 0)
	p := Policy{Subject: "admin", Object: "reports", Action: ActionView}

	require.True(t, store.AddPolicy(p))
	require.False(t, store.AddPolicy(p))
	require.Equal(t, []Policy{p}, store.AllPolicies())
}

func TestRuleStorePoliciesForIsExactSubject(t *testing.T) {
	store := NewRuleStore(nil, "ns", 0)
	store.AddPolicy(Policy{Subject: "admin", Object: "system", Action: ActionView})
	store.AddPolicy(Policy{Subject: "admin", Object: "home", Action: ActionView})
	store.Graph().AddEdge("alice", "admin")

	require.Equal(t, []Permission{{Object: "home", Action: ActionView}, {Object: "system", Action: ActionView}}, store.PoliciesFor("admin"))
	require.Empty(t, store.PoliciesFor("alice"))
	require.False(t, store.RemovePolicy(Policy{Subject: "admin", Object: "ghost", Action: ActionView}))
	require.Equal(t, []Grouping{{Member: "alice", Role: "admin"}}, store.Groupings())
}

func TestRuleStoreSaveAndReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter("ns")
	store := NewRuleStore(adapter, "ns", 0)
	store.AddPolicy(Policy{Subject: "admin", Object: "home", Action: ActionView})
	store.Graph().AddEdge("alice", "admin")
	require.NoError(t, store.Save(ctx))

	other := NewRuleStore(adapter, "ns", 0)
	require.NoError(t, other.Reload(ctx))
	require.Equal(t, store.AllPolicies(), other.AllPolicies())
	require.Equal(t, store.Graph().Edges(), other.Graph().Edges())
}

func TestRuleStoreReloadDiscardsUncommittedChanges(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter("ns", PolicyRule(Policy{Subject: "admin", Object: "home", Action: ActionView}))
	store := NewRuleStore(adapter, "ns", 0)
	require.NoError(t, store.Reload(ctx))

	store.AddPolicy(Policy{Subject: "admin", Object: "system", Action: ActionView})
	require.Len(t, store.AllPolicies(), 2)

	require.NoError(t, store.Reload(ctx))
	require.Len(t, store.AllPolicies(), 1)
}

func TestRuleStorePreservesUnknownGroupingRows(t *testing.T) {
	ctx := context.Background()
	g2 := Rule{PType: "g2", Values: []string{"reports/daily", "reports"}}
	adapter := NewMemoryAdapter("ns", g2, GroupingRule(Grouping{Member: "alice", Role: "admin"}))
	store := NewRuleStore(adapter, "ns", 0)
	require.NoError(t, store.Reload(ctx))

	store.AddPolicy(Policy{Subject: "admin", Object: "home", Action: ActionView})
	require.NoError(t, store.Save(ctx))

	saved, err := adapter.LoadRules(ctx, "ns")
	require.NoError(t, err)
	require.Contains(t, saved, g2)
	require.Contains(t, saved, GroupingRule(Grouping{Member: "alice", Role: "admin"}))
	require.Equal(t, []string{"admin"}, store.Graph().Roles("alice"))
}

func TestRuleStoreNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter("one", PolicyRule(Policy{Subject: "admin", Object: "home", Action: ActionView}))
	store := NewRuleStore(adapter, "two", 0)
	require.NoError(t, store.Reload(ctx))
	require.Empty(t, store.AllPolicies())

	store.AddPolicy(Policy{Subject: "guest", Object: "home", Action: ActionView})
	require.NoError(t, store.Save(ctx))

	one, err := adapter.LoadRules(ctx, "one")
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestRuleStorePersistenceErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	adapter := &flakyAdapter{MemoryAdapter: NewMemoryAdapter("ns"), saveErr: boom, loadErr: boom}
	store := NewRuleStore(adapter, "ns", 0)
	store.AddPolicy(Policy{Subject: "admin", Object: "home", Action: ActionView})

	err := store.Save(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, boom)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "save", perr.Op)
	require.Len(t, store.AllPolicies(), 1, "failed save must not roll memory back")

	err = store.Reload(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	require.Len(t, store.AllPolicies(), 1, "failed reload keeps the previous snapshot")
}

func TestOwnedRuleStoreGoesThroughEnforcer(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter("test")
	engine := openWithAdapter(t, adapter, nil)
	store := engine.Enforcer.store

	_, err := engine.Admin.GrantRoleToUser(ctx, "alice", "admin")
	require.NoError(t, err)
	require.True(t, store.AddPolicy(Policy{Subject: "admin", Object: "home", Action: ActionView}))
	require.True(t, engine.Enforce("alice", "home", ActionView), "closure cached for alice")

	require.NoError(t, adapter.SaveRules(ctx, "test", []Rule{
		PolicyRule(Policy{Subject: "admin", Object: "home", Action: ActionView}),
	}))
	require.NoError(t, store.Reload(ctx))
	require.False(t, engine.Enforce("alice", "home", ActionView), "reload through the store must drop cached closures")

	store.Graph().AddEdge("alice", "admin")
	require.False(t, engine.Enforce("alice", "home", ActionView), "graph of an owned store is a copy")
	require.Empty(t, store.Groupings())
}

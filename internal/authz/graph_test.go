package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoleGraphAddEdgeIsIdempotent(t *testing.T) {
	g := NewRoleGraph()
	require.True(t, g.AddEdge("alice", "admin"))
	require.False(t, g.AddEdge("alice", "admin"))
	require.Equal(t, 1, g.Len())
	require.Equal(t, []string{"admin"}, g.Roles("alice"))
	require.Equal(t, []string{"alice"}, g.Members("admin"))
}

func TestRoleGraphClosureFollowsChains(t *testing.T) {
	g := NewRoleGraph()
	g.AddEdge("user", "roleA")
	g.AddEdge("roleA", "roleB")
	g.AddEdge("roleB", "roleC")

	require.Equal(t, []string{"roleA", "roleB", "roleC", "user"}, sortedKeys(g.Closure("user")))
	require.Equal(t, []string{"roleB", "roleC"}, sortedKeys(g.Closure("roleB")))
	require.Equal(t, []string{"stranger"}, sortedKeys(g.Closure("stranger")))
}

func TestRoleGraphClosureTerminatesOnCycle(t *testing.T) {
	g := NewRoleGraph()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")

	require.Equal(t, []string{"A", "B"}, sortedKeys(g.Closure("A")))

	g.AddEdge("C", "C")
	require.Equal(t, []string{"C"}, sortedKeys(g.Closure("C")))
}

func TestRoleGraphRemoveNodeDropsBothDirections(t *testing.T) {
	g := NewRoleGraph()
	g.AddEdge("alice", "editor")
	g.AddEdge("bob", "editor")
	g.AddEdge("editor", "viewer")
	g.AddEdge("carol", "viewer")

	require.Equal(t, 3, g.RemoveNode("editor"))
	require.Empty(t, g.Roles("alice"))
	require.Empty(t, g.Members("editor"))
	require.Equal(t, []string{"carol"}, g.Members("viewer"))
	require.Equal(t, []Grouping{{Member: "carol", Role: "viewer"}}, g.Edges())
}

func TestRoleGraphRemoveEdge(t *testing.T) {
	g := NewRoleGraph()
	g.AddEdge("alice", "admin")

	require.False(t, g.RemoveEdge("alice", "ghost"))
	require.True(t, g.RemoveEdge("alice", "admin"))
	require.False(t, g.RemoveEdge("alice", "admin"))
	require.Empty(t, g.MemberIDs())
}

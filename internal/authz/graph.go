package authz

import "sort"

// RoleGraph is a directed graph of member -> role edges. It is not safe for
// concurrent use; the Enforcer guards it.
type RoleGraph struct {
	roles   map[string]map[string]struct{} // member -> roles
	members map[string]map[string]struct{} // role -> members
}

// NewRoleGraph returns an empty graph.
func NewRoleGraph() *RoleGraph {
	return &RoleGraph{
		roles:   make(map[string]map[string]struct{}),
		members: make(map[string]map[string]struct{}),
	}
}

// AddEdge links member to role. It reports false when the edge already existed.
func (g *RoleGraph) AddEdge(member, role string) bool {
	if _, ok := g.roles[member][role]; ok {
		return false
	}
	link(g.roles, member, role)
	link(g.members, role, member)
	return true
}

// RemoveEdge unlinks member from role. It reports false when there was no edge.
func (g *RoleGraph) RemoveEdge(member, role string) bool {
	if _, ok := g.roles[member][role]; !ok {
		return false
	}
	unlink(g.roles, member, role)
	unlink(g.members, role, member)
	return true
}

// RemoveNode drops every edge in which id is the member or the role and
// returns how many edges were removed.
func (g *RoleGraph) RemoveNode(id string) int {
	removed := 0
	for role := range g.roles[id] {
		unlink(g.members, role, id)
		removed++
	}
	delete(g.roles, id)
	for member := range g.members[id] {
		unlink(g.roles, member, id)
		removed++
	}
	delete(g.members, id)
	return removed
}

// RemoveMemberEdges drops only the edges where id is the member.
func (g *RoleGraph) RemoveMemberEdges(id string) int {
	removed := 0
	for role := range g.roles[id] {
		unlink(g.members, role, id)
		removed++
	}
	delete(g.roles, id)
	return removed
}

// Closure returns subject together with every role reachable from it.
// Each node is visited at most once, so cyclic graphs terminate.
func (g *RoleGraph) Closure(subject string) map[string]struct{} {
	visited := map[string]struct{}{subject: {}}
	stack := []string{subject}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for role := range g.roles[current] {
			if _, seen := visited[role]; seen {
				continue
			}
			visited[role] = struct{}{}
			stack = append(stack, role)
		}
	}
	return visited
}

// Roles returns the direct roles of member, sorted.
func (g *RoleGraph) Roles(member string) []string {
	return sortedKeys(g.roles[member])
}

// Members returns the direct members of role, sorted.
func (g *RoleGraph) Members(role string) []string {
	return sortedKeys(g.members[role])
}

// MemberIDs returns every identifier that appears as a member, sorted.
func (g *RoleGraph) MemberIDs() []string {
	out := make([]string, 0, len(g.roles))
	for member, roles := range g.roles {
		if len(roles) > 0 {
			out = append(out, member)
		}
	}
	sort.Strings(out)
	return out
}

// Edges returns all edges ordered by member then role.
func (g *RoleGraph) Edges() []Grouping {
	var out []Grouping
	for _, member := range g.MemberIDs() {
		for _, role := range g.Roles(member) {
			out = append(out, Grouping{Member: member, Role: role})
		}
	}
	return out
}

// Len returns the number of edges.
func (g *RoleGraph) Len() int {
	n := 0
	for _, roles := range g.roles {
		n += len(roles)
	}
	return n
}

func (g *RoleGraph) clone() *RoleGraph {
	out := NewRoleGraph()
	for member, roles := range g.roles {
		for role := range roles {
			out.AddEdge(member, role)
		}
	}
	return out
}

func link(m map[string]map[string]struct{}, from, to string) {
	set, ok := m[from]
	if !ok {
		set = make(map[string]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, from, to string) {
	set, ok := m[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(m, from)
	}
}

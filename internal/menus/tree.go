package menus

// BuildTree arranges menus into a forest, keeping input order among
// siblings. Menus whose parent is absent become roots, and so does the
// first member of any parent cycle found in stored data, so every menu
// appears exactly once.
func BuildTree(menus []Menu) []*Node {
	nodes := make(map[int64]*Node, len(menus))
	order := make([]int64, 0, len(menus))
	for _, m := range menus {
		if _, dup := nodes[m.ID]; dup {
			continue
		}
		nodes[m.ID] = &Node{Menu: m, Children: []*Node{}}
		order = append(order, m.ID)
	}

	children := make(map[int64][]int64)
	var roots []int64
	for _, id := range order {
		parent := nodes[id].ParentID
		if parent == nil || *parent == id {
			roots = append(roots, id)
			continue
		}
		if _, ok := nodes[*parent]; !ok {
			roots = append(roots, id)
			continue
		}
		children[*parent] = append(children[*parent], id)
	}

	visited := make(map[int64]bool, len(order))
	forest := make([]*Node, 0, len(roots))
	attach := func(rootID int64) {
		visited[rootID] = true
		stack := []int64{rootID}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			node := nodes[id]
			for _, childID := range children[id] {
				if visited[childID] {
					continue
				}
				visited[childID] = true
				node.Children = append(node.Children, nodes[childID])
				stack = append(stack, childID)
			}
		}
		forest = append(forest, nodes[rootID])
	}
	for _, id := range roots {
		attach(id)
	}
	for _, id := range order {
		if !visited[id] {
			attach(id)
		}
	}
	return forest
}

// wouldCycle reports whether making parentID the parent of id closes a loop.
func wouldCycle(menus []Menu, id, parentID int64) bool {
	parents := make(map[int64]*int64, len(menus))
	for _, m := range menus {
		parents[m.ID] = m.ParentID
	}
	seen := make(map[int64]bool)
	for cur := parentID; ; {
		if cur == id {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		next, ok := parents[cur]
		if !ok || next == nil {
			return false
		}
		cur = *next
	}
}

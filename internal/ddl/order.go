package ddl

import "sort"

// DependencyOrder sorts nodes so every node follows the nodes it depends on.
// Ties are broken lexically. Dependencies on unknown nodes and on the node
// itself are ignored. Nodes left over by a dependency cycle are appended one
// strongly connected component at a time, dependencies first. Only nodes that
// sit on a cycle are reported in cyclic; nodes that merely depend on one are not.
func DependencyOrder(nodes []string, dependsOn map[string][]string) (order []string, cyclic map[string]bool) {
	known := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		known[node] = true
	}

	pending := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for node := range known {
		seen := map[string]bool{}
		for _, dependency := range dependsOn[node] {
			if dependency == node || !known[dependency] || seen[dependency] {
				continue
			}
			seen[dependency] = true
			pending[node]++
			dependents[dependency] = append(dependents[dependency], node)
		}
	}

	var ready []string
	for node := range known {
		if pending[node] == 0 {
			ready = append(ready, node)
		}
	}

	order = make([]string, 0, len(known))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	cyclic = map[string]bool{}
	if len(order) == len(known) {
		return order, cyclic
	}
	placed := make(map[string]bool, len(order))
	for _, node := range order {
		placed[node] = true
	}
	var rest []string
	for node := range known {
		if !placed[node] {
			rest = append(rest, node)
		}
	}
	sort.Strings(rest)

	edges := make(map[string][]string, len(rest))
	for _, node := range rest {
		for _, dependency := range dependsOn[node] {
			if dependency != node && known[dependency] && !placed[dependency] {
				edges[node] = append(edges[node], dependency)
			}
		}
		sort.Strings(edges[node])
	}
	for _, component := range stronglyConnected(rest, edges) {
		sort.Strings(component)
		if len(component) > 1 {
			for _, node := range component {
				cyclic[node] = true
			}
		}
		order = append(order, component...)
	}
	return order, cyclic
}

// stronglyConnected returns the components of the graph in Tarjan's emission
// order, which places every component after the components it points to.
func stronglyConnected(nodes []string, edges map[string][]string) [][]string {
	var (
		components [][]string
		stack      []string
		counter    int
	)
	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}

	var visit func(node string)
	visit = func(node string) {
		index[node], low[node] = counter, counter
		counter++
		stack = append(stack, node)
		onStack[node] = true
		for _, next := range edges[node] {
			if _, seen := index[next]; !seen {
				visit(next)
				low[node] = min(low[node], low[next])
			} else if onStack[next] {
				low[node] = min(low[node], index[next])
			}
		}
		if low[node] != index[node] {
			return
		}
		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == node {
				break
			}
		}
		components = append(components, component)
	}
	for _, node := range nodes {
		if _, seen := index[node]; !seen {
			visit(node)
		}
	}
	return components
}

// Reverse returns a reversed copy of values.
func Reverse(values []string) []string {
	out := make([]string, len(values))
	for index, value := range values {
		out[len(values)-1-index] = value
	}
	return out
}

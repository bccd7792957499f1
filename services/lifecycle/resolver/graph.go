// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

// DependencyNode is one node of a resolution-scoped dependency graph.
type DependencyNode struct {
	// Name of the extension, plugin, or service.
	Name string

	// Version resolved for the node ("" when nothing satisfies the
	// declared constraint).
	Version string

	// DependencyType is one of the datatypes.DependencyType* constants.
	// The root node carries "extension".
	DependencyType string

	// Constraint declared by the parent ("" for the root and for
	// unconstrained dependencies).
	Constraint string

	// IsOptional mirrors the declaration; the root is never optional.
	IsOptional bool

	// IsRoot marks the version being resolved.
	IsRoot bool

	// Dependencies lists direct dependency names in declaration order.
	Dependencies []string
}

// Edge is one directed dependency relation (From depends on To).
type Edge struct {
	From string
	To   string
}

// DependencyGraph is the transient graph built for one resolution call.
//
// # Thread Safety
//
// NOT safe for concurrent use; each resolution builds and discards its
// own graph.
type DependencyGraph struct {
	// Nodes keyed by dependency name.
	Nodes map[string]*DependencyNode

	// Edges in discovery order.
	Edges []Edge

	// order preserves node discovery order for deterministic traversal.
	order []string
}

// newDependencyGraph creates an empty graph.
func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		Nodes: make(map[string]*DependencyNode),
	}
}

// addNode registers a node. Re-adding an existing name is a no-op so
// diamond dependencies keep their first-discovered version.
func (g *DependencyGraph) addNode(node *DependencyNode) {
	if _, exists := g.Nodes[node.Name]; exists {
		return
	}
	g.Nodes[node.Name] = node
	g.order = append(g.order, node.Name)
}

// addEdge records that from depends on to.
func (g *DependencyGraph) addEdge(from, to string) {
	g.Edges = append(g.Edges, Edge{From: from, To: to})
	node := g.Nodes[from]
	if node == nil {
		return
	}
	for _, dep := range node.Dependencies {
		if dep == to {
			return
		}
	}
	node.Dependencies = append(node.Dependencies, to)
}

// detectCycle runs a depth-first traversal with an explicit recursion
// stack. It returns the first cycle found, or nil for an acyclic graph.
func (g *DependencyGraph) detectCycle() *CycleError {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0, len(g.Nodes))

	var dfs func(name string) *CycleError
	dfs = func(name string) *CycleError {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		node := g.Nodes[name]
		if node != nil {
			for _, dep := range node.Dependencies {
				if !visited[dep] {
					if err := dfs(dep); err != nil {
						return err
					}
				} else if recStack[dep] {
					// Found cycle - report from its first occurrence.
					cycleStart := 0
					for i, n := range path {
						if n == dep {
							cycleStart = i
							break
						}
					}
					cyclePath := append(append([]string{}, path[cycleStart:]...), dep)
					return &CycleError{Path: cyclePath}
				}
			}
		}

		path = path[:len(path)-1]
		recStack[name] = false
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoOrder returns all non-root nodes dependencies-first: a node
// appears only after every node it depends on. Traversal follows
// discovery order, so the result is stable across runs for the same
// catalog state. The graph must already be cycle-checked.
func (g *DependencyGraph) topoOrder() []*DependencyNode {
	seen := make(map[string]bool)
	result := make([]*DependencyNode, 0, len(g.Nodes))

	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true

		node := g.Nodes[name]
		if node == nil {
			return
		}
		for _, dep := range node.Dependencies {
			visit(dep)
		}
		if !node.IsRoot {
			result = append(result, node)
		}
	}

	for _, name := range g.order {
		visit(name)
	}
	return result
}

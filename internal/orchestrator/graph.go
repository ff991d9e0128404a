package orchestrator

import (
	"strings"
	"sync"

	"debugbridge/internal/apperr"
)

// DependencyGraph records "dependent depends on dependency" edges between
// step or tool names.
type DependencyGraph struct {
	mu   sync.RWMutex
	deps map[string][]string
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{deps: make(map[string][]string)}
}

func (g *DependencyGraph) AddDependency(dependent, dependency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.deps[dependent] {
		if existing == dependency {
			return
		}
	}
	g.deps[dependent] = append(g.deps[dependent], dependency)
}

func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[name]...)
}

// ExecutionOrder topologically sorts subset using only edges whose both ends
// are in subset. Ties keep subset order. A cycle yields ErrCircularDependency
// naming its path.
func (g *DependencyGraph) ExecutionOrder(subset []string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := dedupe(subset)
	in := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		in[n] = true
	}

	pending := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for _, dep := range g.deps[n] {
			if in[dep] && dep != n {
				pending[n]++
			} else if dep == n {
				return nil, apperr.CircularDependency(n + " -> " + n)
			}
		}
	}

	order := make([]string, 0, len(nodes))
	emitted := make(map[string]bool, len(nodes))
	for len(order) < len(nodes) {
		progressed := false
		for _, n := range nodes {
			if emitted[n] || pending[n] > 0 {
				continue
			}
			emitted[n] = true
			order = append(order, n)
			progressed = true
			for _, m := range nodes {
				if emitted[m] {
					continue
				}
				for _, dep := range g.deps[m] {
					if dep == n {
						pending[m]--
					}
				}
			}
			break
		}
		if !progressed {
			return nil, apperr.CircularDependency(g.findCycle(nodes, in, emitted))
		}
	}
	return order, nil
}

// Levels groups subset into batches that can run concurrently: every node's
// dependencies sit in earlier levels.
func (g *DependencyGraph) Levels(subset []string) ([][]string, error) {
	order, err := g.ExecutionOrder(subset)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	level := make(map[string]int, len(order))
	var levels [][]string
	for _, n := range order {
		lvl := 0
		for _, dep := range g.deps[n] {
			if l, ok := level[dep]; ok && l+1 > lvl {
				lvl = l + 1
			}
		}
		level[n] = lvl
		for len(levels) <= lvl {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], n)
	}
	return levels, nil
}

// findCycle walks dependency edges among the nodes left unsorted until one
// repeats.
func (g *DependencyGraph) findCycle(nodes []string, in, emitted map[string]bool) string {
	var start string
	for _, n := range nodes {
		if !emitted[n] {
			start = n
			break
		}
	}
	path := []string{start}
	seen := map[string]int{start: 0}
	cur := start
	for {
		next := ""
		for _, dep := range g.deps[cur] {
			if in[dep] && !emitted[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return strings.Join(path, " -> ")
		}
		if idx, ok := seen[next]; ok {
			cycle := append(path[idx:], next)
			return strings.Join(cycle, " -> ")
		}
		seen[next] = len(path)
		path = append(path, next)
		cur = next
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

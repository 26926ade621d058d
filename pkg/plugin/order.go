package plugin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicatePlugin is returned when two plugins share a name.
	ErrDuplicatePlugin = errors.New("duplicate plugin")

	// ErrUnknownDependency is returned when a plugin depends on a plugin that is not configured.
	ErrUnknownDependency = errors.New("unknown plugin dependency")

	// ErrDependencyCycle is returned when plugin dependencies form a cycle.
	ErrDependencyCycle = errors.New("circular plugin dependency")
)

// Order linearizes plugins so that every plugin comes after its dependencies.
// Plugins that are not ordered by a dependency keep their configuration order,
// so the result is deterministic and an already ordered list is returned as is.
func Order(plugins []*Plugin) ([]*Plugin, error) {
	index := make(map[string]int, len(plugins))
	for i, p := range plugins {
		if p == nil || p.Name == "" {
			return nil, fmt.Errorf("plugin at position %d has no name", i)
		}
		if _, exists := index[p.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name)
		}
		index[p.Name] = i
	}

	// dependents[i] lists plugins that must come after plugins[i]
	dependents := make([][]int, len(plugins))
	inDegree := make([]int, len(plugins))
	for i, p := range plugins {
		seen := make(map[string]bool, len(p.Dependencies))
		for _, dep := range p.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: plugin %s depends on %s, which is not configured",
					ErrUnknownDependency, p.Name, dep)
			}
			dependents[j] = append(dependents[j], i)
			inDegree[i]++
		}
	}

	// Kahn's algorithm, always emitting the ready plugin configured first.
	ordered := make([]*Plugin, 0, len(plugins))
	emitted := make([]bool, len(plugins))
	for len(ordered) < len(plugins) {
		next := -1
		for i := range plugins {
			if !emitted[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			cycle := findCycle(plugins, index, emitted)
			return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
		}

		emitted[next] = true
		ordered = append(ordered, plugins[next])
		for _, d := range dependents[next] {
			inDegree[d]--
		}
	}

	return ordered, nil
}

// findCycle returns one dependency cycle among the plugins not yet emitted.
func findCycle(plugins []*Plugin, index map[string]int, emitted []bool) []string {
	visited := make([]bool, len(plugins))
	onStack := make([]bool, len(plugins))
	var path []string

	var visit func(i int) []string
	visit = func(i int) []string {
		visited[i] = true
		onStack[i] = true
		path = append(path, plugins[i].Name)

		for _, dep := range plugins[i].Dependencies {
			j := index[dep]
			if emitted[j] {
				continue
			}
			if onStack[j] {
				for k, name := range path {
					if name == dep {
						return append(append([]string{}, path[k:]...), dep)
					}
				}
			}
			if !visited[j] {
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}

		onStack[i] = false
		path = path[:len(path)-1]
		return nil
	}

	for i := range plugins {
		if !emitted[i] && !visited[i] {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

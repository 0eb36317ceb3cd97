package spec

import (
	"fmt"
	"sort"
	"strings"
)

// TopoSort returns the service names in dependency order (dependencies
// before dependents) using Kahn's algorithm. Ties are broken lexically so
// the order is deterministic. Returns an error naming the services left in
// a cycle.
func TopoSort(services map[string]Descriptor) ([]string, error) {
	indegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))

	for name, d := range services {
		indegree[name] += 0
		for _, dep := range d.DependsOn {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var frontier []string
	for name, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(services))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)

		var released []string
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		frontier = append(frontier, released...)
	}

	if len(order) != len(services) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("dependency cycle involving %s", strings.Join(cyclic, ", "))
	}
	return order, nil
}

// ReverseTopoSort returns the dependency order reversed: dependents before
// dependencies. Used for shutdown.
func ReverseTopoSort(services map[string]Descriptor) ([]string, error) {
	order, err := TopoSort(services)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

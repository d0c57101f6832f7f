// Package dag implements the DAG Executor (C12): layered parallel
// execution of a Plan's tasks with inter-task data injection and
// per-model/per-key fallback (spec §4.8).
package dag

import (
	"fmt"
	"sort"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// ComputeLayers groups tasks into dependency layers via Kahn's
// in-degree algorithm: every task in a layer has all its dependencies
// satisfied by a strictly earlier layer, so tasks within a layer may run
// concurrently (spec §4.8 "Model" paragraph).
func ComputeLayers(tasks []model.PlanTask) ([][]model.PlanTask, error) {
	byID := make(map[string]model.PlanTask, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("dag: duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
		inDegree[t.ID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("dag: task %q depends on unknown task %q", t.ID, dep)
			}
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var layers [][]model.PlanTask
	remaining := len(tasks)
	for remaining > 0 {
		var ready []string
		for id, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("dag: cycle detected among remaining %d task(s)", remaining)
		}
		sort.Strings(ready)

		layer := make([]model.PlanTask, 0, len(ready))
		for _, id := range ready {
			layer = append(layer, byID[id])
			delete(inDegree, id)
		}
		layers = append(layers, layer)
		remaining -= len(ready)

		for _, id := range ready {
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
	}
	return layers, nil
}

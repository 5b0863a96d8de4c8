// Package topology layers a set of dependency-bearing tasks into parallel
// execution waves using Kahn's algorithm.
package topology

// Task is a unit of work with declared dependencies on other task ids.
type Task struct {
	ID           string
	Dependencies []string
	Payload      string
}

// Layers is the result of a successful sort: tasks grouped so that every
// dependency of a task in layer k appears in some layer strictly before k.
type Layers struct {
	Layers     [][]Task
	TotalTasks int
}

// MaxParallelism returns the size of the largest layer, 0 for an empty result.
func (l Layers) MaxParallelism() int {
	max := 0
	for _, layer := range l.Layers {
		if len(layer) > max {
			max = len(layer)
		}
	}
	return max
}

// Depth returns the number of sequential layers.
func (l Layers) Depth() int {
	return len(l.Layers)
}

// IsFullyParallel reports whether every task can run in a single wave.
func (l Layers) IsFullyParallel() bool {
	return len(l.Layers) <= 1
}

// UnknownDependencyError is returned when a task declares a dependency on an
// id that is not present in the input set.
type UnknownDependencyError struct {
	ID string
}

func (e *UnknownDependencyError) Error() string {
	return "unknown dependency: " + e.ID
}

// CircularDependencyError is returned when the dependency graph contains a
// cycle, so Kahn's algorithm cannot drain the full task set.
type CircularDependencyError struct{}

func (e *CircularDependencyError) Error() string {
	return "circular dependency detected in task set"
}

// Sort layers tasks using Kahn's algorithm. An empty input yields an empty
// Layers (not an error).
func Sort(tasks []Task) (Layers, error) {
	if len(tasks) == 0 {
		return Layers{}, nil
	}

	ids := make(map[string]struct{}, len(tasks))
	byID := make(map[string]Task, len(tasks))
	indegree := make(map[string]int, len(tasks))
	adjacency := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		ids[t.ID] = struct{}{}
		byID[t.ID] = t
		indegree[t.ID] = 0
		adjacency[t.ID] = nil
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := ids[dep]; !ok {
				return Layers{}, &UnknownDependencyError{ID: dep}
			}
			adjacency[dep] = append(adjacency[dep], t.ID)
			indegree[t.ID]++
		}
	}

	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	var layers [][]Task
	processed := 0

	for len(queue) > 0 {
		layerSize := len(queue)
		currentLayer := make([]Task, 0, layerSize)

		for i := 0; i < layerSize; i++ {
			taskID := queue[0]
			queue = queue[1:]
			currentLayer = append(currentLayer, byID[taskID])
			processed++

			for _, dependent := range adjacency[taskID] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					queue = append(queue, dependent)
				}
			}
		}

		if len(currentLayer) > 0 {
			layers = append(layers, currentLayer)
		}
	}

	if processed != len(tasks) {
		return Layers{}, &CircularDependencyError{}
	}

	return Layers{Layers: layers, TotalTasks: len(tasks)}, nil
}

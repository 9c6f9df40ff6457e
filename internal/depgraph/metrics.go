package depgraph

// Metrics summarizes graph shape for diagnostics and telemetry gauges.
type Metrics struct {
	Nodes    int `json:"nodes"`
	Edges    int `json:"edges"`
	Roots    int `json:"roots"`    // tasks nothing depends on
	Leaves   int `json:"leaves"`   // tasks with no dependencies
	MaxDepth int `json:"maxDepth"` // longest dependency chain
	Cycles   int `json:"cycles"`
}

// ComputeMetrics walks the whole graph once. Depth is reported as 0 when
// the graph is cyclic, since chain length is undefined there.
func (g *Graph) ComputeMetrics() Metrics {
	m := Metrics{}
	m.Nodes, m.Edges = g.Size()
	for id := range g.tasks {
		if len(g.dependents[id]) == 0 {
			m.Roots++
		}
		if len(g.dependencies[id]) == 0 {
			m.Leaves++
		}
	}
	m.Cycles = len(g.FindCycles())
	if m.Cycles == 0 {
		m.MaxDepth = g.maxDepth()
	}
	return m
}

func (g *Graph) maxDepth() int {
	memo := make(map[string]int, len(g.tasks))
	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		best := 0
		for _, depID := range g.dependencies[id] {
			if d := depth(depID) + 1; d > best {
				best = d
			}
		}
		memo[id] = best
		return best
	}

	best := 0
	for id := range g.tasks {
		if d := depth(id); d > best {
			best = d
		}
	}
	return best
}

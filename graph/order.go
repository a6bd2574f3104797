package graph

// ExecutionOrder returns the nodes in topological order. Kahn's queue is
// seeded with zero in-degree nodes in declaration order, so independent nodes
// keep their declared relative order.
//
// When the sort cannot place every node (a cycle, or edges that leave nodes
// permanently constrained), the nodes are returned in declaration order and
// sorted is false. Edges naming unknown nodes are ignored.
func (d *Definition) ExecutionOrder() (nodes []Node, sorted bool) {
	order, _ := d.kahn()
	if len(order) != len(d.Nodes) {
		return append([]Node(nil), d.Nodes...), false
	}

	out := make([]Node, 0, len(order))
	for _, idx := range order {
		out = append(out, d.Nodes[idx])
	}
	return out, true
}

// kahn returns node indices in topological order and the residual in-degree
// of every node id after the sort.
func (d *Definition) kahn() (order []int, remaining map[string]int) {
	index := make(map[string]int, len(d.Nodes))
	inDegree := make(map[string]int, len(d.Nodes))
	for i, node := range d.Nodes {
		if _, dup := index[node.ID]; dup {
			// Duplicate ids cannot be ordered by id; force the fallback.
			return nil, inDegree
		}
		index[node.ID] = i
		inDegree[node.ID] = 0
	}

	successors := make(map[string][]string)
	for _, edge := range d.Edges {
		_, srcOK := index[edge.Source]
		_, dstOK := index[edge.Target]
		if !srcOK || !dstOK {
			continue
		}
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	queue := make([]string, 0, len(d.Nodes))
	for _, node := range d.Nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	order = make([]int, 0, len(d.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, index[current])
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	return order, inDegree
}

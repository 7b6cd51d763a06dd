// Package scheduler turns node graphs and clip timelines into a linear
// sequence of playback runs and drives the playback engine through them.
package scheduler

import "fmt"

// Node is one recording placed on the node editor canvas.
type Node struct {
	ID            string  `json:"id"`
	RecordingName string  `json:"recordingName"`
	Speed         float64 `json:"speed"`
	DelayAfter    float64 `json:"delayAfter"`
	X             float64 `json:"x"`
}

// Edge makes To play after From.
type Edge struct {
	From string `json:"fromNode"`
	To   string `json:"toNode"`
}

// Graph is the node editor payload.
type Graph struct {
	Nodes       []Node `json:"nodes"`
	Connections []Edge `json:"connections"`
}

// Validate rejects nodes without IDs and duplicate IDs.
func (g Graph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d has no id", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id '%s'", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// Order returns every node exactly once. Nodes without predecessors are
// visited breadth-first, and a node is queued only after all of its
// predecessors were emitted. When every node has a predecessor the walk
// starts from the leftmost one. Nodes the walk never reaches follow in
// input order. Edges naming unknown nodes are ignored.
func Order(nodes []Node, edges []Edge) []Node {
	if len(nodes) == 0 {
		return nil
	}

	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, ok := byID[n.ID]; !ok {
			byID[n.ID] = n
		}
	}
	incoming := make(map[string][]string, len(nodes))
	outgoing := make(map[string][]string, len(nodes))
	for _, e := range edges {
		_, fromOK := byID[e.From]
		_, toOK := byID[e.To]
		if !fromOK || !toOK {
			continue
		}
		incoming[e.To] = append(incoming[e.To], e.From)
		outgoing[e.From] = append(outgoing[e.From], e.To)
	}

	var queue []string
	for _, n := range nodes {
		if len(incoming[n.ID]) == 0 {
			queue = append(queue, n.ID)
		}
	}
	if len(queue) == 0 {
		leftmost := nodes[0]
		for _, n := range nodes[1:] {
			if n.X < leftmost.X {
				leftmost = n
			}
		}
		queue = append(queue, leftmost.ID)
	}

	visited := make(map[string]bool, len(nodes))
	order := make([]Node, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, byID[id])

		for _, next := range outgoing[id] {
			if visited[next] {
				continue
			}
			ready := true
			for _, pred := range incoming[next] {
				if !visited[pred] {
					ready = false
					break
				}
			}
			if ready {
				queue = append(queue, next)
			}
		}
	}

	for _, n := range nodes {
		if !visited[n.ID] {
			visited[n.ID] = true
			order = append(order, n)
		}
	}
	return order
}

package planner

import (
	"container/heap"
	"math"
)

// edge is one adjacency-list entry (state_planner.py's `(to_state, cost,
// task)` tuples in `self.graph`).
type edge struct {
	To   string
	Cost int
	Task string
}

func buildGraph(sm *StateMap) map[string][]edge {
	graph := make(map[string][]edge, len(sm.States))
	for name := range sm.States {
		graph[name] = nil
	}
	for _, t := range sm.Transitions {
		if _, ok := graph[t.From]; !ok {
			continue
		}
		if _, ok := graph[t.To]; !ok {
			continue
		}
		graph[t.From] = append(graph[t.From], edge{To: t.To, Cost: t.Cost, Task: t.TransitionTask})
	}
	return graph
}

func buildReverseGraph(graph map[string][]edge) map[string]map[string]struct{} {
	reverse := make(map[string]map[string]struct{}, len(graph))
	for name := range graph {
		reverse[name] = make(map[string]struct{})
	}
	for from, edges := range graph {
		for _, e := range edges {
			reverse[e.To][from] = struct{}{}
		}
	}
	return reverse
}

// bfsDistances computes every state's unweighted hop distance to target via
// a breadth-first search of the reverse graph (state_planner.py's
// _calculate_distances_to_target).
func bfsDistances(reverseGraph map[string]map[string]struct{}, states map[string]StateDef, target string) map[string]int {
	distances := make(map[string]int, len(states))
	if _, ok := states[target]; !ok {
		return distances
	}
	for name := range states {
		distances[name] = math.MaxInt32
	}
	distances[target] = 0

	queue := []string{target}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for pred := range reverseGraph[cur] {
			if distances[pred] == math.MaxInt32 {
				distances[pred] = distances[cur] + 1
				queue = append(queue, pred)
			}
		}
	}
	return distances
}

// pathItem is one entry of the Dijkstra priority queue (state_planner.py's
// `(cost, current_node, path_tasks)` heap tuples).
type pathItem struct {
	cost  int
	node  string
	tasks []string
}

type pathHeap []pathItem

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x any)         { *h = append(*h, x.(pathItem)) }
func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// findPath runs Dijkstra over graph from start to end, returning the
// sequence of transition_task names along the lowest-cost path
// (state_planner.py's find_path).
func findPath(graph map[string][]edge, start, end string) ([]string, bool) {
	if _, ok := graph[start]; !ok {
		return nil, false
	}
	if _, ok := graph[end]; !ok {
		return nil, false
	}

	minCosts := make(map[string]int, len(graph))
	for name := range graph {
		minCosts[name] = math.MaxInt32
	}
	minCosts[start] = 0

	pq := &pathHeap{{cost: 0, node: start, tasks: nil}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pathItem)
		if item.cost > minCosts[item.node] {
			continue
		}
		if item.node == end {
			return item.tasks, true
		}
		for _, e := range graph[item.node] {
			newCost := item.cost + e.Cost
			if newCost < minCosts[e.To] {
				minCosts[e.To] = newCost
				newTasks := make([]string, len(item.tasks), len(item.tasks)+1)
				copy(newTasks, item.tasks)
				newTasks = append(newTasks, e.Task)
				heap.Push(pq, pathItem{cost: newCost, node: e.To, tasks: newTasks})
			}
		}
	}
	return nil, false
}

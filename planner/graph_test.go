package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testStateMap() *StateMap {
	return &StateMap{
		States: map[string]StateDef{
			"closed": {CheckTask: "check_closed"},
			"open":   {CheckTask: "check_open"},
			"armed":  {CheckTask: "check_armed"},
		},
		Transitions: []TransitionDef{
			{From: "closed", To: "open", Cost: 5, TransitionTask: "open_direct"},
			{From: "closed", To: "armed", Cost: 1, TransitionTask: "arm"},
			{From: "armed", To: "open", Cost: 1, TransitionTask: "disarm_and_open"},
		},
	}
}

func TestFindPath_PrefersLowerCostRouteOverDirectEdge(t *testing.T) {
	sm := testStateMap()
	graph := buildGraph(sm)

	path, ok := findPath(graph, "closed", "open")
	assert.True(t, ok)
	assert.Equal(t, []string{"arm", "disarm_and_open"}, path)
}

func TestFindPath_UnreachableTargetReturnsFalse(t *testing.T) {
	sm := testStateMap()
	sm.States["isolated"] = StateDef{CheckTask: "check_isolated"}
	graph := buildGraph(sm)

	_, ok := findPath(graph, "closed", "isolated")
	assert.False(t, ok)
}

func TestFindPath_UnknownNodeReturnsFalse(t *testing.T) {
	sm := testStateMap()
	graph := buildGraph(sm)

	_, ok := findPath(graph, "closed", "nonexistent")
	assert.False(t, ok)
}

func TestBFSDistances_MatchesHopCountToTarget(t *testing.T) {
	sm := testStateMap()
	graph := buildGraph(sm)
	reverse := buildReverseGraph(graph)

	distances := bfsDistances(reverse, sm.States, "open")
	assert.Equal(t, 0, distances["open"])
	assert.Equal(t, 1, distances["closed"]) // via open_direct, one hop
	assert.Equal(t, 1, distances["armed"])  // via disarm_and_open, one hop
}

// Package router computes shortest paths over the track graph with the
// kering constraint: a direction reversal at a switch is only taken when
// reversals are globally allowed or the specific transition was permitted
// at build time.
package router

import (
	"fmt"

	"spoorzoeker/pkg/datastructure"
	"spoorzoeker/pkg/snap"

	"github.com/paulmach/orb"
)

// PathNotFoundError marks endpoints with no connecting path in the
// (possibly reversal-constrained) graph. Fatal to the request, not to
// the graph.
type PathNotFoundError struct {
	From int32
	To   int32
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("no path between node %d and node %d", e.From, e.To)
}

// searchState augments the Dijkstra state with the edge used to arrive,
// because transition legality at a switch depends on the (inbound,
// outbound) pair, not the node alone.
type searchState struct {
	node   int32
	inEdge int32 // -1 for the start state
}

type PathFinder struct {
	graph   *datastructure.Graph
	snapper *snap.Snapper
}

func NewPathFinder(graph *datastructure.Graph, snapper *snap.Snapper) *PathFinder {
	return &PathFinder{graph: graph, snapper: snapper}
}

// FindEdgePath snaps both coordinates and returns the traversed edges of
// the shortest legal path, which is empty when both snap to the same
// node.
func (pf *PathFinder) FindEdgePath(start, end orb.Point, reversalsAllowed bool) ([]datastructure.Edge, error) {
	startSnap, err := pf.snapper.Snap(start)
	if err != nil {
		return nil, err
	}
	endSnap, err := pf.snapper.Snap(end)
	if err != nil {
		return nil, err
	}
	return pf.ShortestPath(startSnap.NodeID, endSnap.NodeID, reversalsAllowed)
}

// ShortestPath runs the constrained Dijkstra between two graph nodes.
// Ties in cumulative distance break on the lower node id so results are
// reproducible.
func (pf *PathFinder) ShortestPath(fromNode, toNode int32, reversalsAllowed bool) ([]datastructure.Edge, error) {
	if fromNode == toNode {
		return []datastructure.Edge{}, nil
	}

	pq := datastructure.NewMinHeap[searchState]()
	start := searchState{node: fromNode, inEdge: -1}
	pq.Insert(datastructure.PriorityQueueNode[searchState]{Rank: 0, Tie: fromNode, Item: start})

	dist := map[searchState]float64{start: 0}
	visited := map[searchState]struct{}{}
	cameFrom := map[searchState]searchState{}

	for pq.Size() > 0 {
		item, _ := pq.ExtractMin()
		state := item.Item
		if _, ok := visited[state]; ok {
			continue
		}
		visited[state] = struct{}{}

		if state.node == toNode {
			return pf.reconstruct(state, cameFrom), nil
		}

		for _, outID := range pf.graph.GetNodeOutEdges(state.node) {
			if !pf.transitionAllowed(state, outID, reversalsAllowed) {
				continue
			}
			out := pf.graph.GetEdge(outID)
			next := searchState{node: out.To, inEdge: outID}
			if _, ok := visited[next]; ok {
				continue
			}
			newDist := item.Rank + out.Dist
			if old, ok := dist[next]; ok && old <= newDist {
				continue
			}
			dist[next] = newDist
			cameFrom[next] = state
			pq.Insert(datastructure.PriorityQueueNode[searchState]{Rank: newDist, Tie: next.node, Item: next})
		}
	}

	return nil, &PathNotFoundError{From: fromNode, To: toNode}
}

// transitionAllowed is a table lookup; the reversal classification was
// done once at build time. The start state has no inbound edge, so every
// departure from the start node is legal.
func (pf *PathFinder) transitionAllowed(state searchState, outEdge int32, reversalsAllowed bool) bool {
	if state.inEdge < 0 {
		return true
	}
	switch pf.graph.Transition(state.inEdge, outEdge) {
	case datastructure.TransitionReversalRestricted:
		return reversalsAllowed
	default:
		return true
	}
}

func (pf *PathFinder) reconstruct(final searchState, cameFrom map[searchState]searchState) []datastructure.Edge {
	edges := make([]datastructure.Edge, 0)
	state := final
	for state.inEdge >= 0 {
		edges = append(edges, pf.graph.GetEdge(state.inEdge))
		state = cameFrom[state]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return edges
}

// PathDistance sums edge weights; exposed for the monotonicity property
// that allowing reversals never lengthens the optimum.
func PathDistance(edges []datastructure.Edge) float64 {
	var total float64
	for _, e := range edges {
		total += e.Dist
	}
	return total
}

package datastructure

import (
	"sort"

	"github.com/paulmach/orb"
)

// SegmentSnapshot is a TrackSegment flattened for binary serialization.
// Geometry is split into parallel X/Y slices so the codec only ever sees
// primitive slices.
type SegmentSnapshot struct {
	ID          string
	Geocode     string
	Length      float64
	MaxSpeedKmh float64
	X           []float64
	Y           []float64
}

// NodeSnapshot flattens a Node's coordinate for the same reason.
type NodeSnapshot struct {
	ID                 int32
	X                  float64
	Y                  float64
	IsSwitch           bool
	ReversalRestricted bool
}

type TransitionRecord struct {
	In   int32
	Out  int32
	Kind uint8
}

// GraphSnapshot is the serializable representation of a Graph used by the
// cache persistence contract.
type GraphSnapshot struct {
	SourceID    string
	Nodes       []NodeSnapshot
	Edges       []Edge
	Segments    []SegmentSnapshot
	Transitions []TransitionRecord
}

// Snapshot flattens the graph into a deterministic serializable form.
// Transitions are sorted so identical graphs produce identical blobs.
func (g *Graph) Snapshot() GraphSnapshot {
	segments := make([]SegmentSnapshot, len(g.segments))
	for i, seg := range g.segments {
		xs := make([]float64, len(seg.Geometry))
		ys := make([]float64, len(seg.Geometry))
		for j, p := range seg.Geometry {
			xs[j] = p.X()
			ys[j] = p.Y()
		}
		segments[i] = SegmentSnapshot{
			ID:          seg.ID,
			Geocode:     seg.Geocode,
			Length:      seg.Length,
			MaxSpeedKmh: seg.MaxSpeedKmh,
			X:           xs,
			Y:           ys,
		}
	}

	transitions := make([]TransitionRecord, 0, len(g.transitions))
	for key, kind := range g.transitions {
		transitions = append(transitions, TransitionRecord{In: key.In, Out: key.Out, Kind: uint8(kind)})
	}
	sort.Slice(transitions, func(i, j int) bool {
		if transitions[i].In != transitions[j].In {
			return transitions[i].In < transitions[j].In
		}
		return transitions[i].Out < transitions[j].Out
	})

	nodes := make([]NodeSnapshot, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = NodeSnapshot{
			ID:                 n.ID,
			X:                  n.Point.X(),
			Y:                  n.Point.Y(),
			IsSwitch:           n.IsSwitch,
			ReversalRestricted: n.ReversalRestricted,
		}
	}

	return GraphSnapshot{
		SourceID:    g.sourceID,
		Nodes:       nodes,
		Edges:       append([]Edge(nil), g.edges...),
		Segments:    segments,
		Transitions: transitions,
	}
}

// NewGraphFromSnapshot rebuilds a Graph, including the node adjacency
// index, from its serialized form.
func NewGraphFromSnapshot(s GraphSnapshot) *Graph {
	segments := make([]TrackSegment, len(s.Segments))
	for i, seg := range s.Segments {
		geom := make(orb.LineString, len(seg.X))
		for j := range seg.X {
			geom[j] = orb.Point{seg.X[j], seg.Y[j]}
		}
		segments[i] = TrackSegment{
			ID:          seg.ID,
			Geocode:     seg.Geocode,
			Length:      seg.Length,
			MaxSpeedKmh: seg.MaxSpeedKmh,
			Geometry:    geom,
		}
	}

	nodes := make([]Node, len(s.Nodes))
	for i, n := range s.Nodes {
		nodes[i] = Node{
			ID:                 n.ID,
			Point:              orb.Point{n.X, n.Y},
			IsSwitch:           n.IsSwitch,
			ReversalRestricted: n.ReversalRestricted,
		}
	}

	firstOut := make([][]int32, len(s.Nodes))
	for _, edge := range s.Edges {
		firstOut[edge.From] = append(firstOut[edge.From], edge.ID)
	}

	transitions := make(map[TransitionKey]TransitionKind, len(s.Transitions))
	for _, rec := range s.Transitions {
		transitions[TransitionKey{In: rec.In, Out: rec.Out}] = TransitionKind(rec.Kind)
	}

	return NewGraph(nodes, append([]Edge(nil), s.Edges...),
		segments, firstOut, transitions, s.SourceID)
}

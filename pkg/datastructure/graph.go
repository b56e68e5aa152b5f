package datastructure

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// TransitionKind classifies one (inbound edge, outbound edge) transition at
// a node. Everything that is not a kering is a plain run-through.
type TransitionKind uint8

const (
	TransitionRun TransitionKind = iota
	TransitionReversalPermitted
	TransitionReversalRestricted
)

// TrackSegment is one functionele spoortak: an unsplit track element with
// its full geometry. Coordinates are projected metres (EPSG:28992) unless
// the feed delivers WGS84. Immutable once ingested.
type TrackSegment struct {
	ID          string // PUIC
	Geocode     string
	Geometry    orb.LineString
	Length      float64
	MaxSpeedKmh float64
}

type Node struct {
	ID                 int32
	Point              orb.Point
	IsSwitch           bool
	ReversalRestricted bool
}

// Edge is one directed traversal of a TrackSegment. Every physical segment
// yields two edges; Twin is the opposite-direction edge id.
type Edge struct {
	ID         int32
	From       int32
	To         int32
	Twin       int32
	SegmentIdx int32
	Dist       float64
	Reversed   bool
}

type TransitionKey struct {
	In  int32
	Out int32
}

// Graph is the full routable network. Built once per source-data version,
// immutable afterwards, safe for concurrent readers.
type Graph struct {
	nodes       []Node
	edges       []Edge
	segments    []TrackSegment
	firstOut    [][]int32
	transitions map[TransitionKey]TransitionKind
	sourceID    string
}

func NewGraph(nodes []Node, edges []Edge, segments []TrackSegment,
	firstOut [][]int32, transitions map[TransitionKey]TransitionKind, sourceID string) *Graph {
	return &Graph{
		nodes:       nodes,
		edges:       edges,
		segments:    segments,
		firstOut:    firstOut,
		transitions: transitions,
		sourceID:    sourceID,
	}
}

func (g *Graph) GetNode(id int32) Node { return g.nodes[id] }

func (g *Graph) GetEdge(id int32) Edge { return g.edges[id] }

func (g *Graph) GetSegment(idx int32) TrackSegment { return g.segments[idx] }

// GetNodeOutEdges returns the ids of all edges departing from nodeID.
func (g *Graph) GetNodeOutEdges(nodeID int32) []int32 { return g.firstOut[nodeID] }

func (g *Graph) NumNodes() int { return len(g.nodes) }

func (g *Graph) NumEdges() int { return len(g.edges) }

func (g *Graph) NumSegments() int { return len(g.segments) }

func (g *Graph) SourceID() string { return g.sourceID }

// Transition looks up the build-time classification of taking outEdge after
// arriving via inEdge. Pairs without an entry are plain run-throughs; only
// switch nodes get reversal entries at build time.
func (g *Graph) Transition(inEdge, outEdge int32) TransitionKind {
	kind, ok := g.transitions[TransitionKey{In: inEdge, Out: outEdge}]
	if !ok {
		return TransitionRun
	}
	return kind
}

func (g *Graph) NumTransitions() int { return len(g.transitions) }

// EdgeGeometry returns the segment geometry oriented in the edge's travel
// direction. The returned slice is a copy.
func (g *Graph) EdgeGeometry(edgeID int32) orb.LineString {
	edge := g.edges[edgeID]
	src := g.segments[edge.SegmentIdx].Geometry
	out := make(orb.LineString, len(src))
	if !edge.Reversed {
		copy(out, src)
		return out
	}
	for i := range src {
		out[i] = src[len(src)-1-i]
	}
	return out
}

// RenderPath encodes a coordinate path as a polyline string.
func RenderPath(path orb.LineString) string {
	coords := make([][]float64, 0, len(path))
	for _, p := range path {
		coords = append(coords, []float64{p.Y(), p.X()})
	}
	return string(polyline.EncodeCoords(coords))
}

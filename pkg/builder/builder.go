package builder

import (
	"fmt"
	"log/slog"
	"math"

	"spoorzoeker/pkg/datastructure"
	"spoorzoeker/pkg/geo"

	"github.com/paulmach/orb"
)

// PermittedPair names two segments between which a kering is operationally
// allowed at their shared switch, overriding the default restriction.
// Order-insensitive.
type PermittedPair struct {
	SegmentA string
	SegmentB string
}

// GeometryError records one malformed input segment. Never fatal to the
// build; the segment is dropped and the warning kept.
type GeometryError struct {
	SegmentID string
	Reason    string
}

func (e GeometryError) Error() string {
	return fmt.Sprintf("segment %s dropped: %s", e.SegmentID, e.Reason)
}

type Options struct {
	// SnapToleranceM merges segment endpoints that fall within this many
	// metres of each other into one node.
	SnapToleranceM float64
	// ReversalAngleDeg is the minimum turn angle between approach and
	// departure bearing for a transition to count as a kering.
	ReversalAngleDeg float64
	WeightMode       geo.WeightMode
}

func DefaultOptions() Options {
	return Options{
		SnapToleranceM:   0.01,
		ReversalAngleDeg: 100.0,
		WeightMode:       geo.WeightPlanar,
	}
}

// Builder converts track-segment features into a routable Graph.
type Builder struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Builder {
	if opts.SnapToleranceM <= 0 {
		opts.SnapToleranceM = DefaultOptions().SnapToleranceM
	}
	if opts.ReversalAngleDeg <= 0 {
		opts.ReversalAngleDeg = DefaultOptions().ReversalAngleDeg
	}
	if opts.WeightMode == "" {
		opts.WeightMode = geo.WeightPlanar
	}
	return &Builder{opts: opts, logger: logger}
}

type gridKey struct {
	x int64
	y int64
}

func (b *Builder) gridKeyOf(p orb.Point) gridKey {
	return gridKey{
		x: int64(math.Round(p.X() / b.opts.SnapToleranceM)),
		y: int64(math.Round(p.Y() / b.opts.SnapToleranceM)),
	}
}

// Build produces an immutable Graph from the materialized feature set.
// Malformed segments are dropped with a recorded warning. Building twice
// from identical input yields identical node and edge counts.
func (b *Builder) Build(segments []datastructure.TrackSegment, permitted []PermittedPair,
	sourceID string) (*datastructure.Graph, []GeometryError, error) {

	warnings := make([]GeometryError, 0)
	valid := make([]datastructure.TrackSegment, 0, len(segments))
	for _, seg := range segments {
		if reason := b.validateSegment(seg); reason != "" {
			warn := GeometryError{SegmentID: seg.ID, Reason: reason}
			warnings = append(warnings, warn)
			b.logger.Warn("dropping malformed segment", "segment", seg.ID, "reason", reason)
			continue
		}
		if seg.Length <= 0 {
			seg.Length = geo.LineLength(seg.Geometry, b.opts.WeightMode)
		}
		valid = append(valid, seg)
	}

	nodes := make([]datastructure.Node, 0)
	nodeIndex := make(map[gridKey]int32)
	nodeOf := func(p orb.Point) int32 {
		key := b.gridKeyOf(p)
		if id, ok := nodeIndex[key]; ok {
			return id
		}
		id := int32(len(nodes))
		nodes = append(nodes, datastructure.Node{ID: id, Point: p})
		nodeIndex[key] = id
		return id
	}

	edges := make([]datastructure.Edge, 0, 2*len(valid))
	segmentsAtNode := make(map[int32]map[string]struct{})
	for i := range valid {
		seg := valid[i]
		fromNode := nodeOf(seg.Geometry[0])
		toNode := nodeOf(seg.Geometry[len(seg.Geometry)-1])

		forwardID := int32(len(edges))
		reverseID := forwardID + 1
		edges = append(edges, datastructure.Edge{
			ID: forwardID, From: fromNode, To: toNode, Twin: reverseID,
			SegmentIdx: int32(i), Dist: seg.Length,
		})
		edges = append(edges, datastructure.Edge{
			ID: reverseID, From: toNode, To: fromNode, Twin: forwardID,
			SegmentIdx: int32(i), Dist: seg.Length, Reversed: true,
		})

		for _, n := range []int32{fromNode, toNode} {
			if segmentsAtNode[n] == nil {
				segmentsAtNode[n] = make(map[string]struct{})
			}
			segmentsAtNode[n][seg.ID] = struct{}{}
		}
	}

	for nodeID, segs := range segmentsAtNode {
		if len(segs) >= 3 {
			nodes[nodeID].IsSwitch = true
			nodes[nodeID].ReversalRestricted = true
		}
	}

	firstOut := make([][]int32, len(nodes))
	inEdges := make([][]int32, len(nodes))
	for _, edge := range edges {
		firstOut[edge.From] = append(firstOut[edge.From], edge.ID)
		inEdges[edge.To] = append(inEdges[edge.To], edge.ID)
	}

	transitions := b.classifyTransitions(nodes, edges, valid, firstOut, inEdges, permitted)

	b.logger.Info("track graph built",
		"segments", len(valid), "dropped", len(warnings),
		"nodes", len(nodes), "edges", len(edges), "reversal_entries", len(transitions))

	graph := datastructure.NewGraph(nodes, edges, valid, firstOut, transitions, sourceID)
	return graph, warnings, nil
}

func (b *Builder) validateSegment(seg datastructure.TrackSegment) string {
	if len(seg.Geometry) < 2 {
		return "fewer than two coordinates"
	}
	for _, p := range seg.Geometry {
		if math.IsNaN(p.X()) || math.IsNaN(p.Y()) || math.IsInf(p.X(), 0) || math.IsInf(p.Y(), 0) {
			return "non-finite coordinate"
		}
	}
	if geo.LineLength(seg.Geometry, b.opts.WeightMode) <= b.opts.SnapToleranceM {
		return "zero length"
	}
	if selfIntersects(seg.Geometry) {
		return "self-intersecting geometry"
	}
	return ""
}

// classifyTransitions evaluates every (inbound, outbound) edge pair at each
// switch node once, so the path finder only does table lookups. Non-switch
// nodes never restrict passage and get no entries.
func (b *Builder) classifyTransitions(nodes []datastructure.Node, edges []datastructure.Edge,
	segments []datastructure.TrackSegment, firstOut, inEdges [][]int32,
	permitted []PermittedPair) map[datastructure.TransitionKey]datastructure.TransitionKind {

	permittedSet := make(map[PermittedPair]struct{}, len(permitted))
	for _, pair := range permitted {
		permittedSet[pair] = struct{}{}
		permittedSet[PermittedPair{SegmentA: pair.SegmentB, SegmentB: pair.SegmentA}] = struct{}{}
	}

	approachBearing := func(e datastructure.Edge) float64 {
		g := edgeGeometry(segments[e.SegmentIdx], e.Reversed)
		return geo.Bearing(g[len(g)-2], g[len(g)-1])
	}
	departBearing := func(e datastructure.Edge) float64 {
		g := edgeGeometry(segments[e.SegmentIdx], e.Reversed)
		return geo.Bearing(g[0], g[1])
	}

	transitions := make(map[datastructure.TransitionKey]datastructure.TransitionKind)
	for _, node := range nodes {
		if !node.IsSwitch {
			continue
		}
		for _, inID := range inEdges[node.ID] {
			in := edges[inID]
			arrival := approachBearing(in)
			for _, outID := range firstOut[node.ID] {
				if outID == inID {
					continue
				}
				out := edges[outID]
				isReversal := outID == in.Twin ||
					geo.TurnAngle(arrival, departBearing(out)) > b.opts.ReversalAngleDeg
				if !isReversal {
					continue
				}
				key := datastructure.TransitionKey{In: inID, Out: outID}
				pair := PermittedPair{
					SegmentA: segments[in.SegmentIdx].ID,
					SegmentB: segments[out.SegmentIdx].ID,
				}
				if _, ok := permittedSet[pair]; ok {
					transitions[key] = datastructure.TransitionReversalPermitted
				} else {
					transitions[key] = datastructure.TransitionReversalRestricted
				}
			}
		}
	}
	return transitions
}

func edgeGeometry(seg datastructure.TrackSegment, reversed bool) orb.LineString {
	if !reversed {
		return seg.Geometry
	}
	out := make(orb.LineString, len(seg.Geometry))
	for i := range seg.Geometry {
		out[i] = seg.Geometry[len(seg.Geometry)-1-i]
	}
	return out
}

// selfIntersects does a pairwise check of non-adjacent subsegments.
// Spoortak geometries are short, so quadratic is fine here.
func selfIntersects(ls orb.LineString) bool {
	for i := 0; i < len(ls)-1; i++ {
		for j := i + 2; j < len(ls)-1; j++ {
			if i == 0 && j == len(ls)-2 && ls[0] == ls[len(ls)-1] {
				// closed ring: first and last subsegment share an endpoint
				continue
			}
			if segmentsCross(ls[i], ls[i+1], ls[j], ls[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(a, b, c orb.Point) float64 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}

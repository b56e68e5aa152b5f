// Package snap projects arbitrary query coordinates onto the nearest
// track edge within a buffer tolerance.
package snap

import (
	"fmt"
	"math"

	"spoorzoeker/pkg/datastructure"
	"spoorzoeker/pkg/geo"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// SnapError names a query coordinate with no track within tolerance.
// Fatal to the single request only.
type SnapError struct {
	Point orb.Point
	Dist  float64
}

func (e *SnapError) Error() string {
	return fmt.Sprintf("no track within tolerance of (%f, %f), nearest is %.1fm away", e.Point.X(), e.Point.Y(), e.Dist)
}

// SnappedPoint is a query coordinate projected onto the network.
// NodeID is the snapped edge's nearer endpoint, where path searches
// start and terminate.
type SnappedPoint struct {
	EdgeID   int32
	NodeID   int32
	Point    orb.Point
	Residual float64
}

type segmentLeaf struct {
	rect          rtreego.Rect
	forwardEdgeID int32
}

func (l *segmentLeaf) Bounds() rtreego.Rect {
	return l.rect
}

// Snapper indexes every physical segment once (via its forward edge) in
// an r-tree and refines candidates with exact point-to-polyline
// projection.
type Snapper struct {
	tree    *rtreego.Rtree
	graph   *datastructure.Graph
	bufferM float64
	mode    geo.WeightMode
}

func NewSnapper(graph *datastructure.Graph, bufferM float64, mode geo.WeightMode) *Snapper {
	s := &Snapper{
		tree:    rtreego.NewTree(2, 25, 50),
		graph:   graph,
		bufferM: bufferM,
		mode:    mode,
	}
	for edgeID := int32(0); edgeID < int32(graph.NumEdges()); edgeID++ {
		if graph.GetEdge(edgeID).Reversed {
			continue
		}
		s.insertEdge(edgeID)
	}
	return s
}

func (s *Snapper) insertEdge(edgeID int32) {
	geom := s.graph.EdgeGeometry(edgeID)
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range geom {
		minX = math.Min(minX, p.X())
		minY = math.Min(minY, p.Y())
		maxX = math.Max(maxX, p.X())
		maxY = math.Max(maxY, p.Y())
	}
	rect, err := rtreego.NewRect(
		rtreego.Point{minX - s.bufferM, minY - s.bufferM},
		[]float64{maxX - minX + 2*s.bufferM, maxY - minY + 2*s.bufferM},
	)
	if err != nil {
		return
	}
	s.tree.Insert(&segmentLeaf{rect: rect, forwardEdgeID: edgeID})
}

// Snap projects p onto the nearest edge geometry. A point on an edge
// snaps with zero residual; a point farther than the buffer tolerance
// from any edge yields a SnapError.
func (s *Snapper) Snap(p orb.Point) (SnappedPoint, error) {
	query := rtreego.Point{p.X(), p.Y()}
	candidates := s.tree.SearchIntersect(query.ToRect(s.bufferM))
	if len(candidates) == 0 {
		if nearest := s.tree.NearestNeighbor(query); nearest != nil {
			candidates = []rtreego.Spatial{nearest}
		}
	}

	best := SnappedPoint{EdgeID: -1, Residual: math.MaxFloat64}
	for _, candidate := range candidates {
		leaf := candidate.(*segmentLeaf)
		proj, dist := geo.ClosestPointOnLine(s.graph.EdgeGeometry(leaf.forwardEdgeID), p, s.mode)
		if dist < best.Residual ||
			(dist == best.Residual && leaf.forwardEdgeID < best.EdgeID) {
			best = SnappedPoint{EdgeID: leaf.forwardEdgeID, Point: proj, Residual: dist}
		}
	}

	if best.EdgeID < 0 || best.Residual > s.bufferM {
		return SnappedPoint{}, &SnapError{Point: p, Dist: best.Residual}
	}

	best.NodeID = s.nearerEndpoint(best.EdgeID, best.Point)
	return best, nil
}

func (s *Snapper) nearerEndpoint(edgeID int32, p orb.Point) int32 {
	edge := s.graph.GetEdge(edgeID)
	fromDist := geo.Distance(s.graph.GetNode(edge.From).Point, p, s.mode)
	toDist := geo.Distance(s.graph.GetNode(edge.To).Point, p, s.mode)
	if toDist < fromDist {
		return edge.To
	}
	return edge.From
}

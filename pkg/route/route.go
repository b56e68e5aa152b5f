// Package route turns an edge path into a presentable route: ordered
// segments, cumulative distance, travel-time estimate and a joined
// geometry.
package route

import (
	"spoorzoeker/pkg/datastructure"

	"github.com/paulmach/orb"
)

// DefaultSpeedKmh applies to segments without a speed attribute.
const DefaultSpeedKmh = 80.0

// RouteSegment is one traversed spoortak in travel order.
type RouteSegment struct {
	SegmentID string  `json:"segment_id"`
	Geocode   string  `json:"geocode"`
	Dist      float64 `json:"dist"`
	ETA       float64 `json:"eta"`
}

// Route is an assembled path result. Immutable; all accessors return
// copies, so a Route can be shared between requests.
type Route struct {
	segments []RouteSegment
	geometry orb.LineString
	distance float64
	eta      float64
}

// Assemble walks the edge path in order and accumulates per-segment
// distance and ETA. Segments without a positive speed fall back to
// defaultSpeedKmh.
func Assemble(graph *datastructure.Graph, edges []datastructure.Edge, defaultSpeedKmh float64) *Route {
	if defaultSpeedKmh <= 0 {
		defaultSpeedKmh = DefaultSpeedKmh
	}

	r := &Route{
		segments: make([]RouteSegment, 0, len(edges)),
		geometry: make(orb.LineString, 0),
	}
	for _, edge := range edges {
		seg := graph.GetSegment(edge.SegmentIdx)
		speed := seg.MaxSpeedKmh
		if speed <= 0 {
			speed = defaultSpeedKmh
		}
		eta := edge.Dist * 3.6 / speed

		r.segments = append(r.segments, RouteSegment{
			SegmentID: seg.ID,
			Geocode:   seg.Geocode,
			Dist:      edge.Dist,
			ETA:       eta,
		})
		r.distance += edge.Dist
		r.eta += eta

		geom := graph.EdgeGeometry(edge.ID)
		if len(r.geometry) > 0 && r.geometry[len(r.geometry)-1] == geom[0] {
			geom = geom[1:]
		}
		r.geometry = append(r.geometry, geom...)
	}
	return r
}

// Distance is the total route length in metres.
func (r *Route) Distance() float64 { return r.distance }

// ETASeconds is the summed per-segment travel time.
func (r *Route) ETASeconds() float64 { return r.eta }

func (r *Route) Segments() []RouteSegment {
	out := make([]RouteSegment, len(r.segments))
	copy(out, r.segments)
	return out
}

// Geometry returns the joined path geometry with duplicate joint
// coordinates removed.
func (r *Route) Geometry() orb.LineString {
	out := make(orb.LineString, len(r.geometry))
	copy(out, r.geometry)
	return out
}

// Polyline encodes the route geometry for map rendering.
func (r *Route) Polyline() string {
	return datastructure.RenderPath(r.geometry)
}

// DisplayRoute pairs an immutable Route with mutable presentation
// state.
type DisplayRoute struct {
	*Route
	Color string
}

func NewDisplayRoute(r *Route) *DisplayRoute {
	return &DisplayRoute{Route: r, Color: "#1f77b4"}
}

func (d *DisplayRoute) SetColor(color string) *DisplayRoute {
	d.Color = color
	return d
}

package geo

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// WeightMode selects how edge weights and snap residuals are measured.
// ProRail geometry is EPSG:28992 (projected metres), so planar is the
// default; haversine covers feeds that deliver WGS84 lon/lat.
type WeightMode string

const (
	WeightPlanar    WeightMode = "planar"
	WeightHaversine WeightMode = "haversine"
)

// Distance between two points in metres, per the configured weight mode.
func Distance(a, b orb.Point, mode WeightMode) float64 {
	if mode == WeightHaversine {
		return orbgeo.DistanceHaversine(a, b)
	}
	return planar.Distance(a, b)
}

// LineLength is the length of a polyline in metres.
func LineLength(ls orb.LineString, mode WeightMode) float64 {
	var total float64
	for i := 0; i < len(ls)-1; i++ {
		total += Distance(ls[i], ls[i+1], mode)
	}
	return total
}

// Bearing of travel from one point to the next, degrees in [0, 360).
// Measured in the projected plane; track segments are short enough that
// this also serves WGS84 input for reversal classification.
func Bearing(from, to orb.Point) float64 {
	deg := math.Atan2(to.Y()-from.Y(), to.X()-from.X()) * 180.0 / math.Pi
	if deg < 0 {
		deg += 360.0
	}
	return deg
}

// TurnAngle is the absolute angle in [0, 180] between two bearings.
func TurnAngle(b1, b2 float64) float64 {
	diff := math.Abs(b1 - b2)
	if diff > 180.0 {
		diff = 360.0 - diff
	}
	return diff
}

// ProjectPointToSegment projects p onto the segment a-b in the plane,
// clamped to the segment ends.
func ProjectPointToSegment(a, b, p orb.Point) orb.Point {
	dx := b.X() - a.X()
	dy := b.Y() - a.Y()
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a
	}
	t := ((p.X()-a.X())*dx + (p.Y()-a.Y())*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return orb.Point{a.X() + t*dx, a.Y() + t*dy}
}

// ProjectPointToSegmentGeodesic projects p onto the great-circle segment
// a-b. Points are lon/lat degrees.
func ProjectPointToSegmentGeodesic(a, b, p orb.Point) orb.Point {
	aS2 := s2.PointFromLatLng(s2.LatLngFromDegrees(a.Y(), a.X()))
	bS2 := s2.PointFromLatLng(s2.LatLngFromDegrees(b.Y(), b.X()))
	pS2 := s2.PointFromLatLng(s2.LatLngFromDegrees(p.Y(), p.X()))
	projection := s2.Project(pS2, aS2, bS2)
	ll := s2.LatLngFromPoint(projection)
	return orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()}
}

// ClosestPointOnLine finds the point on ls nearest to p and its distance
// in metres.
func ClosestPointOnLine(ls orb.LineString, p orb.Point, mode WeightMode) (orb.Point, float64) {
	best := ls[0]
	bestDist := math.MaxFloat64
	for i := 0; i < len(ls)-1; i++ {
		var proj orb.Point
		if mode == WeightHaversine {
			proj = ProjectPointToSegmentGeodesic(ls[i], ls[i+1], p)
		} else {
			proj = ProjectPointToSegment(ls[i], ls[i+1], p)
		}
		dist := Distance(proj, p, mode)
		if dist < bestDist {
			bestDist = dist
			best = proj
		}
	}
	return best, bestDist
}

package route

import (
	"io"
	"log/slog"
	"testing"

	"spoorzoeker/pkg/builder"
	"spoorzoeker/pkg/datastructure"
	"spoorzoeker/pkg/router"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T) (*datastructure.Graph, []datastructure.Edge) {
	t.Helper()
	b := builder.New(builder.DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	segments := []datastructure.TrackSegment{
		{ID: "AB", Geocode: "112", Geometry: orb.LineString{{0, 0}, {2, 0}}, Length: 2, MaxSpeedKmh: 72},
		{ID: "BC", Geocode: "112", Geometry: orb.LineString{{2, 0}, {5, 0}}, Length: 3},
		{ID: "CD", Geocode: "112", Geometry: orb.LineString{{5, 0}, {4, 0.3}, {0.5, 1}}, Length: 5, MaxSpeedKmh: 36},
		{ID: "CE", Geocode: "113", Geometry: orb.LineString{{5, 0}, {5, 2}}, Length: 2},
	}
	g, _, err := b.Build(segments, nil, "v1")
	require.NoError(t, err)

	pf := router.NewPathFinder(g, nil)
	edges, err := pf.ShortestPath(0, 3, true)
	require.NoError(t, err)
	require.Len(t, edges, 3)
	return g, edges
}

func TestAssembleDistanceAndOrder(t *testing.T) {
	g, edges := buildChain(t)
	r := Assemble(g, edges, DefaultSpeedKmh)

	assert.InDelta(t, 10.0, r.Distance(), 1e-9)
	segs := r.Segments()
	require.Len(t, segs, 3)
	assert.Equal(t, "AB", segs[0].SegmentID)
	assert.Equal(t, "BC", segs[1].SegmentID)
	assert.Equal(t, "CD", segs[2].SegmentID)
	assert.Equal(t, "112", segs[0].Geocode)
}

func TestAssembleETAWithSpeedFallback(t *testing.T) {
	g, edges := buildChain(t)
	r := Assemble(g, edges, 80)

	// AB at 72 km/h, BC at the 80 km/h fallback, CD at 36 km/h
	want := 2*3.6/72 + 3*3.6/80 + 5*3.6/36
	assert.InDelta(t, want, r.ETASeconds(), 1e-9)

	segs := r.Segments()
	assert.InDelta(t, 2*3.6/72, segs[0].ETA, 1e-9)
	assert.InDelta(t, 3*3.6/80, segs[1].ETA, 1e-9)
}

func TestGeometryJoinsWithoutDuplicateJoints(t *testing.T) {
	g, edges := buildChain(t)
	r := Assemble(g, edges, DefaultSpeedKmh)

	geom := r.Geometry()
	// AB(2) + BC(2)-1 + CD(3)-1 shared joint coordinates
	require.Len(t, geom, 5)
	assert.Equal(t, orb.Point{0, 0}, geom[0])
	assert.Equal(t, orb.Point{5, 0}, geom[2])
	assert.Equal(t, orb.Point{0.5, 1}, geom[4])

	assert.NotEmpty(t, r.Polyline())
}

func TestEmptyRoute(t *testing.T) {
	g, _ := buildChain(t)
	r := Assemble(g, nil, DefaultSpeedKmh)

	assert.Equal(t, 0.0, r.Distance())
	assert.Equal(t, 0.0, r.ETASeconds())
	assert.Empty(t, r.Segments())
	assert.Empty(t, r.Geometry())
}

func TestRouteIsImmutable(t *testing.T) {
	g, edges := buildChain(t)
	r := Assemble(g, edges, DefaultSpeedKmh)

	segs := r.Segments()
	segs[0].SegmentID = "tampered"
	assert.Equal(t, "AB", r.Segments()[0].SegmentID)

	geom := r.Geometry()
	geom[0] = orb.Point{99, 99}
	assert.Equal(t, orb.Point{0, 0}, r.Geometry()[0])
}

func TestDisplayRouteColor(t *testing.T) {
	g, edges := buildChain(t)
	d := NewDisplayRoute(Assemble(g, edges, DefaultSpeedKmh))

	assert.Equal(t, "#1f77b4", d.Color)
	d.SetColor("#d62728")
	assert.Equal(t, "#d62728", d.Color)
	assert.InDelta(t, 10.0, d.Distance(), 1e-9)
}

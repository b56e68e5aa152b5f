package builder

import (
	"io"
	"log/slog"
	"testing"

	"spoorzoeker/pkg/datastructure"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chainSegments builds A-B-C-D plus a stub C-E so that C is a switch.
// Continuing B->C->D requires reversing direction at C.
func chainSegments() []datastructure.TrackSegment {
	return []datastructure.TrackSegment{
		{ID: "AB", Geocode: "112", Geometry: orb.LineString{{0, 0}, {2, 0}}, Length: 2, MaxSpeedKmh: 80},
		{ID: "BC", Geocode: "112", Geometry: orb.LineString{{2, 0}, {5, 0}}, Length: 3, MaxSpeedKmh: 80},
		{ID: "CD", Geocode: "112", Geometry: orb.LineString{{5, 0}, {4, 0.3}, {0.5, 1}}, Length: 5, MaxSpeedKmh: 80},
		{ID: "CE", Geocode: "113", Geometry: orb.LineString{{5, 0}, {5, 2}}, Length: 2, MaxSpeedKmh: 40},
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := New(DefaultOptions(), testLogger())

	g1, warns1, err := b.Build(chainSegments(), nil, "v1")
	require.NoError(t, err)
	g2, warns2, err := b.Build(chainSegments(), nil, "v1")
	require.NoError(t, err)

	assert.Empty(t, warns1)
	assert.Empty(t, warns2)
	assert.Equal(t, g1.NumNodes(), g2.NumNodes())
	assert.Equal(t, g1.NumEdges(), g2.NumEdges())
	assert.Equal(t, g1.NumTransitions(), g2.NumTransitions())

	// 5 distinct endpoints, two directed edges per segment
	assert.Equal(t, 5, g1.NumNodes())
	assert.Equal(t, 8, g1.NumEdges())
}

func TestEndpointSnapTolerance(t *testing.T) {
	b := New(DefaultOptions(), testLogger())

	segments := []datastructure.TrackSegment{
		{ID: "S1", Geometry: orb.LineString{{0, 0}, {10, 0}}},
		// endpoint within a few millimetres of S1's end: must merge
		{ID: "S2", Geometry: orb.LineString{{10.002, 0.003}, {20, 0}}},
		// endpoint clearly apart: must not merge
		{ID: "S3", Geometry: orb.LineString{{20, 0.5}, {30, 0}}},
	}
	g, warns, err := b.Build(segments, nil, "v1")
	require.NoError(t, err)
	assert.Empty(t, warns)
	// 0, 10 (merged), 20, 20.5-apart, 30
	assert.Equal(t, 6, g.NumNodes())
}

func TestSwitchDetection(t *testing.T) {
	b := New(DefaultOptions(), testLogger())
	g, _, err := b.Build(chainSegments(), nil, "v1")
	require.NoError(t, err)

	switches := 0
	for id := int32(0); id < int32(g.NumNodes()); id++ {
		node := g.GetNode(id)
		if node.IsSwitch {
			switches++
			assert.True(t, node.ReversalRestricted)
			// C is the only meeting point of three segments
			assert.Equal(t, orb.Point{5, 0}, node.Point)
		}
	}
	assert.Equal(t, 1, switches)
}

func TestMalformedSegmentsDropped(t *testing.T) {
	b := New(DefaultOptions(), testLogger())

	segments := append(chainSegments(),
		datastructure.TrackSegment{ID: "ONEPT", Geometry: orb.LineString{{7, 7}}},
		datastructure.TrackSegment{ID: "ZERO", Geometry: orb.LineString{{8, 8}, {8, 8}}},
		datastructure.TrackSegment{ID: "BOWTIE", Geometry: orb.LineString{{0, 5}, {2, 7}, {2, 5}, {0, 7}}},
	)

	g, warns, err := b.Build(segments, nil, "v1")
	require.NoError(t, err)
	require.Len(t, warns, 3)
	reasons := map[string]string{}
	for _, w := range warns {
		reasons[w.SegmentID] = w.Reason
	}
	assert.Equal(t, "fewer than two coordinates", reasons["ONEPT"])
	assert.Equal(t, "zero length", reasons["ZERO"])
	assert.Equal(t, "self-intersecting geometry", reasons["BOWTIE"])

	// the valid chain still builds completely
	assert.Equal(t, 4, g.NumSegments())
	assert.Equal(t, 8, g.NumEdges())
}

func TestReversalClassification(t *testing.T) {
	b := New(DefaultOptions(), testLogger())
	g, _, err := b.Build(chainSegments(), nil, "v1")
	require.NoError(t, err)

	// edge ids follow segment order: BC forward = 2, CD forward = 4, CE forward = 6
	bcForward, cdForward, ceForward := int32(2), int32(4), int32(6)

	// continuing BC -> CD turns back on itself at the switch: restricted kering
	assert.Equal(t, datastructure.TransitionReversalRestricted, g.Transition(bcForward, cdForward))
	// BC -> CE is a run-through
	assert.Equal(t, datastructure.TransitionRun, g.Transition(bcForward, ceForward))
	// U-turn onto the twin edge is always a kering
	assert.Equal(t, datastructure.TransitionReversalRestricted, g.Transition(bcForward, g.GetEdge(bcForward).Twin))
}

func TestPermittedPairOverridesRestriction(t *testing.T) {
	b := New(DefaultOptions(), testLogger())
	permitted := []PermittedPair{{SegmentA: "CD", SegmentB: "BC"}} // reversed order on purpose
	g, _, err := b.Build(chainSegments(), permitted, "v1")
	require.NoError(t, err)

	assert.Equal(t, datastructure.TransitionReversalPermitted, g.Transition(int32(2), int32(4)))
}

func TestProvidedLengthWins(t *testing.T) {
	b := New(DefaultOptions(), testLogger())
	g, _, err := b.Build(chainSegments(), nil, "v1")
	require.NoError(t, err)

	// CD carries an attribute length of 5 even though its polyline is shorter
	assert.Equal(t, 5.0, g.GetEdge(4).Dist)

	// a segment without a length attribute falls back to geometry length
	noLen := []datastructure.TrackSegment{
		{ID: "NL", Geometry: orb.LineString{{0, 0}, {3, 4}}},
	}
	g2, _, err := b.Build(noLen, nil, "v1")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, g2.GetEdge(0).Dist, 1e-9)
}

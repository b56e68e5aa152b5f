package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spoorzoeker/pkg/builder"
	"spoorzoeker/pkg/datastructure"

	"github.com/dgraph-io/badger/v4"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func buildTestGraph(t *testing.T, sourceID string) *datastructure.Graph {
	t.Helper()
	b := builder.New(builder.DefaultOptions(), testLogger())
	segments := []datastructure.TrackSegment{
		{ID: "AB", Geocode: "112", Geometry: orb.LineString{{0, 0}, {2, 0}}, Length: 2, MaxSpeedKmh: 80},
		{ID: "BC", Geocode: "112", Geometry: orb.LineString{{2, 0}, {5, 0}}, Length: 3, MaxSpeedKmh: 80},
	}
	g, _, err := b.Build(segments, nil, sourceID)
	require.NoError(t, err)
	return g
}

func TestGetOrBuildMissThenHit(t *testing.T) {
	c := New(openTestDB(t), false, 0, testLogger())

	var builds atomic.Int32
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		builds.Add(1)
		return buildTestGraph(t, "v1"), nil
	}

	g1, err := c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())

	g2, err := c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load(), "hit must not rebuild")

	assert.Equal(t, g1.NumNodes(), g2.NumNodes())
	assert.Equal(t, g1.NumEdges(), g2.NumEdges())
	assert.Equal(t, "v1", g2.SourceID())
	assert.Equal(t, g1.GetSegment(0).ID, g2.GetSegment(0).ID)
}

func TestForceRebuild(t *testing.T) {
	c := New(openTestDB(t), false, 0, testLogger())

	var builds atomic.Int32
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		builds.Add(1)
		return buildTestGraph(t, "v1"), nil
	}

	_, err := c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	_, err = c.GetOrBuild(context.Background(), "v1", true, build)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load())
}

func TestDisabledModeAlwaysRebuilds(t *testing.T) {
	c := New(nil, true, 0, testLogger())

	var builds atomic.Int32
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		builds.Add(1)
		return buildTestGraph(t, "v1"), nil
	}

	for i := 0; i < 3; i++ {
		_, err := c.GetOrBuild(context.Background(), "v1", false, build)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), builds.Load())
}

func TestCorruptEntryForcesRebuild(t *testing.T) {
	db := openTestDB(t)
	c := New(db, false, 0, testLogger())

	var builds atomic.Int32
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		builds.Add(1)
		return buildTestGraph(t, "v1"), nil
	}

	_, err := c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)

	// flip bytes of the stored entry
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey("v1"), []byte("garbage"))
	})
	require.NoError(t, err)

	_, err = c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load(), "corrupt entry must be discarded and rebuilt")

	// the rebuilt entry is valid again
	_, err = c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load())
}

func TestStaleEntryRebuilds(t *testing.T) {
	c := New(openTestDB(t), false, time.Nanosecond, testLogger())

	var builds atomic.Int32
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		builds.Add(1)
		return buildTestGraph(t, "v1"), nil
	}

	_, err := c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.GetOrBuild(context.Background(), "v1", false, build)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load())
}

func TestConcurrentMissesBuildOnce(t *testing.T) {
	c := New(openTestDB(t), false, 0, testLogger())

	var builds atomic.Int32
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		return buildTestGraph(t, "v1"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.GetOrBuild(context.Background(), "v1", false, build)
			assert.NoError(t, err)
			assert.NotNil(t, g)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), builds.Load(), "only one build may proceed per source identity")
}

func TestSnapshotRoundTripKeepsTransitions(t *testing.T) {
	b := builder.New(builder.DefaultOptions(), testLogger())
	segments := []datastructure.TrackSegment{
		{ID: "AB", Geometry: orb.LineString{{0, 0}, {2, 0}}, Length: 2},
		{ID: "BC", Geometry: orb.LineString{{2, 0}, {5, 0}}, Length: 3},
		{ID: "CD", Geometry: orb.LineString{{5, 0}, {4, 0.3}, {0.5, 1}}, Length: 5},
		{ID: "CE", Geometry: orb.LineString{{5, 0}, {5, 2}}, Length: 2},
	}
	g, _, err := b.Build(segments, nil, "v1")
	require.NoError(t, err)

	blob, err := encodeGraph(g)
	require.NoError(t, err)
	g2, err := decodeGraph(blob)
	require.NoError(t, err)

	assert.Equal(t, g.NumNodes(), g2.NumNodes())
	assert.Equal(t, g.NumEdges(), g2.NumEdges())
	assert.Equal(t, g.NumTransitions(), g2.NumTransitions())
	assert.Equal(t, g.Transition(2, 4), g2.Transition(2, 4))
	assert.Equal(t, g.GetNode(0).Point, g2.GetNode(0).Point)
	assert.Equal(t, g.GetNodeOutEdges(0), g2.GetNodeOutEdges(0))
}

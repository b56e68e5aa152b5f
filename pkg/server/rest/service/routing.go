package service

import (
	"context"
	"log/slog"
	"sync"

	"spoorzoeker/pkg/builder"
	"spoorzoeker/pkg/cache"
	"spoorzoeker/pkg/datastructure"
	"spoorzoeker/pkg/geo"
	"spoorzoeker/pkg/mapservice"
	"spoorzoeker/pkg/route"
	"spoorzoeker/pkg/router"
	"spoorzoeker/pkg/server"
	"spoorzoeker/pkg/snap"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// GraphStats summarises the currently served graph.
type GraphStats struct {
	SourceID string
	Segments int
	Nodes    int
	Edges    int
	Switches int
	Dropped  int
}

type Options struct {
	BufferToleranceM float64
	WeightMode       geo.WeightMode
	DefaultSpeedKmh  float64
}

// RoutingService serves route and snap queries over the latest graph.
// The graph itself is immutable; RefreshGraph swaps the whole trio of
// graph, snapper and path finder under the write lock, readers only
// take the read lock.
type RoutingService struct {
	source  mapservice.Source
	cache   *cache.GraphCache
	builder *builder.Builder
	opts    Options
	logger  *slog.Logger

	mu      sync.RWMutex
	graph   *datastructure.Graph
	snapper *snap.Snapper
	finder  *router.PathFinder
	dropped int
}

func NewRoutingService(source mapservice.Source, graphCache *cache.GraphCache,
	graphBuilder *builder.Builder, opts Options, logger *slog.Logger) *RoutingService {
	if opts.BufferToleranceM <= 0 {
		opts.BufferToleranceM = 25.0
	}
	if opts.WeightMode == "" {
		opts.WeightMode = geo.WeightPlanar
	}
	if opts.DefaultSpeedKmh <= 0 {
		opts.DefaultSpeedKmh = route.DefaultSpeedKmh
	}
	return &RoutingService{
		source:  source,
		cache:   graphCache,
		builder: graphBuilder,
		opts:    opts,
		logger:  logger,
	}
}

// RefreshGraph pulls the feed, obtains the matching graph from the
// cache (building on miss or when force is set) and swaps it in.
func (s *RoutingService) RefreshGraph(ctx context.Context, force bool) (GraphStats, error) {
	feed, err := s.source.Fetch(ctx)
	if err != nil {
		return GraphStats{}, server.WrapErrorf(err, server.ErrInternalServerError, "feed fetch failed")
	}

	var dropped int
	build := func(ctx context.Context) (*datastructure.Graph, error) {
		g, warnings, err := s.builder.Build(feed.Segments, feed.Permitted, feed.SourceID)
		if err != nil {
			return nil, err
		}
		dropped = len(warnings)
		return g, nil
	}

	g, err := s.cache.GetOrBuild(ctx, feed.SourceID, force, build)
	if err != nil {
		return GraphStats{}, server.WrapErrorf(err, server.ErrInternalServerError, "graph build failed")
	}

	snapper := snap.NewSnapper(g, s.opts.BufferToleranceM, s.opts.WeightMode)
	finder := router.NewPathFinder(g, snapper)

	s.mu.Lock()
	s.graph = g
	s.snapper = snapper
	s.finder = finder
	s.dropped = dropped
	s.mu.Unlock()

	stats := s.statsLocked(g, dropped)
	s.logger.Info("graph refreshed", "source_id", stats.SourceID,
		"nodes", stats.Nodes, "edges", stats.Edges, "switches", stats.Switches)
	return stats, nil
}

func (s *RoutingService) statsLocked(g *datastructure.Graph, dropped int) GraphStats {
	switches := 0
	for i := int32(0); i < int32(g.NumNodes()); i++ {
		if g.GetNode(i).IsSwitch {
			switches++
		}
	}
	return GraphStats{
		SourceID: g.SourceID(),
		Segments: g.NumSegments(),
		Nodes:    g.NumNodes(),
		Edges:    g.NumEdges(),
		Switches: switches,
		Dropped:  dropped,
	}
}

func (s *RoutingService) current() (*datastructure.Graph, *snap.Snapper, *router.PathFinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return nil, nil, nil, server.NewErrorf(server.ErrInternalServerError, "no graph loaded, refresh first")
	}
	return s.graph, s.snapper, s.finder, nil
}

// FindRoute answers a constrained shortest-path query between two
// coordinates in the graph's reference system.
func (s *RoutingService) FindRoute(ctx context.Context, start, end orb.Point,
	reversalsAllowed bool) (*route.Route, error) {

	g, _, finder, err := s.current()
	if err != nil {
		return nil, err
	}

	edges, err := finder.FindEdgePath(start, end, reversalsAllowed)
	if err != nil {
		var snapErr *snap.SnapError
		if errors.As(err, &snapErr) {
			return nil, server.WrapErrorf(err, server.ErrNotFound, "no track near the given coordinate")
		}
		var notFound *router.PathNotFoundError
		if errors.As(err, &notFound) {
			return nil, server.WrapErrorf(err, server.ErrNotFound, "no route between the given coordinates")
		}
		return nil, server.WrapErrorf(err, server.ErrInternalServerError, "route query failed")
	}

	return route.Assemble(g, edges, s.opts.DefaultSpeedKmh), nil
}

// NearestSegment snaps a coordinate onto the network and returns the
// matched segment together with the projection.
func (s *RoutingService) NearestSegment(ctx context.Context, p orb.Point) (datastructure.TrackSegment, snap.SnappedPoint, error) {
	g, snapper, _, err := s.current()
	if err != nil {
		return datastructure.TrackSegment{}, snap.SnappedPoint{}, err
	}

	snapped, err := snapper.Snap(p)
	if err != nil {
		return datastructure.TrackSegment{}, snap.SnappedPoint{},
			server.WrapErrorf(err, server.ErrNotFound, "no track near the given coordinate")
	}
	seg := g.GetSegment(g.GetEdge(snapped.EdgeID).SegmentIdx)
	return seg, snapped, nil
}

// Stats reports the currently served graph without refreshing it.
func (s *RoutingService) Stats() (GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return GraphStats{}, server.NewErrorf(server.ErrInternalServerError, "no graph loaded, refresh first")
	}
	return s.statsLocked(s.graph, s.dropped), nil
}

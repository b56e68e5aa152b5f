// Package mapservice materialises the track-segment feed: paged GeoJSON
// from a FeatureServer-style endpoint, or a local file for offline use.
// The source identity is a digest of the raw payload, so a changed feed
// always yields a new cache key.
package mapservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"spoorzoeker/pkg/builder"
	"spoorzoeker/pkg/datastructure"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Feed is one materialised snapshot of the track network input.
type Feed struct {
	Segments  []datastructure.TrackSegment
	Permitted []builder.PermittedPair
	SourceID  string
}

// Source yields the current feed. Implementations must be safe for
// repeated calls; every call re-reads the underlying data.
type Source interface {
	Fetch(ctx context.Context) (*Feed, error)
}

const defaultPageSize = 1000

// FeatureServerClient pages through an ArcGIS FeatureServer layer
// (`f=geojson`). Every spoortak feature carries PUIC, GEOCODE and
// SNELHEID properties; KERING_PUIC names a partner segment towards
// which a kering is operationally permitted.
type FeatureServerClient struct {
	baseURL  string
	pageSize int
	client   *http.Client
	logger   *slog.Logger
}

func NewFeatureServerClient(baseURL string, client *http.Client, logger *slog.Logger) *FeatureServerClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeatureServerClient{
		baseURL:  baseURL,
		pageSize: defaultPageSize,
		client:   client,
		logger:   logger,
	}
}

func (c *FeatureServerClient) Fetch(ctx context.Context) (*Feed, error) {
	digest := sha256.New()
	var segments []datastructure.TrackSegment
	var permitted []builder.PermittedPair

	for offset := 0; ; offset += c.pageSize {
		body, err := c.fetchPage(ctx, offset)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch feature page at offset %d", offset)
		}
		digest.Write(body)

		pageSegments, pagePermitted, featureCount, err := decodeCollection(body)
		if err != nil {
			return nil, errors.Wrapf(err, "decode feature page at offset %d", offset)
		}
		segments = append(segments, pageSegments...)
		permitted = append(permitted, pagePermitted...)

		// paging stops on the raw feature count, not the decoded one:
		// a full page may still contain features the decoder skips
		if featureCount < c.pageSize {
			break
		}
	}

	feed := &Feed{
		Segments:  segments,
		Permitted: permitted,
		SourceID:  hex.EncodeToString(digest.Sum(nil)),
	}
	c.logger.Info("feature feed materialized",
		"segments", len(feed.Segments), "permitted_pairs", len(feed.Permitted), "source_id", feed.SourceID)
	return feed, nil
}

func (c *FeatureServerClient) fetchPage(ctx context.Context, offset int) ([]byte, error) {
	url := fmt.Sprintf("%s/query?where=1%%3D1&outFields=*&f=geojson&resultOffset=%d&resultRecordCount=%d",
		c.baseURL, offset, c.pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("feature server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FileSource reads one GeoJSON feature collection from disk. The source
// identity is the digest of the file contents.
type FileSource struct {
	path   string
	logger *slog.Logger
}

func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

func (s *FileSource) Fetch(ctx context.Context) (*Feed, error) {
	body, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read feed file %s", s.path)
	}
	segments, permitted, _, err := decodeCollection(body)
	if err != nil {
		return nil, errors.Wrapf(err, "decode feed file %s", s.path)
	}
	sum := sha256.Sum256(body)
	feed := &Feed{
		Segments:  segments,
		Permitted: permitted,
		SourceID:  hex.EncodeToString(sum[:]),
	}
	s.logger.Info("feed file materialized", "path", s.path, "segments", len(feed.Segments))
	return feed, nil
}

// decodeCollection also reports the raw feature count so pagination can
// distinguish a short page from a full page with skipped features.
func decodeCollection(body []byte) ([]datastructure.TrackSegment, []builder.PermittedPair, int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, nil, 0, err
	}

	segments := make([]datastructure.TrackSegment, 0, len(fc.Features))
	permitted := make([]builder.PermittedPair, 0)
	for _, feature := range fc.Features {
		line, ok := featureLine(feature.Geometry)
		if !ok {
			continue
		}
		puic := propString(feature.Properties, "PUIC")
		if puic == "" {
			continue
		}
		segments = append(segments, datastructure.TrackSegment{
			ID:          puic,
			Geocode:     propString(feature.Properties, "GEOCODE"),
			Geometry:    line,
			Length:      propFloat(feature.Properties, "LENGTE"),
			MaxSpeedKmh: propFloat(feature.Properties, "SNELHEID"),
		})
		if partner := propString(feature.Properties, "KERING_PUIC"); partner != "" {
			permitted = append(permitted, builder.PermittedPair{SegmentA: puic, SegmentB: partner})
		}
	}
	return segments, permitted, len(fc.Features), nil
}

func featureLine(g orb.Geometry) (orb.LineString, bool) {
	switch geom := g.(type) {
	case orb.LineString:
		return geom, true
	case orb.MultiLineString:
		// a spoortak should be a single line; take the first part
		if len(geom) > 0 {
			return geom[0], true
		}
	}
	return nil, false
}

func propString(props geojson.Properties, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func propFloat(props geojson.Properties, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

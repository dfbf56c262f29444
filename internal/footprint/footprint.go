// Package footprint adapts a GeoJSON FeatureCollection of building footprints
// to the squareness pipeline.
//
// Polygon features carrying a building property become candidates. Rings are
// projected to spherical mercator before analysis and projected back when a
// correction is written. Vertices are identified by their coordinate rounded
// to 1e-7 degrees, so features that share a coordinate share a vertex.
package footprint

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/unsquare/internal/eligibility"
	"github.com/banshee-data/unsquare/internal/fix"
	"github.com/banshee-data/unsquare/internal/geom"
	"github.com/banshee-data/unsquare/internal/monitoring"
)

// maxInputSize bounds the GeoJSON documents LoadFile accepts.
const maxInputSize = 256 * 1024 * 1024

// ErrUnknownEntity is returned when a fix names a feature the dataset lacks.
var ErrUnknownEntity = errors.New("unknown entity")

// Dataset is a loaded FeatureCollection plus the indexes the eligibility
// filter needs.
type Dataset struct {
	fc *geojson.FeatureCollection

	ids      []string
	features map[string]*geojson.Feature
	coords   map[string]orb.Point
	sharing  map[string][]eligibility.Neighbor
	loaded   *orb.Bound
}

// Parse decodes a GeoJSON FeatureCollection.
func Parse(data []byte) (*Dataset, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature collection: %w", err)
	}
	return New(fc), nil
}

// Load reads and decodes a FeatureCollection from r.
func Load(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feature collection: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("feature collection too large: exceeds %d bytes", maxInputSize)
	}
	return Parse(data)
}

// LoadFile reads a FeatureCollection from path.
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// New indexes fc. The collection is edited in place by Apply.
func New(fc *geojson.FeatureCollection) *Dataset {
	d := &Dataset{fc: fc, features: make(map[string]*geojson.Feature)}
	for i, f := range fc.Features {
		id := featureID(f, i)
		if _, dup := d.features[id]; dup {
			id = fmt.Sprintf("%s#%d", id, i)
		}
		d.ids = append(d.ids, id)
		d.features[id] = f
	}
	d.reindex()
	return d
}

// SetLoadedBound restricts the data considered fully loaded to b. Without a
// bound every vertex counts as loaded.
func (d *Dataset) SetLoadedBound(b orb.Bound) {
	d.loaded = &b
}

// Len returns the number of features.
func (d *Dataset) Len() int {
	return len(d.ids)
}

// Candidates returns the projected building rings, in feature order.
func (d *Dataset) Candidates() []eligibility.Candidate {
	var out []eligibility.Candidate
	for _, id := range d.ids {
		f := d.features[id]
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok || len(poly) == 0 {
			continue
		}
		tags := Tags(f)
		if _, ok := tags["building"]; !ok {
			continue
		}
		outer := poly[0]
		keys := make([]string, len(outer))
		for i, p := range outer {
			keys[i] = VertexKey(p)
		}
		out = append(out, eligibility.Candidate{
			ID:   id,
			Tags: tags,
			Ring: geom.ProjectRing(outer, geom.Mercator),
			Keys: keys,
		})
	}
	return out
}

// Context returns the collaborators the eligibility filter needs.
func (d *Dataset) Context() eligibility.Context {
	return eligibility.Context{Loaded: d.Loaded, Neighbors: d}
}

// Loaded reports whether the vertex behind key lies in the loaded bound.
func (d *Dataset) Loaded(key string) (bool, error) {
	if d.loaded == nil {
		return true, nil
	}
	p, ok := d.coords[key]
	if !ok {
		return false, fmt.Errorf("%w: vertex %s", ErrUnknownEntity, key)
	}
	return d.loaded.Contains(p), nil
}

// RingsSharing lists the rings that use the vertex behind key.
func (d *Dataset) RingsSharing(key string) ([]eligibility.Neighbor, error) {
	return d.sharing[key], nil
}

// Ring returns the projected outer ring of the polygon feature id.
func (d *Dataset) Ring(id string) (geom.Ring, error) {
	f, ok := d.features[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	poly, ok := f.Geometry.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, fmt.Errorf("feature %s is not a polygon", id)
	}
	return geom.ProjectRing(poly[0], geom.Mercator), nil
}

// Apply executes f against the collection. Squaring moves every vertex of
// the ring, and the same coordinates in any other feature move with it.
func (d *Dataset) Apply(f fix.Fix) error {
	switch f := f.(type) {
	case fix.ApplyOrthogonalizeFix:
		return d.square(f)
	case fix.TagAsNonSquareFix:
		feat, ok := d.features[f.EntityID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, f.EntityID)
		}
		if feat.Properties == nil {
			feat.Properties = geojson.Properties{}
		}
		feat.Properties[f.Key] = f.Value
		monitoring.Debugf("tagged %s %s=%s", f.EntityID, f.Key, f.Value)
		return nil
	default:
		return fmt.Errorf("unsupported fix %T", f)
	}
}

func (d *Dataset) square(f fix.ApplyOrthogonalizeFix) error {
	ring, err := d.Ring(f.EntityID)
	if err != nil {
		return err
	}
	res, err := fix.Resolve(f, ring)
	if err != nil {
		return fmt.Errorf("failed to square %s: %w", f.EntityID, err)
	}
	if len(res.Ring) != len(ring) {
		return fmt.Errorf("failed to square %s: got %d points, want %d", f.EntityID, len(res.Ring), len(ring))
	}

	outer := d.features[f.EntityID].Geometry.(orb.Polygon)[0]
	corrected := geom.ProjectRing(res.Ring, geom.InverseMercator)
	moved := make(map[string]orb.Point, len(outer))
	for i, p := range outer {
		moved[VertexKey(p)] = corrected[i]
	}
	for _, feat := range d.fc.Features {
		feat.Geometry = movePoints(feat.Geometry, moved)
	}
	d.reindex()

	monitoring.Debugf("squared %s in %d iterations, max error %.3f°", f.EntityID, res.Iterations, res.MaxErrorDegrees)
	return nil
}

// FeatureCollection returns the collection, including any applied edits.
func (d *Dataset) FeatureCollection() *geojson.FeatureCollection {
	return d.fc
}

// WriteFile writes the collection to path as GeoJSON.
func (d *Dataset) WriteFile(path string) error {
	data, err := d.fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode feature collection: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// VertexKey identifies a vertex by its lon/lat at 1e-7 degree precision.
func VertexKey(p orb.Point) string {
	return fmt.Sprintf("%d,%d", int64(math.Round(p[0]*1e7)), int64(math.Round(p[1]*1e7)))
}

// Tags returns the feature properties as strings. Non-string values are
// formatted with fmt.
func Tags(f *geojson.Feature) map[string]string {
	tags := make(map[string]string, len(f.Properties))
	for k, v := range f.Properties {
		switch v := v.(type) {
		case string:
			tags[k] = v
		case nil:
		default:
			tags[k] = fmt.Sprint(v)
		}
	}
	return tags
}

func (d *Dataset) reindex() {
	d.coords = make(map[string]orb.Point)
	d.sharing = make(map[string][]eligibility.Neighbor)

	for _, id := range d.ids {
		f := d.features[id]
		building := eligibility.IsBuilding(Tags(f))

		var n eligibility.Neighbor
		var rings []orb.Ring
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			n = eligibility.Neighbor{ID: id, Building: building}
			rings = g
		case orb.MultiPolygon:
			n = eligibility.Neighbor{ID: id, BuildingRelation: building}
			for _, poly := range g {
				rings = append(rings, poly...)
			}
		case orb.LineString:
			n = eligibility.Neighbor{ID: id}
			rings = []orb.Ring{orb.Ring(g)}
		default:
			continue
		}

		for _, r := range rings {
			seen := make(map[string]bool, len(r))
			for _, p := range r {
				key := VertexKey(p)
				d.coords[key] = p
				if seen[key] {
					continue
				}
				seen[key] = true
				d.sharing[key] = append(d.sharing[key], n)
			}
		}
	}
}

func movePoints(g orb.Geometry, moved map[string]orb.Point) orb.Geometry {
	switch g := g.(type) {
	case orb.Polygon:
		for _, r := range g {
			moveRing(r, moved)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, r := range poly {
				moveRing(r, moved)
			}
		}
	case orb.LineString:
		moveRing(orb.Ring(g), moved)
	}
	return g
}

func moveRing(r orb.Ring, moved map[string]orb.Point) {
	for i, p := range r {
		if to, ok := moved[VertexKey(p)]; ok {
			r[i] = to
		}
	}
}

func featureID(f *geojson.Feature, index int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	for _, k := range []string{"@id", "id"} {
		if v, ok := f.Properties[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("feature/%d", index)
}

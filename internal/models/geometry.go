package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geos"
)

// Geometry wraps a GEOS geometry in a planar coordinate system measured in feet.
// It reads and writes GeoJSON, both for PostGIS (ST_AsGeoJSON / ST_GeomFromGeoJSON)
// and for API responses. A zero Geometry holds no geometry at all, which is
// different from an empty one.
type Geometry struct {
	*geos.Geom
}

// NewGeometry wraps an existing GEOS geometry.
func NewGeometry(g *geos.Geom) Geometry {
	return Geometry{Geom: g}
}

// EmptyPolygon returns an empty polygon geometry.
func EmptyPolygon() Geometry {
	g, err := geos.NewGeomFromWKT("POLYGON EMPTY")
	if err != nil {
		// The WKT literal is constant; failure means GEOS itself is broken.
		panic(fmt.Sprintf("failed to build empty polygon: %v", err))
	}
	return Geometry{Geom: g}
}

// ParseGeoJSON parses a GeoJSON geometry object.
func ParseGeoJSON(data []byte) (Geometry, error) {
	g, err := geos.NewGeomFromGeoJSON(string(data))
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to parse GeoJSON geometry: %w", err)
	}
	return Geometry{Geom: g}, nil
}

// ParseWKT parses a WKT geometry string.
func ParseWKT(wkt string) (Geometry, error) {
	g, err := geos.NewGeomFromWKT(wkt)
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to parse WKT geometry: %w", err)
	}
	return Geometry{Geom: g}, nil
}

// IsZero reports whether no geometry is held.
func (g Geometry) IsZero() bool {
	return g.Geom == nil
}

// Empty reports whether the geometry is missing or has no points.
func (g Geometry) Empty() bool {
	return g.Geom == nil || g.Geom.IsEmpty()
}

// AreaOrZero returns the planar area, or 0 for a missing geometry.
func (g Geometry) AreaOrZero() float64 {
	if g.Empty() {
		return 0
	}
	return g.Geom.Area()
}

// IsPolygonal reports whether the geometry is a Polygon or MultiPolygon.
func (g Geometry) IsPolygonal() bool {
	if g.Geom == nil {
		return false
	}
	switch g.Geom.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return true
	default:
		return false
	}
}

// Parts returns the number of polygon parts, 0 for an empty geometry.
func (g Geometry) Parts() int {
	if g.Empty() {
		return 0
	}
	return g.Geom.NumGeometries()
}

// GeoJSON returns the GeoJSON text of the geometry, or "null" when missing.
func (g Geometry) GeoJSON() string {
	if g.Geom == nil {
		return "null"
	}
	return g.Geom.ToGeoJSON(-1)
}

// Scan implements sql.Scanner for reading geometry selected with ST_AsGeoJSON.
func (g *Geometry) Scan(value interface{}) error {
	if value == nil {
		g.Geom = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan Geometry: expected []byte or string, got %T", value)
	}

	parsed, err := ParseGeoJSON(data)
	if err != nil {
		return err
	}
	g.Geom = parsed.Geom
	return nil
}

// Value implements driver.Valuer. The GeoJSON string is meant for ST_GeomFromGeoJSON.
func (g Geometry) Value() (driver.Value, error) {
	if g.Geom == nil {
		return nil, nil
	}
	return g.Geom.ToGeoJSON(-1), nil
}

// MarshalJSON implements json.Marshaler, emitting a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Geom == nil {
		return []byte("null"), nil
	}
	return []byte(g.Geom.ToGeoJSON(-1)), nil
}

// UnmarshalJSON implements json.Unmarshaler for GeoJSON geometry objects.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}
	if string(probe) == "null" {
		g.Geom = nil
		return nil
	}

	parsed, err := ParseGeoJSON(probe)
	if err != nil {
		return err
	}
	g.Geom = parsed.Geom
	return nil
}

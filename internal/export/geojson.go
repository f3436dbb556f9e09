// Package export turns an ExclusionSet into files and render layers.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   models.Geometry        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func newFeatureCollection(capacity int) FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, capacity)}
}

// ResultFeatures returns one feature per result: the full parcel geometry,
// with the allowed and prohibited parts carried as GeoJSON properties.
func ResultFeatures(set *models.ExclusionSet) FeatureCollection {
	fc := newFeatureCollection(len(set.Results))
	for _, r := range set.Results {
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: r.Full,
			Properties: map[string]interface{}{
				"PARCEL_ID":    r.ParcelID,
				"STATUS":       r.Status(),
				"ALLOWED_GM":   r.Allowed,
				"PROHIB_GM":    r.Prohibited,
				"FULL_AREA":    r.FullArea,
				"ALLOWED_AREA": r.AllowedArea,
				"PROHIB_AREA":  r.ProhibitedArea,
				"EXT_DWELL":    r.ExternalDwellings,
				"DEGRADED":     r.Degraded,
			},
		})
	}
	return fc
}

// WriteGeoJSON writes the result features to w.
func WriteGeoJSON(w io.Writer, set *models.ExclusionSet) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(ResultFeatures(set)); err != nil {
		return fmt.Errorf("failed to encode results as GeoJSON: %w", err)
	}
	return nil
}

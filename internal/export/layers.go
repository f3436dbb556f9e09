package export

import (
	"errors"
	"fmt"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// Layer names, listed bottom to top in render order.
const (
	LayerBoundary       = "boundary"
	LayerNonResidential = "non_residential"
	LayerProhibited     = "prohibited"
	LayerAllowed        = "allowed"
)

// ErrUnknownLayer is returned for a layer name outside LayerNames.
var ErrUnknownLayer = errors.New("unknown layer")

// LayerNames lists the render layers in drawing order.
var LayerNames = []string{LayerBoundary, LayerNonResidential, LayerProhibited, LayerAllowed}

// Layer is one named render layer.
type Layer struct {
	Name       string
	Collection FeatureCollection
}

// BuildLayers returns every render layer in drawing order.
func BuildLayers(set *models.ExclusionSet) []Layer {
	layers := make([]Layer, 0, len(LayerNames))
	for _, name := range LayerNames {
		fc, _ := BuildLayer(set, name)
		layers = append(layers, Layer{Name: name, Collection: fc})
	}
	return layers
}

// BuildLayer returns one render layer. Empty geometries are left out.
func BuildLayer(set *models.ExclusionSet, name string) (FeatureCollection, error) {
	switch name {
	case LayerBoundary:
		fc := newFeatureCollection(1)
		if !set.Boundary.Empty() {
			fc.Features = append(fc.Features, layerFeature(set.Boundary, map[string]interface{}{}))
		}
		return fc, nil

	case LayerNonResidential:
		fc := newFeatureCollection(len(set.NonResidential))
		for _, p := range set.NonResidential {
			if p.Geometry.Empty() {
				continue
			}
			fc.Features = append(fc.Features, layerFeature(p.Geometry, map[string]interface{}{
				"PARCEL_ID": p.ID,
				"ZONING":    p.ZoningCode,
			}))
		}
		return fc, nil

	case LayerProhibited, LayerAllowed:
		fc := newFeatureCollection(len(set.Results))
		for _, r := range set.Results {
			g, area := r.Allowed, r.AllowedArea
			if name == LayerProhibited {
				g, area = r.Prohibited, r.ProhibitedArea
			}
			if g.Empty() {
				continue
			}
			fc.Features = append(fc.Features, layerFeature(g, map[string]interface{}{
				"PARCEL_ID": r.ParcelID,
				"AREA":      area,
			}))
		}
		return fc, nil

	default:
		return FeatureCollection{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
}

func layerFeature(g models.Geometry, props map[string]interface{}) Feature {
	return Feature{Type: "Feature", Geometry: g, Properties: props}
}

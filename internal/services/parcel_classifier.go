package services

import (
	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
)

// ClassifyResult is the residential / non-residential partition of the parcels.
// Every input parcel appears in exactly one of the two slices, in input order.
type ClassifyResult struct {
	Residential    []models.Parcel
	NonResidential []models.Parcel
	Warnings       []models.Warning
	UnknownZoning  int
}

// ParcelClassifier joins parcels to zoning rules.
type ParcelClassifier struct {
	log *logger.Logger
}

// NewParcelClassifier creates a new ParcelClassifier.
func NewParcelClassifier(log *logger.Logger) *ParcelClassifier {
	return &ParcelClassifier{log: log}
}

// Classify splits parcels by zoning. A parcel whose zoning code has no rule is
// non-residential: it must be affirmatively residential to get an allowed area.
// Missing or duplicate parcel ids and missing geometry are InputSchemaErrors.
func (c *ParcelClassifier) Classify(parcels []models.Parcel, rules []models.ZoningRule) (*ClassifyResult, error) {
	residentialByCode := make(map[string]bool, len(rules))
	for _, rule := range rules {
		code := models.NormalizeZoningCode(rule.Code)
		if code == "" {
			return nil, &models.InputSchemaError{Entity: "zoning rule", Field: "code", Reason: "missing"}
		}
		residentialByCode[code] = rule.IsResidential
	}

	result := &ClassifyResult{
		Residential:    make([]models.Parcel, 0, len(parcels)),
		NonResidential: make([]models.Parcel, 0),
	}
	seen := make(map[string]struct{}, len(parcels))

	for _, parcel := range parcels {
		if parcel.ID == "" {
			return nil, &models.InputSchemaError{Entity: "parcel", Field: "id", Reason: "missing"}
		}
		if _, dup := seen[parcel.ID]; dup {
			return nil, &models.InputSchemaError{Entity: "parcel", Field: "id", EntityID: parcel.ID, Reason: "duplicate id"}
		}
		seen[parcel.ID] = struct{}{}
		if parcel.Geometry.IsZero() {
			return nil, &models.InputSchemaError{Entity: "parcel", Field: "geometry", EntityID: parcel.ID, Reason: "missing"}
		}

		residential, known := residentialByCode[models.NormalizeZoningCode(parcel.ZoningCode)]
		if !known {
			result.UnknownZoning++
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:     models.WarningUnknownZoning,
				EntityID: parcel.ID,
				Detail:   "zoning code " + quoteOrBlank(parcel.ZoningCode) + " not in code table",
			})
		}

		if residential {
			result.Residential = append(result.Residential, parcel)
		} else {
			result.NonResidential = append(result.NonResidential, parcel)
		}
	}

	c.log.Info("Parcels classified", map[string]interface{}{
		"total":           len(parcels),
		"residential":     len(result.Residential),
		"non_residential": len(result.NonResidential),
		"unknown_zoning":  result.UnknownZoning,
	})

	return result, nil
}

func quoteOrBlank(s string) string {
	if s == "" {
		return "(blank)"
	}
	return `"` + s + `"`
}

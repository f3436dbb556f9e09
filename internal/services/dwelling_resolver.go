package services

import (
	"fmt"

	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
	"github.com/stwalsh4118/coopzone/internal/spatial"
)

// DefaultDwellingUse is the use class that marks a building as a dwelling.
const DefaultDwellingUse = "Household"

// ResolveResult holds the dwellings with their parent parcel and the
// accounting for every building that was dropped.
type ResolveResult struct {
	Dropped        map[string]int
	Dwellings      []models.Dwelling
	Warnings       []models.Warning
	BuildingsTotal int
	Unassigned     int
	Repaired       int
}

// DwellingResolver filters buildings to dwellings and places each on a parcel.
type DwellingResolver struct {
	uses map[string]struct{}
	log  *logger.Logger
}

// NewDwellingResolver creates a resolver. useClasses lists the use classes
// that count as dwellings; an empty list means DefaultDwellingUse.
func NewDwellingResolver(useClasses []string, log *logger.Logger) *DwellingResolver {
	if len(useClasses) == 0 {
		useClasses = []string{DefaultDwellingUse}
	}
	uses := make(map[string]struct{}, len(useClasses))
	for _, u := range useClasses {
		uses[u] = struct{}{}
	}
	return &DwellingResolver{uses: uses, log: log}
}

// Resolve inner-joins buildings to use records on facility id, keeps the
// dwellings and assigns each one the parcel that contains (or most overlaps)
// its footprint. Dwellings that land on no parcel are kept unassigned so they
// still exclude every parcel. Empty or unrepairable footprints are dropped with
// a warning. Duplicate or missing facility ids are InputSchemaErrors rather
// than a silent pick.
func (r *DwellingResolver) Resolve(buildings []models.Building, useRecords []models.UseRecord, parcels *spatial.Index) (*ResolveResult, error) {
	useByFacility := make(map[string]models.UseRecord, len(useRecords))
	for _, rec := range useRecords {
		if rec.FacilityID == "" {
			return nil, &models.InputSchemaError{Entity: "use record", Field: "facility_id", Reason: "missing"}
		}
		if _, dup := useByFacility[rec.FacilityID]; dup {
			return nil, &models.InputSchemaError{Entity: "use record", Field: "facility_id", EntityID: rec.FacilityID, Reason: "matches multiple use records"}
		}
		useByFacility[rec.FacilityID] = rec
	}

	result := &ResolveResult{
		Dropped: map[string]int{
			models.DropNoUseRecord:    0,
			models.DropNonDwellingUse: 0,
			models.DropEmptyGeometry:  0,
			models.DropGeometryError:  0,
		},
		Dwellings:      make([]models.Dwelling, 0),
		BuildingsTotal: len(buildings),
	}
	seen := make(map[string]struct{}, len(buildings))

	for _, b := range buildings {
		if b.FacilityID == "" {
			return nil, &models.InputSchemaError{Entity: "building", Field: "facility_id", Reason: "missing"}
		}
		if _, dup := seen[b.FacilityID]; dup {
			return nil, &models.InputSchemaError{Entity: "building", Field: "facility_id", EntityID: b.FacilityID, Reason: "matches multiple buildings"}
		}
		seen[b.FacilityID] = struct{}{}
		if b.Geometry.IsZero() {
			return nil, &models.InputSchemaError{Entity: "building", Field: "geometry", EntityID: b.FacilityID, Reason: "missing"}
		}

		rec, ok := useByFacility[b.FacilityID]
		if !ok {
			result.Dropped[models.DropNoUseRecord]++
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:     models.WarningNoUseRecord,
				EntityID: b.FacilityID,
			})
			continue
		}
		if _, dwelling := r.uses[rec.UseClass]; !dwelling {
			result.Dropped[models.DropNonDwellingUse]++
			continue
		}

		if b.Geometry.Empty() {
			result.Dropped[models.DropEmptyGeometry]++
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:     models.WarningDroppedDwelling,
				EntityID: b.FacilityID,
				Detail:   "empty dwelling footprint",
			})
			continue
		}

		footprint, repaired, err := repairFootprint(b.Geometry)
		if err != nil {
			result.Dropped[models.DropGeometryError]++
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:     models.WarningDroppedDwelling,
				EntityID: b.FacilityID,
				Detail:   err.Error(),
			})
			continue
		}
		if repaired {
			result.Repaired++
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:     models.WarningRepairedGeometry,
				EntityID: b.FacilityID,
				Detail:   "invalid dwelling footprint repaired",
			})
		}

		d := models.Dwelling{
			Building: models.Building{FacilityID: b.FacilityID, Geometry: footprint},
			UseClass: rec.UseClass,
			Units:    rec.Units,
		}
		if parentID, found := parcels.ContainingOrMostOverlapping(footprint.Geom); found {
			d.ParentParcelID = parentID
		} else {
			result.Unassigned++
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:     models.WarningUnassignedDwelling,
				EntityID: b.FacilityID,
				Detail:   "no containing parcel; excludes every parcel",
			})
		}
		result.Dwellings = append(result.Dwellings, d)
	}

	r.log.Info("Dwellings resolved", map[string]interface{}{
		"buildings":        len(buildings),
		"dwellings":        len(result.Dwellings),
		"unassigned":       result.Unassigned,
		"no_use_record":    result.Dropped[models.DropNoUseRecord],
		"non_dwelling_use": result.Dropped[models.DropNonDwellingUse],
		"empty_geometry":   result.Dropped[models.DropEmptyGeometry],
		"geometry_error":   result.Dropped[models.DropGeometryError],
		"repaired":         result.Repaired,
	})

	return result, nil
}

// repairFootprint returns a valid footprint. An invalid one is made valid, and
// if that collapses it, replaced by its envelope so the dwelling still excludes
// at least the area it originally covered.
func repairFootprint(g models.Geometry) (fixed models.Geometry, repaired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", models.ErrGeometry, r)
		}
	}()

	if g.IsValid() {
		return g, false, nil
	}
	valid := g.MakeValid()
	if valid.IsEmpty() || valid.Area() == 0 {
		env := g.Envelope()
		if env.IsEmpty() {
			return models.Geometry{}, false, fmt.Errorf("%w: footprint collapsed during repair", models.ErrGeometry)
		}
		return models.NewGeometry(env), true, nil
	}
	return models.NewGeometry(valid), true, nil
}

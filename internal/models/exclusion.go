package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Parcel status values derived from an ExclusionResult.
const (
	StatusAllowed    = "allowed"
	StatusPartial    = "partial"
	StatusProhibited = "prohibited"
)

// StatusNonResidential marks a parcel that never entered the computation.
const StatusNonResidential = "non_residential"

// ExclusionResult is the allowed/prohibited partition of one residential parcel.
// Full equals Allowed ∪ Prohibited within tolerance and the two parts do not
// overlap. Allowed may be empty but is never missing.
type ExclusionResult struct {
	Full           Geometry `json:"full_geometry"`
	Allowed        Geometry `json:"allowed_geometry"`
	Prohibited     Geometry `json:"prohibited_geometry"`
	ParcelID       string   `json:"parcel_id"`
	FullArea       float64  `json:"full_area"`
	AllowedArea    float64  `json:"allowed_area"`
	ProhibitedArea float64  `json:"prohibited_area"`
	// ExternalDwellings is the number of buffers subtracted from the parcel.
	ExternalDwellings int `json:"external_dwellings"`
	// DroppedArea is the sliver area removed from Prohibited by cleanup; it
	// belongs to neither output.
	DroppedArea float64 `json:"dropped_area,omitempty"`
	// Degraded is set when input geometry had to be repaired first.
	Degraded bool `json:"degraded,omitempty"`
}

// Status classifies the result as allowed, partial or prohibited.
func (r ExclusionResult) Status() string {
	switch {
	case r.Allowed.Empty():
		return StatusProhibited
	case r.Prohibited.Empty():
		return StatusAllowed
	default:
		return StatusPartial
	}
}

// Warning kinds for joins that could not be resolved. None of them is fatal.
const (
	WarningUnknownZoning      = "unknown_zoning"
	WarningNoUseRecord        = "no_use_record"
	WarningUnassignedDwelling = "unassigned_dwelling"
	WarningRepairedGeometry   = "repaired_geometry"
	WarningDroppedDwelling    = "dropped_dwelling"
)

// Warning records an unresolved join or a repaired input so operators can see it.
type Warning struct {
	Kind     string `json:"kind" yaml:"kind"`
	EntityID string `json:"entity_id" yaml:"entity_id"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Reasons used in Summary.ParcelsSkipped and Summary.BuildingsDropped.
const (
	SkipGeometryError    = "geometry_error"
	SkipConsistencyError = "consistency_error"
	SkipCancelled        = "cancelled"

	DropNoUseRecord    = "no_use_record"
	DropNonDwellingUse = "non_dwelling_use"
	DropEmptyGeometry  = "empty_geometry"
	DropGeometryError  = "geometry_error"
)

// Summary is the operator-facing account of a run.
type Summary struct {
	ParcelsSkipped      map[string]int `json:"parcels_skipped" yaml:"parcels_skipped"`
	BuildingsDropped    map[string]int `json:"buildings_dropped" yaml:"buildings_dropped"`
	Warnings            []Warning      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	WarningsTotal       int            `json:"warnings_total" yaml:"warnings_total"`
	ParcelsTotal        int            `json:"parcels_total" yaml:"parcels_total"`
	Residential         int            `json:"residential" yaml:"residential"`
	NonResidential      int            `json:"non_residential" yaml:"non_residential"`
	UnknownZoning       int            `json:"unknown_zoning" yaml:"unknown_zoning"`
	ParcelsProcessed    int            `json:"parcels_processed" yaml:"parcels_processed"`
	ParcelsWithAllowed  int            `json:"parcels_with_allowed" yaml:"parcels_with_allowed"`
	ParcelsDegraded     int            `json:"parcels_degraded" yaml:"parcels_degraded"`
	BuildingsTotal      int            `json:"buildings_total" yaml:"buildings_total"`
	Dwellings           int            `json:"dwellings" yaml:"dwellings"`
	DwellingsUnassigned int            `json:"dwellings_unassigned" yaml:"dwellings_unassigned"`
}

// NewSummary returns a Summary with its maps initialised.
func NewSummary() Summary {
	return Summary{
		ParcelsSkipped:   make(map[string]int),
		BuildingsDropped: make(map[string]int),
	}
}

// SkippedTotal returns the number of residential parcels without a result.
func (s Summary) SkippedTotal() int {
	total := 0
	for _, n := range s.ParcelsSkipped {
		total += n
	}
	return total
}

// DroppedTotal returns the number of buildings that exert no exclusion.
func (s Summary) DroppedTotal() int {
	total := 0
	for _, n := range s.BuildingsDropped {
		total += n
	}
	return total
}

// ExclusionSet is the assembled output of one run.
type ExclusionSet struct {
	CreatedAt      time.Time         `json:"created_at"`
	Boundary       Geometry          `json:"boundary"`
	Results        []ExclusionResult `json:"results"`
	NonResidential []Parcel          `json:"-"`
	Summary        Summary           `json:"summary"`
	Radius         float64           `json:"radius"`
	RunID          uuid.UUID         `json:"run_id"`
}

// Find returns the result for a parcel id. Results are sorted by ParcelID.
func (s *ExclusionSet) Find(parcelID string) (*ExclusionResult, bool) {
	i := sort.Search(len(s.Results), func(i int) bool {
		return s.Results[i].ParcelID >= parcelID
	})
	if i < len(s.Results) && s.Results[i].ParcelID == parcelID {
		return &s.Results[i], true
	}
	return nil, false
}

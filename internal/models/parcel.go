package models

import "strings"

// Parcel is a cadastral land unit with its zoning classification.
// Parcels are immutable once loaded.
type Parcel struct {
	Geometry   Geometry `json:"geometry"`
	ID         string   `json:"parcel_id"`
	ZoningCode string   `json:"zoning"`
}

// ZoningRule marks a zoning code as residential or not.
type ZoningRule struct {
	Code          string `json:"code"`
	Description   string `json:"description,omitempty"`
	IsResidential bool   `json:"is_residential"`
}

// NewZoningRule derives a rule from a zoning code table entry.
// A code is residential iff its normalized form starts with "R".
func NewZoningRule(code, description string) ZoningRule {
	normalized := NormalizeZoningCode(code)
	return ZoningRule{
		Code:          normalized,
		Description:   description,
		IsResidential: strings.HasPrefix(normalized, "R"),
	}
}

// NormalizeZoningCode strips all whitespace so that "R 8" and "R8" match.
func NormalizeZoningCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// Building is a building footprint keyed by facility id.
type Building struct {
	Geometry   Geometry `json:"geometry"`
	FacilityID string   `json:"facility_id"`
}

// UseRecord is one row of the building use classification table.
type UseRecord struct {
	FacilityID string `json:"facility_id"`
	UseClass   string `json:"use_class"`
	Units      int    `json:"units,omitempty"`
}

// Dwelling is a building used as living space. ParentParcelID is empty when
// the dwelling could not be placed on any parcel.
type Dwelling struct {
	Building
	UseClass       string `json:"use_class"`
	ParentParcelID string `json:"parent_parcel_id,omitempty"`
	Units          int    `json:"units,omitempty"`
}

// Assigned reports whether the dwelling was resolved to a parcel.
func (d Dwelling) Assigned() bool {
	return d.ParentParcelID != ""
}

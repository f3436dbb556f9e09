package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds of a run. The typed errors below unwrap
// to one of these so callers can use errors.Is without knowing the type.
var (
	ErrInputSchema = errors.New("input schema error")
	ErrGeometry    = errors.New("geometry error")
	ErrConsistency = errors.New("consistency error")
)

// InputSchemaError reports a required field or join key that is absent or
// ambiguous. It is fatal: no partial output is produced.
type InputSchemaError struct {
	Entity   string
	Field    string
	EntityID string
	Reason   string
}

func (e *InputSchemaError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s %q field %s: %s", ErrInputSchema, e.Entity, e.EntityID, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s field %s: %s", ErrInputSchema, e.Entity, e.Field, e.Reason)
}

func (e *InputSchemaError) Unwrap() error { return ErrInputSchema }

// GeometryError reports geometry that prevented the computation for one parcel.
type GeometryError struct {
	Err      error
	ParcelID string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: parcel %q: %v", ErrGeometry, e.ParcelID, e.Err)
}

func (e *GeometryError) Unwrap() []error { return []error{ErrGeometry, e.Err} }

// ConsistencyError reports a result whose allowed and prohibited parts do not
// partition the parcel within tolerance.
type ConsistencyError struct {
	ParcelID    string
	FullArea    float64
	UnionArea   float64
	OverlapArea float64
	Tolerance   float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: parcel %q: full area %.6f, allowed∪prohibited %.6f, overlap %.6f (tolerance %.6f)",
		ErrConsistency, e.ParcelID, e.FullArea, e.UnionArea, e.OverlapArea, e.Tolerance)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }


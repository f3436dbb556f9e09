package services

import "errors"

// Service-level errors
var (
	ErrNoResults      = errors.New("no exclusion results available")
	ErrRunInFlight    = errors.New("an exclusion run is already in progress")
	ErrParcelNotFound = errors.New("parcel not found")
)

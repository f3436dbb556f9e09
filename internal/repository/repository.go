package repository

import (
	"context"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// InputRepository loads the inputs of an exclusion run.
type InputRepository interface {
	// LoadParcels returns every parcel with its zoning code.
	LoadParcels(ctx context.Context) ([]models.Parcel, error)

	// LoadZoningRules returns the zoning code table.
	LoadZoningRules(ctx context.Context) ([]models.ZoningRule, error)

	// LoadBuildings returns every building footprint.
	LoadBuildings(ctx context.Context) ([]models.Building, error)

	// LoadUseRecords returns the building use classification table.
	LoadUseRecords(ctx context.Context) ([]models.UseRecord, error)

	// LoadBoundary returns the city boundary, or a zero Geometry when none is
	// configured. The boundary is only used for rendering.
	LoadBoundary(ctx context.Context) (models.Geometry, error)
}

// ResultRepository persists the results of a run.
type ResultRepository interface {
	// SaveResults stores the run and all of its results atomically.
	SaveResults(ctx context.Context, set *models.ExclusionSet) error
}

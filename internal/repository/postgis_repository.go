package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/coopzone/internal/database"
	"github.com/stwalsh4118/coopzone/internal/models"
)

// postgisRepository reads run inputs from PostGIS tables. Geometries travel
// as GeoJSON so they decode through models.Geometry's Scanner.
type postgisRepository struct {
	db *database.Database
}

// NewPostGISRepository creates an InputRepository backed by the tables
// parcels, zoning_codes, buildings, building_uses and boundary.
func NewPostGISRepository(db *database.Database) InputRepository {
	return &postgisRepository{db: db}
}

// LoadParcels returns all parcels ordered by id.
func (r *postgisRepository) LoadParcels(ctx context.Context) ([]models.Parcel, error) {
	query := `
		SELECT
			parcel_id::text,
			COALESCE(zoning, ''),
			ST_AsGeoJSON(geom)
		FROM parcels
		ORDER BY parcel_id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query parcels: %w", err)
	}
	defer rows.Close()

	parcels := make([]models.Parcel, 0)
	for rows.Next() {
		var p models.Parcel
		if err := rows.Scan(&p.ID, &p.ZoningCode, &p.Geometry); err != nil {
			return nil, fmt.Errorf("failed to scan parcel row: %w", err)
		}
		parcels = append(parcels, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parcel rows: %w", err)
	}

	return parcels, nil
}

// LoadZoningRules returns the zoning code table.
func (r *postgisRepository) LoadZoningRules(ctx context.Context) ([]models.ZoningRule, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT code, COALESCE(description, '') FROM zoning_codes ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zoning codes: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ZoningRule, error) {
		var code, description string
		if err := row.Scan(&code, &description); err != nil {
			return models.ZoningRule{}, err
		}
		return models.NewZoningRule(code, description), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan zoning codes: %w", err)
	}

	return rules, nil
}

// LoadBuildings returns all building footprints ordered by facility id.
func (r *postgisRepository) LoadBuildings(ctx context.Context) ([]models.Building, error) {
	query := `
		SELECT
			facility_id::text,
			ST_AsGeoJSON(geom)
		FROM buildings
		ORDER BY facility_id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query buildings: %w", err)
	}
	defer rows.Close()

	buildings := make([]models.Building, 0)
	for rows.Next() {
		var b models.Building
		if err := rows.Scan(&b.FacilityID, &b.Geometry); err != nil {
			return nil, fmt.Errorf("failed to scan building row: %w", err)
		}
		buildings = append(buildings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating building rows: %w", err)
	}

	return buildings, nil
}

// LoadUseRecords returns the use table. A missing unit count means one unit.
func (r *postgisRepository) LoadUseRecords(ctx context.Context) ([]models.UseRecord, error) {
	query := `
		SELECT
			facility_id::text,
			COALESCE(use_class, ''),
			COALESCE(units, 1)
		FROM building_uses
		ORDER BY facility_id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query building uses: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.UseRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan building uses: %w", err)
	}

	return records, nil
}

// LoadBoundary returns the union of the boundary table, or a zero Geometry
// when the table is empty.
func (r *postgisRepository) LoadBoundary(ctx context.Context) (models.Geometry, error) {
	var boundary models.Geometry
	err := r.db.Pool.QueryRow(ctx, `SELECT ST_AsGeoJSON(ST_Union(geom)) FROM boundary`).Scan(&boundary)
	if err != nil {
		return models.Geometry{}, fmt.Errorf("failed to query boundary: %w", err)
	}
	return boundary, nil
}

// resultRepository writes runs to exclusion_runs and exclusion_results.
type resultRepository struct {
	db *database.Database
}

// NewResultRepository creates a ResultRepository backed by PostGIS.
func NewResultRepository(db *database.Database) ResultRepository {
	return &resultRepository{db: db}
}

// SaveResults writes the run row and one row per result in a single
// transaction. Geometries are stored without an SRID since coordinates stay
// in the input's projected system.
func (r *resultRepository) SaveResults(ctx context.Context, set *models.ExclusionSet) error {
	summary, err := json.Marshal(set.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	insertResult := `
		INSERT INTO exclusion_results (
			run_id, parcel_id, status,
			full_area, allowed_area, prohibited_area,
			external_dwellings, degraded,
			full_geom, allowed_geom, prohibited_geom
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			ST_SetSRID(ST_GeomFromGeoJSON($9), 0),
			ST_SetSRID(ST_GeomFromGeoJSON($10), 0),
			ST_SetSRID(ST_GeomFromGeoJSON($11), 0)
		)
	`

	err = pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO exclusion_runs (run_id, created_at, radius, summary) VALUES ($1, $2, $3, $4)`,
			set.RunID, set.CreatedAt, set.Radius, summary,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for _, res := range set.Results {
			batch.Queue(insertResult,
				set.RunID, res.ParcelID, res.Status(),
				res.FullArea, res.AllowedArea, res.ProhibitedArea,
				res.ExternalDwellings, res.Degraded,
				res.Full, res.Allowed, res.Prohibited,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert results: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", set.RunID, err)
	}

	return nil
}

package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stwalsh4118/coopzone/internal/models"
)

const parcelsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"OBJECTID": 101, "ZONING": "R 8"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[100,0],[100,100],[0,100],[0,0]]]}},
    {"type": "Feature", "properties": {"OBJECTID": "102", "ZONING": null},
     "geometry": {"type": "Polygon", "coordinates": [[[100,0],[200,0],[200,100],[100,100],[100,0]]]}}
  ]
}`

const buildingsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"FACILITYID": 7001},
     "geometry": {"type": "Polygon", "coordinates": [[[45,45],[55,45],[55,55],[45,55],[45,45]]]}},
    {"type": "Feature", "properties": {"FACILITYID": 7002}, "geometry": null}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileRepository_LoadParcels(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(FileOptions{ParcelsPath: writeFile(t, dir, "parcels.geojson", parcelsGeoJSON)})

	parcels, err := repo.LoadParcels(context.Background())
	require.NoError(t, err)
	require.Len(t, parcels, 2)

	assert.Equal(t, "101", parcels[0].ID, "Expected numeric ids to read without a fraction")
	assert.Equal(t, "R 8", parcels[0].ZoningCode)
	assert.InDelta(t, 10000, parcels[0].Geometry.Area(), 1e-9)

	assert.Equal(t, "102", parcels[1].ID)
	assert.Equal(t, "", parcels[1].ZoningCode, "Expected null zoning to read as blank")
}

func TestFileRepository_MissingProperty(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(FileOptions{
		ParcelsPath: writeFile(t, dir, "parcels.geojson", parcelsGeoJSON),
		ZoningField: "ZONE_CLASS",
	})

	_, err := repo.LoadParcels(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInputSchema))

	var schemaErr *models.InputSchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "ZONE_CLASS", schemaErr.Field)
}

func TestFileRepository_NotAFeatureCollection(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(FileOptions{
		ParcelsPath: writeFile(t, dir, "parcels.geojson", `{"type": "Feature", "properties": {}}`),
	})

	_, err := repo.LoadParcels(context.Background())
	assert.True(t, errors.Is(err, models.ErrInputSchema))
}

func TestFileRepository_LoadBuildings(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(FileOptions{BuildingsPath: writeFile(t, dir, "buildings.geojson", buildingsGeoJSON)})

	buildings, err := repo.LoadBuildings(context.Background())
	require.NoError(t, err)
	require.Len(t, buildings, 2)
	assert.Equal(t, "7001", buildings[0].FacilityID)
	assert.False(t, buildings[0].Geometry.IsZero())
	assert.True(t, buildings[1].Geometry.IsZero(), "Expected null geometry to stay missing")
}

func TestFileRepository_LoadBoundary(t *testing.T) {
	dir := t.TempDir()

	t.Run("unions features", func(t *testing.T) {
		repo := NewFileRepository(FileOptions{BoundaryPath: writeFile(t, dir, "boundary.geojson", parcelsGeoJSON)})
		boundary, err := repo.LoadBoundary(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 20000, boundary.Area(), 1e-9)
	})

	t.Run("no boundary configured", func(t *testing.T) {
		repo := NewFileRepository(FileOptions{})
		boundary, err := repo.LoadBoundary(context.Background())
		require.NoError(t, err)
		assert.True(t, boundary.IsZero())
	})
}

func TestFileRepository_LoadZoningRulesCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zoning.csv", "\ufeffZONING,DESCRIPTION\nR 8,Single family\nC1,Commercial\n,\n")
	repo := NewFileRepository(FileOptions{ZoningTablePath: path})

	rules, err := repo.LoadZoningRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2, "Expected blank rows to be skipped")

	assert.Equal(t, "R8", rules[0].Code)
	assert.True(t, rules[0].IsResidential)
	assert.Equal(t, "Single family", rules[0].Description)
	assert.False(t, rules[1].IsResidential)
}

func TestFileRepository_LoadUseRecordsCSV(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid table", func(t *testing.T) {
		path := writeFile(t, dir, "uses.csv", "FACILITYID,UUSE,UNITS\n7001.0,Household,\n7002,Household,4\n7003,Retail,0\n")
		repo := NewFileRepository(FileOptions{UseTablePath: path})

		records, err := repo.LoadUseRecords(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, models.UseRecord{FacilityID: "7001", UseClass: "Household", Units: 1}, records[0])
		assert.Equal(t, 4, records[1].Units)
		assert.Equal(t, "Retail", records[2].UseClass)
	})

	t.Run("missing column", func(t *testing.T) {
		path := writeFile(t, dir, "uses_bad.csv", "FACILITYID,USE\n7001,Household\n")
		repo := NewFileRepository(FileOptions{UseTablePath: path})

		_, err := repo.LoadUseRecords(context.Background())
		var schemaErr *models.InputSchemaError
		require.True(t, errors.As(err, &schemaErr))
		assert.Equal(t, ColumnUseClass, schemaErr.Field)
	})

	t.Run("invalid units", func(t *testing.T) {
		tests := []struct {
			name  string
			units string
		}{
			{name: "not a number", units: "many"},
			{name: "negative", units: "-1"},
			{name: "fractional", units: "1.5"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := writeFile(t, dir, "uses_units.csv", "FACILITYID,UUSE,UNITS\n7001,Household,"+tt.units+"\n")
				repo := NewFileRepository(FileOptions{UseTablePath: path})

				_, err := repo.LoadUseRecords(context.Background())
				assert.True(t, errors.Is(err, models.ErrInputSchema))
			})
		}
	})

	t.Run("whole float units", func(t *testing.T) {
		path := writeFile(t, dir, "uses_float.csv", "FACILITYID,UUSE,UNITS\n7001,Household,2.0\n")
		repo := NewFileRepository(FileOptions{UseTablePath: path})

		records, err := repo.LoadUseRecords(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 2, records[0].Units)
	})

	t.Run("blank rows are skipped", func(t *testing.T) {
		path := writeFile(t, dir, "uses_blank.csv", "FACILITYID,UUSE,UNITS\n7001,Household,1\n , ,\n,,\n")
		repo := NewFileRepository(FileOptions{UseTablePath: path})

		records, err := repo.LoadUseRecords(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "7001", records[0].FacilityID)
	})
}

func TestFileRepository_LoadUseRecordsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uses.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"FACILITYID", "UUSE", "UNITS"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{7001, "Household", 2}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{7002, "Garage"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	repo := NewFileRepository(FileOptions{UseTablePath: path})
	records, err := repo.LoadUseRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.UseRecord{FacilityID: "7001", UseClass: "Household", Units: 2}, records[0])
	assert.Equal(t, models.UseRecord{FacilityID: "7002", UseClass: "Garage", Units: 1}, records[1])
}

func TestFileRepository_UnsupportedTable(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(FileOptions{ZoningTablePath: writeFile(t, dir, "zoning.dbf", "")})

	_, err := repo.LoadZoningRules(context.Background())
	assert.Error(t, err)
}

func TestFileRepository_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(FileOptions{ParcelsPath: writeFile(t, dir, "parcels.geojson", parcelsGeoJSON)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.LoadParcels(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

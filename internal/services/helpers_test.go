package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
)

const areaDelta = 1e-6

// rect returns the WKT of an axis-aligned rectangle.
func rect(minX, minY, maxX, maxY float64) string {
	return fmt.Sprintf("POLYGON((%g %g, %g %g, %g %g, %g %g, %g %g))",
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY)
}

func mustGeometry(t testing.TB, wkt string) models.Geometry {
	t.Helper()
	g, err := models.ParseWKT(wkt)
	require.NoError(t, err)
	return g
}

func testParcel(t testing.TB, id, zoning, wkt string) models.Parcel {
	t.Helper()
	return models.Parcel{ID: id, ZoningCode: zoning, Geometry: mustGeometry(t, wkt)}
}

func testBuilding(t testing.TB, id, wkt string) models.Building {
	t.Helper()
	return models.Building{FacilityID: id, Geometry: mustGeometry(t, wkt)}
}

func testDwelling(t testing.TB, id, parent, wkt string) models.Dwelling {
	t.Helper()
	return models.Dwelling{
		Building:       testBuilding(t, id, wkt),
		UseClass:       DefaultDwellingUse,
		ParentParcelID: parent,
		Units:          1,
	}
}

// mockInputRepository is a testify mock of repository.InputRepository.
type mockInputRepository struct {
	mock.Mock
}

func (m *mockInputRepository) LoadParcels(ctx context.Context) ([]models.Parcel, error) {
	args := m.Called(ctx)
	parcels, _ := args.Get(0).([]models.Parcel)
	return parcels, args.Error(1)
}

func (m *mockInputRepository) LoadZoningRules(ctx context.Context) ([]models.ZoningRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]models.ZoningRule)
	return rules, args.Error(1)
}

func (m *mockInputRepository) LoadBuildings(ctx context.Context) ([]models.Building, error) {
	args := m.Called(ctx)
	buildings, _ := args.Get(0).([]models.Building)
	return buildings, args.Error(1)
}

func (m *mockInputRepository) LoadUseRecords(ctx context.Context) ([]models.UseRecord, error) {
	args := m.Called(ctx)
	uses, _ := args.Get(0).([]models.UseRecord)
	return uses, args.Error(1)
}

func (m *mockInputRepository) LoadBoundary(ctx context.Context) (models.Geometry, error) {
	args := m.Called(ctx)
	boundary, _ := args.Get(0).(models.Geometry)
	return boundary, args.Error(1)
}

// mockResultRepository is a testify mock of repository.ResultRepository.
type mockResultRepository struct {
	mock.Mock
}

func (m *mockResultRepository) SaveResults(ctx context.Context, set *models.ExclusionSet) error {
	return m.Called(ctx, set).Error(0)
}

// mockExclusionService is a testify mock of ExclusionService.
type mockExclusionService struct {
	mock.Mock
}

func (m *mockExclusionService) Run(ctx context.Context) (*models.ExclusionSet, error) {
	args := m.Called(ctx)
	set, _ := args.Get(0).(*models.ExclusionSet)
	return set, args.Error(1)
}

func testLogger() *logger.Logger {
	return logger.Nop()
}

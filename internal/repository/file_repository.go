package repository

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// Table column names for the zoning and use tables.
const (
	ColumnZoning      = "ZONING"
	ColumnDescription = "DESCRIPTION"
	ColumnUseClass    = "UUSE"
	ColumnUnits       = "UNITS"
)

// FileOptions locates the input files and names the properties that carry
// the join keys.
type FileOptions struct {
	ParcelsPath     string
	BuildingsPath   string
	BoundaryPath    string
	ZoningTablePath string
	UseTablePath    string
	ParcelIDField   string
	ZoningField     string
	FacilityIDField string
}

type fileRepository struct {
	opts FileOptions
}

// NewFileRepository creates an InputRepository that reads GeoJSON feature
// collections and CSV or XLSX tables.
func NewFileRepository(opts FileOptions) InputRepository {
	if opts.ParcelIDField == "" {
		opts.ParcelIDField = "OBJECTID"
	}
	if opts.ZoningField == "" {
		opts.ZoningField = ColumnZoning
	}
	if opts.FacilityIDField == "" {
		opts.FacilityIDField = "FACILITYID"
	}
	return &fileRepository{opts: opts}
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Properties map[string]interface{} `json:"properties"`
	Geometry   json.RawMessage        `json:"geometry"`
}

// LoadParcels reads the parcel feature collection.
func (r *fileRepository) LoadParcels(ctx context.Context) ([]models.Parcel, error) {
	features, err := readFeatures(ctx, r.opts.ParcelsPath)
	if err != nil {
		return nil, err
	}

	parcels := make([]models.Parcel, 0, len(features))
	for i, f := range features {
		id, err := requiredProperty(f, "parcel", r.opts.ParcelIDField, i)
		if err != nil {
			return nil, err
		}
		zoning, err := requiredProperty(f, "parcel", r.opts.ZoningField, i)
		if err != nil {
			return nil, err
		}
		geom, err := featureGeometry(f)
		if err != nil {
			return nil, fmt.Errorf("parcel %q: %w", id, err)
		}
		parcels = append(parcels, models.Parcel{ID: id, ZoningCode: zoning, Geometry: geom})
	}

	return parcels, nil
}

// LoadBuildings reads the building footprint feature collection.
func (r *fileRepository) LoadBuildings(ctx context.Context) ([]models.Building, error) {
	features, err := readFeatures(ctx, r.opts.BuildingsPath)
	if err != nil {
		return nil, err
	}

	buildings := make([]models.Building, 0, len(features))
	for i, f := range features {
		id, err := requiredProperty(f, "building", r.opts.FacilityIDField, i)
		if err != nil {
			return nil, err
		}
		geom, err := featureGeometry(f)
		if err != nil {
			return nil, fmt.Errorf("building %q: %w", id, err)
		}
		buildings = append(buildings, models.Building{FacilityID: id, Geometry: geom})
	}

	return buildings, nil
}

// LoadBoundary unions the features of the boundary file. Without a boundary
// path it returns a zero Geometry.
func (r *fileRepository) LoadBoundary(ctx context.Context) (boundary models.Geometry, err error) {
	if r.opts.BoundaryPath == "" {
		return models.Geometry{}, nil
	}
	features, err := readFeatures(ctx, r.opts.BoundaryPath)
	if err != nil {
		return models.Geometry{}, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: boundary union: %v", models.ErrGeometry, rec)
		}
	}()

	for _, f := range features {
		geom, err := featureGeometry(f)
		if err != nil {
			return models.Geometry{}, fmt.Errorf("boundary: %w", err)
		}
		if geom.IsZero() {
			continue
		}
		if boundary.IsZero() {
			boundary = geom
		} else {
			boundary = models.NewGeometry(boundary.Union(geom.Geom))
		}
	}
	return boundary, nil
}

// LoadZoningRules reads the zoning code table.
func (r *fileRepository) LoadZoningRules(ctx context.Context) ([]models.ZoningRule, error) {
	t, err := readTable(ctx, r.opts.ZoningTablePath)
	if err != nil {
		return nil, err
	}
	codeCol, err := t.column("zoning rule", ColumnZoning)
	if err != nil {
		return nil, err
	}
	descCol := t.optionalColumn(ColumnDescription)

	rules := make([]models.ZoningRule, 0, len(t.rows))
	for _, row := range t.rows {
		code := cell(row, codeCol)
		if strings.TrimSpace(code) == "" {
			continue
		}
		rules = append(rules, models.NewZoningRule(code, cell(row, descCol)))
	}
	return rules, nil
}

// LoadUseRecords reads the building use table. Fully blank rows are skipped.
// A blank unit count means one unit; other counts must be whole numbers.
func (r *fileRepository) LoadUseRecords(ctx context.Context) ([]models.UseRecord, error) {
	t, err := readTable(ctx, r.opts.UseTablePath)
	if err != nil {
		return nil, err
	}
	idCol, err := t.column("use record", r.opts.FacilityIDField)
	if err != nil {
		return nil, err
	}
	useCol, err := t.column("use record", ColumnUseClass)
	if err != nil {
		return nil, err
	}
	unitsCol := t.optionalColumn(ColumnUnits)

	records := make([]models.UseRecord, 0, len(t.rows))
	for _, row := range t.rows {
		if blankRow(row) {
			continue
		}
		rec := models.UseRecord{
			FacilityID: normalizeID(cell(row, idCol)),
			UseClass:   strings.TrimSpace(cell(row, useCol)),
			Units:      1,
		}
		if raw := strings.TrimSpace(cell(row, unitsCol)); raw != "" {
			units, err := strconv.ParseFloat(raw, 64)
			if err != nil || units < 0 || units != math.Trunc(units) {
				return nil, &models.InputSchemaError{
					Entity: "use record", Field: ColumnUnits, EntityID: rec.FacilityID,
					Reason: fmt.Sprintf("invalid unit count %q", raw),
				}
			}
			rec.Units = int(units)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readFeatures(ctx context.Context, path string) ([]feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fc featureCollection
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode GeoJSON %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, &models.InputSchemaError{Entity: filepath.Base(path), Field: "type", Reason: fmt.Sprintf("expected FeatureCollection, got %q", fc.Type)}
	}
	return fc.Features, nil
}

// requiredProperty returns a feature property as a string. An absent key is
// an InputSchemaError; a null value reads as blank.
func requiredProperty(f feature, entity, name string, index int) (string, error) {
	v, ok := f.Properties[name]
	if !ok {
		return "", &models.InputSchemaError{
			Entity: entity, Field: name, EntityID: fmt.Sprintf("feature %d", index),
			Reason: "property missing",
		}
	}
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return normalizeID(val), nil
	case json.Number:
		return normalizeID(val.String()), nil
	default:
		return fmt.Sprint(val), nil
	}
}

func featureGeometry(f feature) (models.Geometry, error) {
	raw := bytes.TrimSpace(f.Geometry)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.Geometry{}, nil
	}
	return models.ParseGeoJSON(raw)
}

// normalizeID trims an identifier and drops the ".0" spreadsheets append to
// integer ids.
func normalizeID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(s, ".0")); err == nil {
			return strings.TrimSuffix(s, ".0")
		}
	}
	return s
}

type table struct {
	name   string
	header map[string]int
	rows   [][]string
}

func readTable(ctx context.Context, path string) (*table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		records, err = readXLSX(path)
	case ".csv", ".txt":
		records, err = readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported table format %q for %s", filepath.Ext(path), path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &models.InputSchemaError{Entity: filepath.Base(path), Field: "header", Reason: "table is empty"}
	}

	t := &table{name: filepath.Base(path), header: make(map[string]int, len(records[0]))}
	for i, h := range records[0] {
		t.header[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	t.rows = records[1:]
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// readXLSX reads the first sheet of a workbook.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s of %s: %w", sheets[0], path, err)
	}
	return rows, nil
}

func (t *table) column(entity, name string) (int, error) {
	i, ok := t.header[strings.ToUpper(name)]
	if !ok {
		return 0, &models.InputSchemaError{Entity: entity, Field: name, EntityID: t.name, Reason: "column missing"}
	}
	return i, nil
}

// optionalColumn returns -1 when the column is absent.
func (t *table) optionalColumn(name string) int {
	if i, ok := t.header[strings.ToUpper(name)]; ok {
		return i
	}
	return -1
}

// cell returns the value at i, or "" for short rows and absent columns.
// Spreadsheet rows drop trailing blank cells.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

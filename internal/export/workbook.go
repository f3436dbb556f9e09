package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// Sheet names of the workbook report.
const (
	SheetParcels  = "Parcels"
	SheetSummary  = "Summary"
	SheetWarnings = "Warnings"
)

var parcelHeaders = []string{
	"PARCEL_ID", "STATUS", "FULL_AREA", "ALLOWED_AREA", "PROHIB_AREA",
	"ALLOWED_SHARE", "ALLOWED_PARTS", "EXT_DWELL", "DEGRADED",
}

// WriteWorkbook writes an xlsx report with one row per parcel result, the
// run summary and the listed warnings.
func WriteWorkbook(w io.Writer, set *models.ExclusionSet) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SheetParcels); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(SheetParcels)
	if err != nil {
		return fmt.Errorf("failed to find sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeParcels(f, set, headerStyle); err != nil {
		return err
	}
	if err := writeSummary(f, set, headerStyle); err != nil {
		return err
	}
	if err := writeWarnings(f, set, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeParcels(f *excelize.File, set *models.ExclusionSet, headerStyle int) error {
	if err := writeHeader(f, SheetParcels, parcelHeaders, headerStyle); err != nil {
		return err
	}

	for i, r := range set.Results {
		share := 0.0
		if r.FullArea > 0 {
			share = r.AllowedArea / r.FullArea
		}
		row := []interface{}{
			r.ParcelID, r.Status(), r.FullArea, r.AllowedArea, r.ProhibitedArea,
			share, r.Allowed.Parts(), r.ExternalDwellings, r.Degraded,
		}
		if err := setRow(f, SheetParcels, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetParcels, "A", "I", 16); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetPanes(SheetParcels, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, set *models.ExclusionSet, headerStyle int) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, SheetSummary, []string{"METRIC", "VALUE"}, headerStyle); err != nil {
		return err
	}

	s := set.Summary
	rows := [][]interface{}{
		{"run_id", set.RunID.String()},
		{"created_at", set.CreatedAt},
		{"radius", set.Radius},
		{"parcels_total", s.ParcelsTotal},
		{"residential", s.Residential},
		{"non_residential", s.NonResidential},
		{"unknown_zoning", s.UnknownZoning},
		{"parcels_processed", s.ParcelsProcessed},
		{"parcels_with_allowed", s.ParcelsWithAllowed},
		{"parcels_degraded", s.ParcelsDegraded},
		{"buildings_total", s.BuildingsTotal},
		{"dwellings", s.Dwellings},
		{"dwellings_unassigned", s.DwellingsUnassigned},
		{"warnings_total", s.WarningsTotal},
	}
	rows = append(rows, countRows("parcels_skipped.", s.ParcelsSkipped)...)
	rows = append(rows, countRows("buildings_dropped.", s.BuildingsDropped)...)

	for i, row := range rows {
		if err := setRow(f, SheetSummary, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SheetSummary, "A", "B", 28); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return nil
}

func writeWarnings(f *excelize.File, set *models.ExclusionSet, headerStyle int) error {
	if _, err := f.NewSheet(SheetWarnings); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, SheetWarnings, []string{"KIND", "ENTITY_ID", "DETAIL"}, headerStyle); err != nil {
		return err
	}
	for i, w := range set.Summary.Warnings {
		if err := setRow(f, SheetWarnings, i+2, []interface{}{w.Kind, w.EntityID, w.Detail}); err != nil {
			return err
		}
	}
	return nil
}

// countRows flattens a reason map into sorted metric rows.
func countRows(prefix string, counts map[string]int) [][]interface{} {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]interface{}, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []interface{}{prefix + k, counts[k]})
	}
	return rows
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := setRow(f, sheet, 1, row); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

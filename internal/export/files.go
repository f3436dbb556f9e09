package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// Output file names inside the output directory.
const (
	ResultsFile  = "exclusions.geojson"
	WorkbookFile = "exclusions.xlsx"
	SummaryFile  = "summary.yaml"
	LayersDir    = "layers"
)

// Options selects the artifacts WriteAll produces.
type Options struct {
	GeoJSON  bool
	Workbook bool
	Summary  bool
}

// WriteAll writes the selected artifacts into dir and returns their paths.
// GeoJSON output includes one file per render layer.
func WriteAll(dir string, set *models.ExclusionSet, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	written := make([]string, 0)
	write := func(path string, fn func(io.Writer) error) error {
		if err := writeFile(path, fn); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if opts.GeoJSON {
		if err := write(filepath.Join(dir, ResultsFile), func(w io.Writer) error {
			return WriteGeoJSON(w, set)
		}); err != nil {
			return written, err
		}

		layerDir := filepath.Join(dir, LayersDir)
		if err := os.MkdirAll(layerDir, 0o755); err != nil {
			return written, fmt.Errorf("failed to create layer directory %s: %w", layerDir, err)
		}
		for _, layer := range BuildLayers(set) {
			fc := layer.Collection
			if err := write(filepath.Join(layerDir, layer.Name+".geojson"), func(w io.Writer) error {
				return json.NewEncoder(w).Encode(fc)
			}); err != nil {
				return written, err
			}
		}
	}

	if opts.Workbook {
		if err := write(filepath.Join(dir, WorkbookFile), func(w io.Writer) error {
			return WriteWorkbook(w, set)
		}); err != nil {
			return written, err
		}
	}

	if opts.Summary {
		if err := write(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
			return WriteSummary(w, set)
		}); err != nil {
			return written, err
		}
	}

	return written, nil
}

// writeFile writes through a temporary file so a failed export never leaves
// a truncated artifact behind.
func writeFile(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

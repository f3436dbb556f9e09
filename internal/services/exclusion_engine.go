package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/twpayne/go-geos"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
	"github.com/stwalsh4118/coopzone/internal/spatial"
)

// Engine defaults. The radius is in the linear unit of the input (feet).
const (
	DefaultRadius     = 200.0
	DefaultMitreLimit = 5.0
	bufferQuadSegs    = 8
)

// EngineConfig carries the ordinance parameters through every computation.
type EngineConfig struct {
	// Radius is the exclusion distance around each dwelling.
	Radius float64
	// MitreLimit bounds how far a sharp footprint corner's mitred join may
	// reach, as a multiple of Radius. Must be at least 1.
	MitreLimit float64
	// Workers is the number of parcel tasks in flight. GEOS calls on one
	// context are serialized, so more workers isolate failures and honour
	// cancellation sooner but do not parallelize the geometry work.
	Workers int
	// SliverArea drops polygon parts smaller than this from both outputs.
	// Zero disables the cleanup. The cleanup is lossy.
	SliverArea float64
	// RequireOwnDwelling prohibits the whole parcel when no dwelling stands on it.
	RequireOwnDwelling bool
	// MultiOccupancy makes a parcel's own dwellings exclude too when it holds
	// more than one dwelling or a multi-unit one.
	MultiOccupancy bool
	// ExcludeFootprints removes building footprints from the allowed area.
	ExcludeFootprints bool
}

// DefaultEngineConfig returns the ordinance defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Radius:     DefaultRadius,
		MitreLimit: DefaultMitreLimit,
		Workers:    runtime.NumCPU(),
	}
}

// Validate checks that the configuration is usable.
func (c EngineConfig) Validate() error {
	if c.Radius <= 0 {
		return fmt.Errorf("radius must be positive, got %f", c.Radius)
	}
	if c.MitreLimit < 1 {
		return fmt.Errorf("mitre limit must be at least 1, got %f", c.MitreLimit)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SliverArea < 0 {
		return fmt.Errorf("sliver area must be non-negative, got %f", c.SliverArea)
	}
	return nil
}

// ExclusionInput is the read-only input of one computation.
type ExclusionInput struct {
	// Parcels are the residential parcels only.
	Parcels   []models.Parcel
	Dwellings []models.Dwelling
	// Footprints are all building footprints, used with ExcludeFootprints.
	Footprints []models.Building
}

// ParcelFailure records a residential parcel that produced no result.
type ParcelFailure struct {
	Err      error
	ParcelID string
	Reason   string
}

// DwellingFailure records a dwelling whose buffer could not be built. It
// excludes nothing and does not count as its parcel's own dwelling.
type DwellingFailure struct {
	Err        error
	FacilityID string
	Unassigned bool
}

// EngineOutput holds per-parcel results in input order, plus failures.
type EngineOutput struct {
	Results          []models.ExclusionResult
	Failures         []ParcelFailure
	DroppedDwellings []DwellingFailure
}

// ExclusionEngine computes the allowed / prohibited partition of each
// residential parcel.
type ExclusionEngine struct {
	log *logger.Logger
	cfg EngineConfig
}

// NewExclusionEngine creates an engine after validating its configuration.
func NewExclusionEngine(cfg EngineConfig, log *logger.Logger) (*ExclusionEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &ExclusionEngine{cfg: cfg, log: log}, nil
}

// Config returns the engine configuration.
func (e *ExclusionEngine) Config() EngineConfig {
	return e.cfg
}

// exclusionContext is shared read-only state for one Compute call. It is fully
// built before any parcel task starts.
type exclusionContext struct {
	buffers    *spatial.Index
	footprints *spatial.Index
	dwellings  map[string]models.Dwelling
	own        map[string][]models.Dwelling
	dropped    []DwellingFailure
}

// Compute derives an ExclusionResult for every residential parcel. A parcel
// whose geometry cannot be processed is reported in Failures and the rest of
// the run continues. Cancelling ctx stops the run and returns its error.
func (e *ExclusionEngine) Compute(ctx context.Context, in ExclusionInput) (*EngineOutput, error) {
	start := time.Now()

	xc, err := e.prepare(in)
	if err != nil {
		return nil, err
	}

	results := make([]*models.ExclusionResult, len(in.Parcels))
	failures := make([]*ParcelFailure, len(in.Parcels))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i := range in.Parcels {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			parcel := in.Parcels[i]
			res, err := e.computeParcel(xc, parcel)
			if err != nil {
				failures[i] = &ParcelFailure{ParcelID: parcel.ID, Reason: models.SkipGeometryError, Err: err}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("exclusion computation cancelled: %w", err)
	}

	out := &EngineOutput{
		Results:          make([]models.ExclusionResult, 0, len(in.Parcels)),
		Failures:         make([]ParcelFailure, 0),
		DroppedDwellings: xc.dropped,
	}
	for i := range in.Parcels {
		switch {
		case results[i] != nil:
			out.Results = append(out.Results, *results[i])
		case failures[i] != nil:
			f := *failures[i]
			e.log.Warn("Parcel skipped", map[string]interface{}{
				"parcel_id": f.ParcelID,
				"reason":    f.Reason,
				"error":     f.Err.Error(),
			})
			out.Failures = append(out.Failures, f)
		}
	}

	e.log.Info("Exclusion zones computed", map[string]interface{}{
		"parcels":     len(in.Parcels),
		"dwellings":   len(in.Dwellings),
		"dropped":     len(out.DroppedDwellings),
		"results":     len(out.Results),
		"failures":    len(out.Failures),
		"radius":      e.cfg.Radius,
		"workers":     e.cfg.Workers,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return out, nil
}

// prepare buffers every dwelling once and builds the indexes. A dwelling whose
// buffer fails is dropped on its own and the rest of the run continues.
func (e *ExclusionEngine) prepare(in ExclusionInput) (*exclusionContext, error) {
	xc := &exclusionContext{
		dwellings: make(map[string]models.Dwelling, len(in.Dwellings)),
		own:       make(map[string][]models.Dwelling),
		dropped:   make([]DwellingFailure, 0),
	}

	seen := make(map[string]struct{}, len(in.Dwellings))
	items := make([]spatial.Item, 0, len(in.Dwellings))
	for _, d := range in.Dwellings {
		if _, dup := seen[d.FacilityID]; dup {
			return nil, &models.InputSchemaError{Entity: "dwelling", Field: "facility_id", EntityID: d.FacilityID, Reason: "duplicate id"}
		}
		seen[d.FacilityID] = struct{}{}

		buf, err := e.buffer(d.Geometry)
		if err != nil {
			e.log.Warn("Dwelling dropped", map[string]interface{}{
				"facility_id": d.FacilityID,
				"error":       err.Error(),
			})
			xc.dropped = append(xc.dropped, DwellingFailure{FacilityID: d.FacilityID, Unassigned: !d.Assigned(), Err: err})
			continue
		}

		xc.dwellings[d.FacilityID] = d
		if d.Assigned() {
			xc.own[d.ParentParcelID] = append(xc.own[d.ParentParcelID], d)
		}
		items = append(items, spatial.Item{ID: d.FacilityID, Geometry: buf})
	}
	xc.buffers = spatial.NewIndex(items)

	if e.cfg.ExcludeFootprints {
		fps := make([]spatial.Item, 0, len(in.Footprints))
		for _, b := range in.Footprints {
			fps = append(fps, spatial.Item{ID: b.FacilityID, Geometry: b.Geometry.Geom})
		}
		xc.footprints = spatial.NewIndex(fps)
	}

	return xc, nil
}

// buffer expands a footprint by the radius with square caps and mitred joins,
// so the boundary is built from straight offsets and square corners.
func (e *ExclusionEngine) buffer(footprint models.Geometry) (buf *geos.Geom, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: buffer: %v", models.ErrGeometry, r)
		}
	}()
	if footprint.Empty() {
		return nil, fmt.Errorf("%w: empty dwelling footprint", models.ErrGeometry)
	}
	buf = footprint.BufferWithStyle(e.cfg.Radius, bufferQuadSegs,
		geos.BufCapStyleSquare, geos.BufJoinStyleMitre, e.cfg.MitreLimit)
	if buf.IsEmpty() {
		return nil, fmt.Errorf("%w: buffer is empty", models.ErrGeometry)
	}
	return buf, nil
}

// computeParcel derives the partition of one parcel. GEOS failures surface as
// a GeometryError.
func (e *ExclusionEngine) computeParcel(xc *exclusionContext, parcel models.Parcel) (result *models.ExclusionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &models.GeometryError{ParcelID: parcel.ID, Err: fmt.Errorf("%v", r)}
		}
	}()

	full, degraded, err := parcelGeometry(parcel)
	if err != nil {
		return nil, &models.GeometryError{ParcelID: parcel.ID, Err: err}
	}

	own := xc.own[parcel.ID]
	external := 0
	var allowed *geos.Geom

	if e.cfg.RequireOwnDwelling && len(own) == 0 {
		allowed = models.EmptyPolygon().Geom
	} else {
		includeOwn := e.cfg.MultiOccupancy && multipleOccupancy(own)

		var exclusion *geos.Geom
		for _, item := range xc.buffers.Nearby(full, 0) {
			d := xc.dwellings[item.ID]
			if d.ParentParcelID == parcel.ID && !includeOwn {
				continue
			}
			external++
			if exclusion == nil {
				exclusion = item.Geometry
			} else {
				exclusion = exclusion.Union(item.Geometry)
			}
		}

		allowed = full
		if exclusion != nil {
			allowed = full.Difference(exclusion)
		}

		if e.cfg.ExcludeFootprints && !allowed.IsEmpty() {
			for _, fp := range xc.footprints.Nearby(allowed, 0) {
				allowed = allowed.Difference(fp.Geometry)
			}
		}
	}

	allowed, _ = e.dropSlivers(allowed)
	prohibited, dropped := e.dropSlivers(full.Difference(allowed))

	return &models.ExclusionResult{
		ParcelID:          parcel.ID,
		Full:              models.NewGeometry(full),
		Allowed:           models.NewGeometry(allowed),
		Prohibited:        models.NewGeometry(prohibited),
		FullArea:          full.Area(),
		AllowedArea:       allowed.Area(),
		ProhibitedArea:    prohibited.Area(),
		ExternalDwellings: external,
		DroppedArea:       dropped,
		Degraded:          degraded,
	}, nil
}

// parcelGeometry returns the polygonal parcel geometry, repairing it when
// invalid. Zero-area parcels cannot be partitioned.
func parcelGeometry(parcel models.Parcel) (full *geos.Geom, degraded bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			full, err = nil, fmt.Errorf("parcel geometry could not be repaired: %v", r)
		}
	}()

	g := parcel.Geometry
	if g.Empty() {
		return nil, false, errors.New("empty parcel geometry")
	}
	if !g.IsPolygonal() {
		return nil, false, fmt.Errorf("parcel geometry is not polygonal (type %d)", g.TypeID())
	}

	full = g.Geom
	if !full.IsValid() {
		reason := full.IsValidReason()
		full = polygonalParts(full.MakeValid())
		degraded = true
		if full.IsEmpty() {
			return nil, true, fmt.Errorf("invalid parcel geometry could not be repaired: %s", reason)
		}
	}
	if full.Area() == 0 {
		return nil, degraded, errors.New("zero-area parcel geometry")
	}
	return full, degraded, nil
}

// polygonalParts keeps only the areal parts of g.
func polygonalParts(g *geos.Geom) *geos.Geom {
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return g
	}
	var acc *geos.Geom
	for i := 0; i < g.NumGeometries(); i++ {
		part := polygonalParts(g.Geometry(i))
		if part.IsEmpty() {
			continue
		}
		if acc == nil {
			acc = part.Clone()
		} else {
			acc = acc.Union(part)
		}
	}
	if acc == nil {
		return models.EmptyPolygon().Geom
	}
	return acc
}

// dropSlivers removes polygon parts below the configured area and returns the
// area removed. Slivers dropped from the allowed side end up prohibited.
func (e *ExclusionEngine) dropSlivers(g *geos.Geom) (*geos.Geom, float64) {
	if e.cfg.SliverArea <= 0 || g.IsEmpty() {
		return g, 0
	}

	n := g.NumGeometries()
	var kept *geos.Geom
	dropped := 0
	removed := 0.0
	for i := 0; i < n; i++ {
		part := g.Geometry(i)
		if area := part.Area(); area < e.cfg.SliverArea {
			dropped++
			removed += area
			continue
		}
		if kept == nil {
			kept = part.Clone()
		} else {
			kept = kept.Union(part)
		}
	}
	switch {
	case dropped == 0:
		return g, 0
	case kept == nil:
		return models.EmptyPolygon().Geom, removed
	default:
		return kept, removed
	}
}

// multipleOccupancy reports whether a parcel's own dwellings are occupied by
// different households.
func multipleOccupancy(own []models.Dwelling) bool {
	if len(own) > 1 {
		return true
	}
	for _, d := range own {
		if d.Units > 1 {
			return true
		}
	}
	return false
}

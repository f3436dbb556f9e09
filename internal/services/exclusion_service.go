package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
	"github.com/stwalsh4118/coopzone/internal/repository"
	"github.com/stwalsh4118/coopzone/internal/spatial"
)

// DefaultMaxWarnings caps the warnings listed in a run summary.
const DefaultMaxWarnings = 500

// ServiceConfig collects everything one exclusion run is parameterised by.
type ServiceConfig struct {
	DwellingUses      []string
	ConsistencyPolicy string
	Engine            EngineConfig
	AreaTolerance     float64
	// MaxWarnings caps Summary.Warnings; zero lists them all.
	MaxWarnings int
}

// DefaultServiceConfig returns the ordinance defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DwellingUses:      []string{DefaultDwellingUse},
		ConsistencyPolicy: PolicyAbort,
		Engine:            DefaultEngineConfig(),
		AreaTolerance:     DefaultAreaTolerance,
		MaxWarnings:       DefaultMaxWarnings,
	}
}

// ExclusionService defines the interface for running the exclusion pipeline.
type ExclusionService interface {
	// Run loads the inputs, classifies parcels, resolves dwellings, computes
	// every residential parcel's partition and assembles the result set.
	// InputSchemaErrors and, under the abort policy, ConsistencyErrors fail
	// the run. Per-parcel geometry failures are reported in the summary.
	Run(ctx context.Context) (*models.ExclusionSet, error)
}

// exclusionService is the concrete implementation of ExclusionService.
type exclusionService struct {
	repo repository.InputRepository
	sink repository.ResultRepository
	log  *logger.Logger
	cfg  ServiceConfig
}

// NewExclusionService creates an ExclusionService. sink may be nil, in which
// case results are not persisted.
func NewExclusionService(repo repository.InputRepository, sink repository.ResultRepository, cfg ServiceConfig, log *logger.Logger) (ExclusionService, error) {
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if _, err := NewResultAssembler(cfg.AreaTolerance, cfg.ConsistencyPolicy, log); err != nil {
		return nil, err
	}
	if cfg.MaxWarnings < 0 {
		return nil, fmt.Errorf("max warnings must be non-negative, got %d", cfg.MaxWarnings)
	}
	return &exclusionService{repo: repo, sink: sink, log: log, cfg: cfg}, nil
}

type runInputs struct {
	boundary  models.Geometry
	parcels   []models.Parcel
	rules     []models.ZoningRule
	buildings []models.Building
	uses      []models.UseRecord
}

// Run executes one exclusion run.
func (s *exclusionService) Run(ctx context.Context) (*models.ExclusionSet, error) {
	start := time.Now()
	runID := uuid.New()
	log := s.log.WithRunID(runID.String())

	log.Info("Exclusion run started", map[string]interface{}{
		"radius":               s.cfg.Engine.Radius,
		"workers":              s.cfg.Engine.Workers,
		"dwelling_uses":        s.cfg.DwellingUses,
		"consistency_policy":   s.cfg.ConsistencyPolicy,
		"require_own_dwelling": s.cfg.Engine.RequireOwnDwelling,
		"multi_occupancy":      s.cfg.Engine.MultiOccupancy,
		"exclude_footprints":   s.cfg.Engine.ExcludeFootprints,
	})

	in, err := s.load(ctx)
	if err != nil {
		log.Error("Failed to load inputs", err, nil)
		return nil, err
	}

	classified, err := NewParcelClassifier(log).Classify(in.parcels, in.rules)
	if err != nil {
		log.Error("Failed to classify parcels", err, nil)
		return nil, err
	}

	parcelIndex := spatial.NewIndex(parcelItems(in.parcels))
	resolved, err := NewDwellingResolver(s.cfg.DwellingUses, log).Resolve(in.buildings, in.uses, parcelIndex)
	if err != nil {
		log.Error("Failed to resolve dwellings", err, nil)
		return nil, err
	}

	engine, err := NewExclusionEngine(s.cfg.Engine, log)
	if err != nil {
		return nil, err
	}
	computeIn := ExclusionInput{Parcels: classified.Residential, Dwellings: resolved.Dwellings}
	if s.cfg.Engine.ExcludeFootprints {
		computeIn.Footprints = in.buildings
	}
	computed, err := engine.Compute(ctx, computeIn)
	if err != nil {
		log.Error("Exclusion computation failed", err, nil)
		return nil, err
	}

	assembler, err := NewResultAssembler(s.cfg.AreaTolerance, s.cfg.ConsistencyPolicy, log)
	if err != nil {
		return nil, err
	}
	assembled, err := assembler.Assemble(computed.Results)
	if err != nil {
		return nil, err
	}

	set := &models.ExclusionSet{
		RunID:          runID,
		CreatedAt:      time.Now().UTC(),
		Radius:         s.cfg.Engine.Radius,
		Boundary:       in.boundary,
		Results:        assembled.Results,
		NonResidential: classified.NonResidential,
		Summary:        s.summarize(classified, resolved, computed, assembled),
	}

	if s.sink != nil {
		if err := s.sink.SaveResults(ctx, set); err != nil {
			log.Error("Failed to save results", err, nil)
			return nil, err
		}
	}

	log.Info("Exclusion run completed", map[string]interface{}{
		"parcels_total":        set.Summary.ParcelsTotal,
		"residential":          set.Summary.Residential,
		"non_residential":      set.Summary.NonResidential,
		"parcels_processed":    set.Summary.ParcelsProcessed,
		"parcels_with_allowed": set.Summary.ParcelsWithAllowed,
		"parcels_skipped":      set.Summary.ParcelsSkipped,
		"dwellings":            set.Summary.Dwellings,
		"dwellings_unassigned": set.Summary.DwellingsUnassigned,
		"buildings_dropped":    set.Summary.BuildingsDropped,
		"warnings":             set.Summary.WarningsTotal,
		"duration_ms":          time.Since(start).Milliseconds(),
	})

	return set, nil
}

func (s *exclusionService) load(ctx context.Context) (*runInputs, error) {
	var in runInputs
	var err error

	if in.parcels, err = s.repo.LoadParcels(ctx); err != nil {
		return nil, fmt.Errorf("failed to load parcels: %w", err)
	}
	if in.rules, err = s.repo.LoadZoningRules(ctx); err != nil {
		return nil, fmt.Errorf("failed to load zoning rules: %w", err)
	}
	if in.buildings, err = s.repo.LoadBuildings(ctx); err != nil {
		return nil, fmt.Errorf("failed to load buildings: %w", err)
	}
	if in.uses, err = s.repo.LoadUseRecords(ctx); err != nil {
		return nil, fmt.Errorf("failed to load use records: %w", err)
	}
	if in.boundary, err = s.repo.LoadBoundary(ctx); err != nil {
		return nil, fmt.Errorf("failed to load boundary: %w", err)
	}
	return &in, nil
}

// summarize accounts for every parcel and building of the run. Each
// residential parcel is either processed or counted under a skip reason.
func (s *exclusionService) summarize(c *ClassifyResult, r *ResolveResult, e *EngineOutput, a *AssembleResult) models.Summary {
	sum := models.NewSummary()

	sum.ParcelsTotal = len(c.Residential) + len(c.NonResidential)
	sum.Residential = len(c.Residential)
	sum.NonResidential = len(c.NonResidential)
	sum.UnknownZoning = c.UnknownZoning
	sum.ParcelsProcessed = len(a.Results)
	for _, res := range a.Results {
		if !res.Allowed.Empty() {
			sum.ParcelsWithAllowed++
		}
		if res.Degraded {
			sum.ParcelsDegraded++
		}
	}
	for _, f := range e.Failures {
		sum.ParcelsSkipped[f.Reason]++
	}
	if len(a.Rejected) > 0 {
		sum.ParcelsSkipped[models.SkipConsistencyError] += len(a.Rejected)
	}

	sum.BuildingsTotal = r.BuildingsTotal
	sum.Dwellings = len(r.Dwellings)
	sum.DwellingsUnassigned = r.Unassigned
	for reason, n := range r.Dropped {
		sum.BuildingsDropped[reason] = n
	}

	warnings := make([]models.Warning, 0, len(c.Warnings)+len(r.Warnings)+len(e.DroppedDwellings))
	warnings = append(warnings, c.Warnings...)
	warnings = append(warnings, r.Warnings...)

	// Dwellings whose buffer failed exclude nothing.
	for _, d := range e.DroppedDwellings {
		sum.Dwellings--
		if d.Unassigned {
			sum.DwellingsUnassigned--
		}
		sum.BuildingsDropped[models.DropGeometryError]++
		warnings = append(warnings, models.Warning{
			Kind:     models.WarningDroppedDwelling,
			EntityID: d.FacilityID,
			Detail:   d.Err.Error(),
		})
	}

	sum.WarningsTotal = len(warnings)
	if s.cfg.MaxWarnings > 0 && len(warnings) > s.cfg.MaxWarnings {
		warnings = warnings[:s.cfg.MaxWarnings]
	}
	sum.Warnings = warnings

	return sum
}

// parcelItems indexes the repaired polygonal geometry of every parcel so that
// dwelling placement never runs predicates on invalid input. Parcels that
// cannot be repaired are left out; residential ones are reported by the engine.
func parcelItems(parcels []models.Parcel) []spatial.Item {
	items := make([]spatial.Item, 0, len(parcels))
	for _, p := range parcels {
		full, _, err := parcelGeometry(p)
		if err != nil {
			continue
		}
		items = append(items, spatial.Item{ID: p.ID, Geometry: full})
	}
	return items
}

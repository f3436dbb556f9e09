package services

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
)

// Consistency policies for records that fail the partition check.
const (
	// PolicyAbort fails the whole assembly on the first inconsistent record.
	PolicyAbort = "abort"
	// PolicyFilter drops inconsistent records and reports them.
	PolicyFilter = "filter"
)

// DefaultAreaTolerance is the relative area tolerance of the partition check.
const DefaultAreaTolerance = 1e-6

// AssembleResult is the validated, ParcelID-ordered result collection.
type AssembleResult struct {
	Results  []models.ExclusionResult
	Rejected []*models.ConsistencyError
}

// ResultAssembler packages exclusion results and guards the partition invariant.
type ResultAssembler struct {
	log       *logger.Logger
	policy    string
	tolerance float64
}

// NewResultAssembler creates an assembler. tolerance is relative to the parcel
// area, with areas below 1 square unit compared absolutely.
func NewResultAssembler(tolerance float64, policy string, log *logger.Logger) (*ResultAssembler, error) {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return nil, fmt.Errorf("area tolerance must be non-negative, got %f", tolerance)
	}
	switch policy {
	case PolicyAbort, PolicyFilter:
	default:
		return nil, fmt.Errorf("unknown consistency policy %q (want %q or %q)", policy, PolicyAbort, PolicyFilter)
	}
	return &ResultAssembler{log: log, policy: policy, tolerance: tolerance}, nil
}

// Assemble validates every record and returns them ordered by ParcelID.
// Under PolicyAbort the first ConsistencyError is returned; under
// PolicyFilter offending records are left out and listed in Rejected.
func (a *ResultAssembler) Assemble(results []models.ExclusionResult) (*AssembleResult, error) {
	out := &AssembleResult{
		Results:  make([]models.ExclusionResult, 0, len(results)),
		Rejected: make([]*models.ConsistencyError, 0),
	}

	for _, r := range results {
		err := a.Check(r)
		if err == nil {
			out.Results = append(out.Results, r)
			continue
		}

		var cerr *models.ConsistencyError
		if !errors.As(err, &cerr) {
			return nil, err
		}
		a.log.Error("Partition invariant violated", err, map[string]interface{}{
			"parcel_id": r.ParcelID,
			"policy":    a.policy,
		})
		if a.policy == PolicyAbort {
			return nil, err
		}
		out.Rejected = append(out.Rejected, cerr)
	}

	sort.Slice(out.Results, func(i, j int) bool {
		return out.Results[i].ParcelID < out.Results[j].ParcelID
	})

	return out, nil
}

// Check verifies that Allowed and Prohibited cover Full without overlapping,
// within tolerance. Area removed by sliver cleanup is accounted for.
func (a *ResultAssembler) Check(r models.ExclusionResult) (err error) {
	cerr := &models.ConsistencyError{
		ParcelID:  r.ParcelID,
		FullArea:  r.Full.AreaOrZero(),
		Tolerance: a.tolerance * math.Max(1, r.Full.AreaOrZero()),
	}

	if r.Full.IsZero() || r.Allowed.IsZero() || r.Prohibited.IsZero() {
		cerr.UnionArea = math.NaN()
		cerr.OverlapArea = math.NaN()
		return cerr
	}

	defer func() {
		if rec := recover(); rec != nil {
			cerr.UnionArea = math.NaN()
			cerr.OverlapArea = math.NaN()
			err = cerr
		}
	}()

	cerr.UnionArea = r.Allowed.Union(r.Prohibited.Geom).Area()
	cerr.OverlapArea = 0
	if !r.Allowed.Empty() && !r.Prohibited.Empty() {
		cerr.OverlapArea = r.Allowed.Intersection(r.Prohibited.Geom).Area()
	}

	if math.Abs(cerr.UnionArea+r.DroppedArea-cerr.FullArea) > cerr.Tolerance || cerr.OverlapArea > cerr.Tolerance {
		return cerr
	}
	return nil
}

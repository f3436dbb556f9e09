package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/models"
	"github.com/stwalsh4118/coopzone/internal/spatial"
)

// ParcelLookup is the answer to a point query.
type ParcelLookup struct {
	Result   *models.ExclusionResult
	ParcelID string
	Status   string
}

// ResultStore holds the latest ExclusionSet for the API and serialises
// recomputation. Readers never see a partially built set.
type ResultStore struct {
	service ExclusionService
	log     *logger.Logger

	mu             sync.RWMutex
	current        *models.ExclusionSet
	parcels        *spatial.Index
	nonResidential map[string]struct{}

	running atomic.Bool
	lastErr atomic.Value
}

// NewResultStore creates an empty store that recomputes with service.
func NewResultStore(service ExclusionService, log *logger.Logger) *ResultStore {
	return &ResultStore{service: service, log: log}
}

// Recompute runs the service and publishes the new set. Only one run may be
// in flight; a concurrent call returns ErrRunInFlight. On failure the
// previous set stays published.
func (s *ResultStore) Recompute(ctx context.Context) (*models.ExclusionSet, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer s.running.Store(false)

	return s.run(ctx)
}

// Start launches a recomputation in the background and returns at once.
// It returns ErrRunInFlight when a run is already in progress.
func (s *ResultStore) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInFlight
	}
	go func() {
		defer s.running.Store(false)
		_, _ = s.run(ctx)
	}()
	return nil
}

func (s *ResultStore) run(ctx context.Context) (*models.ExclusionSet, error) {
	set, err := s.service.Run(ctx)
	if err != nil {
		s.lastErr.Store(runError{err})
		s.log.Error("Exclusion run failed; keeping previous results", err, nil)
		return nil, err
	}
	s.lastErr.Store(runError{})
	s.Publish(set)
	return set, nil
}

// runError wraps a possibly nil error so it can live in an atomic.Value.
type runError struct{ err error }

// LastError returns the error of the most recent run, or nil if it succeeded.
func (s *ResultStore) LastError() error {
	if v, ok := s.lastErr.Load().(runError); ok {
		return v.err
	}
	return nil
}

// Running reports whether a recomputation is in progress.
func (s *ResultStore) Running() bool {
	return s.running.Load()
}

// Publish replaces the current set and rebuilds the point lookup index.
func (s *ResultStore) Publish(set *models.ExclusionSet) {
	items := make([]spatial.Item, 0, len(set.Results)+len(set.NonResidential))
	nonRes := make(map[string]struct{}, len(set.NonResidential))
	for _, r := range set.Results {
		items = append(items, spatial.Item{ID: r.ParcelID, Geometry: r.Full.Geom})
	}
	for _, p := range set.NonResidential {
		items = append(items, spatial.Item{ID: p.ID, Geometry: p.Geometry.Geom})
		nonRes[p.ID] = struct{}{}
	}
	index := spatial.NewIndex(items)

	s.mu.Lock()
	s.current = set
	s.parcels = index
	s.nonResidential = nonRes
	s.mu.Unlock()

	s.log.Info("Exclusion set published", map[string]interface{}{
		"run_id":  set.RunID.String(),
		"results": len(set.Results),
	})
}

// Current returns the published set, or ErrNoResults before the first run.
func (s *ResultStore) Current() (*models.ExclusionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoResults
	}
	return s.current, nil
}

// Parcel returns the result for one parcel id.
func (s *ResultStore) Parcel(id string) (*models.ExclusionResult, error) {
	set, err := s.Current()
	if err != nil {
		return nil, err
	}
	r, ok := set.Find(id)
	if !ok {
		return nil, ErrParcelNotFound
	}
	return r, nil
}

// ParcelAt finds the parcel under a point. Non-residential parcels are
// reported with StatusNonResidential and no result.
func (s *ResultStore) ParcelAt(x, y float64) (*ParcelLookup, error) {
	s.mu.RLock()
	set, index, nonRes := s.current, s.parcels, s.nonResidential
	s.mu.RUnlock()
	if set == nil {
		return nil, ErrNoResults
	}

	id, ok := index.ContainingPoint(x, y)
	if !ok {
		return nil, ErrParcelNotFound
	}
	if r, found := set.Find(id); found {
		return &ParcelLookup{ParcelID: id, Status: r.Status(), Result: r}, nil
	}
	if _, found := nonRes[id]; found {
		return &ParcelLookup{ParcelID: id, Status: models.StatusNonResidential}, nil
	}
	return nil, ErrParcelNotFound
}

// List returns results filtered by status (empty means all), paged by
// offset and limit, plus the filtered total.
func (s *ResultStore) List(status string, limit, offset int) ([]models.ExclusionResult, int, error) {
	set, err := s.Current()
	if err != nil {
		return nil, 0, err
	}

	filtered := set.Results
	if status != "" {
		filtered = make([]models.ExclusionResult, 0)
		for _, r := range set.Results {
			if r.Status() == status {
				filtered = append(filtered, r)
			}
		}
	}

	total := len(filtered)
	if offset >= total {
		return []models.ExclusionResult{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return filtered[offset:end], total, nil
}

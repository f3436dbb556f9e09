package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/stwalsh4118/coopzone/internal/errors"
	"github.com/stwalsh4118/coopzone/internal/export"
	"github.com/stwalsh4118/coopzone/internal/middleware"
	"github.com/stwalsh4118/coopzone/internal/models"
	"github.com/stwalsh4118/coopzone/internal/services"
)

const (
	// DefaultPageSize is the page size of the parcel listing when none is given.
	DefaultPageSize = 100
)

// ExclusionStore is the read and recompute surface the API serves from.
type ExclusionStore interface {
	RunStatus
	Parcel(id string) (*models.ExclusionResult, error)
	ParcelAt(x, y float64) (*services.ParcelLookup, error)
	List(status string, limit, offset int) ([]models.ExclusionResult, int, error)
	Start(ctx context.Context) error
}

// ExclusionHandler handles exclusion-zone HTTP requests.
type ExclusionHandler struct {
	store ExclusionStore
	// runCtx bounds background recomputations; it outlives single requests.
	runCtx context.Context
}

// NewExclusionHandler creates a new ExclusionHandler instance. Recomputations
// started through the API are cancelled when runCtx is.
func NewExclusionHandler(runCtx context.Context, store ExclusionStore) *ExclusionHandler {
	return &ExclusionHandler{
		store:  store,
		runCtx: runCtx,
	}
}

// ListRequest represents the query parameters for the parcel listing.
type ListRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=allowed partial prohibited"`
	Limit  int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
	Offset int    `form:"offset" binding:"gte=0"`
}

// AtPointRequest represents the query parameters for the at-point endpoint.
// Coordinates are in the planar reference system of the inputs.
type AtPointRequest struct {
	X *float64 `form:"x" binding:"required"`
	Y *float64 `form:"y" binding:"required"`
}

// SummaryResponse represents the response for the summary endpoint.
type SummaryResponse struct {
	CreatedAt time.Time      `json:"created_at"`
	RunID     string         `json:"run_id"`
	Summary   models.Summary `json:"summary"`
	Radius    float64        `json:"radius"`
}

// ParcelSummary is one row of the parcel listing, without geometries.
type ParcelSummary struct {
	ParcelID          string  `json:"parcel_id"`
	Status            string  `json:"status"`
	FullArea          float64 `json:"full_area"`
	AllowedArea       float64 `json:"allowed_area"`
	ProhibitedArea    float64 `json:"prohibited_area"`
	ExternalDwellings int     `json:"external_dwellings"`
	Degraded          bool    `json:"degraded"`
}

// ListResponse represents the response for the parcel listing.
type ListResponse struct {
	Parcels []ParcelSummary `json:"parcels"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ExclusionData is the full partition of one parcel.
type ExclusionData struct {
	AllowedGeometry    models.Geometry `json:"allowed_geometry"`
	ProhibitedGeometry models.Geometry `json:"prohibited_geometry"`
	ParcelSummary
}

// AtPointResponse represents the response for the at-point endpoint.
// Exclusion is absent for non-residential parcels.
type AtPointResponse struct {
	Exclusion *ExclusionData `json:"exclusion,omitempty"`
	ParcelID  string         `json:"parcel_id"`
	Status    string         `json:"status"`
}

// RunResponse represents the response for a recompute request.
type RunResponse struct {
	Status string `json:"status"`
}

// Summary handles GET /api/v1/summary endpoint.
func (h *ExclusionHandler) Summary(c *gin.Context) {
	set, err := h.store.Current()
	if err != nil {
		h.respondError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, SummaryResponse{
		CreatedAt: set.CreatedAt,
		RunID:     set.RunID.String(),
		Summary:   set.Summary,
		Radius:    set.Radius,
	})
}

// ListParcels handles GET /api/v1/parcels endpoint.
// It pages through results in parcel id order, optionally filtered by status.
func (h *ExclusionHandler) ListParcels(c *gin.Context) {
	var req ListRequest
	if !bindQuery(c, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = DefaultPageSize
	}

	results, total, err := h.store.List(req.Status, req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, err, "")
		return
	}

	parcels := make([]ParcelSummary, 0, len(results))
	for _, r := range results {
		parcels = append(parcels, mapResultToSummary(r))
	}

	c.JSON(http.StatusOK, ListResponse{
		Parcels: parcels,
		Total:   total,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
}

// AtPoint handles GET /api/v1/parcels/at-point endpoint.
// It returns the parcel containing the point with its partition.
func (h *ExclusionHandler) AtPoint(c *gin.Context) {
	log := middleware.GetLogger(c)

	var req AtPointRequest
	if !bindQuery(c, &req) {
		return
	}

	if log != nil {
		log.Debug("Processing at-point request", map[string]interface{}{
			"x": *req.X,
			"y": *req.Y,
		})
	}

	lookup, err := h.store.ParcelAt(*req.X, *req.Y)
	if err != nil {
		h.respondError(c, err, "No parcel found at this location")
		return
	}

	response := AtPointResponse{
		ParcelID: lookup.ParcelID,
		Status:   lookup.Status,
	}
	if lookup.Result != nil {
		data := mapResultToData(*lookup.Result)
		response.Exclusion = &data
	}

	c.JSON(http.StatusOK, response)
}

// ParcelExclusion handles GET /api/v1/parcels/:id/exclusion endpoint.
func (h *ExclusionHandler) ParcelExclusion(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		apierrors.BadRequest(c, "Parcel id is required", nil)
		return
	}

	result, err := h.store.Parcel(id)
	if err != nil {
		h.respondError(c, err, "No exclusion result for this parcel")
		return
	}

	c.JSON(http.StatusOK, mapResultToData(*result))
}

// Layer handles GET /api/v1/layers/:layer endpoint.
// It returns one render layer as a GeoJSON feature collection.
func (h *ExclusionHandler) Layer(c *gin.Context) {
	set, err := h.store.Current()
	if err != nil {
		h.respondError(c, err, "")
		return
	}

	fc, err := export.BuildLayer(set, c.Param("layer"))
	if err != nil {
		if errors.Is(err, export.ErrUnknownLayer) {
			apierrors.NotFound(c, "Unknown layer; expected one of "+strings.Join(export.LayerNames, ", "))
			return
		}
		apierrors.InternalServerError(c, "Failed to build layer", err)
		return
	}

	c.JSON(http.StatusOK, fc)
}

// Recompute handles POST /api/v1/runs endpoint.
// It starts a background run and returns 202; the current results stay
// published until the new set replaces them.
func (h *ExclusionHandler) Recompute(c *gin.Context) {
	if err := h.store.Start(h.runCtx); err != nil {
		if errors.Is(err, services.ErrRunInFlight) {
			apierrors.Conflict(c, "An exclusion run is already in progress")
			return
		}
		apierrors.InternalServerError(c, "Failed to start exclusion run", err)
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Exclusion run started", nil)
	}

	c.JSON(http.StatusAccepted, RunResponse{Status: "started"})
}

// respondError maps store errors onto the API error envelope.
func (h *ExclusionHandler) respondError(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, services.ErrNoResults):
		apierrors.ServiceUnavailable(c, "Exclusion results are not available yet")
	case errors.Is(err, services.ErrParcelNotFound):
		apierrors.NotFound(c, notFound)
	default:
		apierrors.InternalServerError(c, "Failed to read exclusion results", err)
	}
}

// bindQuery binds and validates query parameters, writing the error response
// itself when they are invalid.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return false
	}
	return true
}

// mapResultToSummary converts an ExclusionResult to its listing row.
func mapResultToSummary(r models.ExclusionResult) ParcelSummary {
	return ParcelSummary{
		ParcelID:          r.ParcelID,
		Status:            r.Status(),
		FullArea:          r.FullArea,
		AllowedArea:       r.AllowedArea,
		ProhibitedArea:    r.ProhibitedArea,
		ExternalDwellings: r.ExternalDwellings,
		Degraded:          r.Degraded,
	}
}

// mapResultToData converts an ExclusionResult to the detailed DTO.
func mapResultToData(r models.ExclusionResult) ExclusionData {
	return ExclusionData{
		AllowedGeometry:    r.Allowed,
		ProhibitedGeometry: r.Prohibited,
		ParcelSummary:      mapResultToSummary(r),
	}
}

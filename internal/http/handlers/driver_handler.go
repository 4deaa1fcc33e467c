// README: Driver handlers: device location ingest, availability status and ETA.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/matching"
	"dispatch/internal/modules/tracking"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

// PositionRemover drops a driver from the live position index.
type PositionRemover interface {
	Remove(ctx context.Context, driverID types.ID) error
}

// DriverLocator answers radius queries against the live position index.
type DriverLocator interface {
	NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

type PositionIndex interface {
	PositionRemover
	DriverLocator
}

type DriverHandler struct {
	drivers   *driver.Service
	tracking  *tracking.Service
	provider  *tracking.FeedProvider
	positions PositionRemover
	logger    *slog.Logger
}

func NewDriverHandler(driverSvc *driver.Service, trackingSvc *tracking.Service, provider *tracking.FeedProvider, positions PositionRemover, logger *slog.Logger) *DriverHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriverHandler{
		drivers:   driverSvc,
		tracking:  trackingSvc,
		provider:  provider,
		positions: positions,
		logger:    logger,
	}
}

type locationReq struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Accuracy  *float64   `json:"accuracy"`
	Heading   *float64   `json:"heading"`
	Speed     *float64   `json:"speed"`
	Timestamp *time.Time `json:"timestamp"`
}

// UpdateLocation accepts a device fix. Persistence and fan-out happen on the
// driver's tracking watch, so the response only acknowledges receipt.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng required")
		return
	}
	driverID := types.ID(id)
	d, err := h.drivers.Get(c.Request.Context(), driverID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !d.Eligible() {
		// An offline driver's fix would restart the watch and re-enter the position index.
		observability.LocationFixesTotal.WithLabelValues("rejected").Inc()
		writeError(c, http.StatusForbidden, "driver is "+string(d.Status))
		return
	}

	logger := h.logger.With("driver_id", driverID)
	if !h.tracking.EnsureTracking(context.Background(), driverID, func(err error) {
		logger.Warn("tracking error", "error", err)
	}) {
		writeError(c, http.StatusServiceUnavailable, tracking.ErrUnavailable.Error())
		return
	}

	loc := types.GeoLocation{
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Accuracy:  req.Accuracy,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Timestamp: req.Timestamp,
	}
	if err := h.provider.Push(driverID, loc); err != nil {
		observability.LocationFixesTotal.WithLabelValues("rejected").Inc()
		writeDispatchError(c, err)
		return
	}
	observability.LocationFixesTotal.WithLabelValues("accepted").Inc()
	writeJSON(c, http.StatusAccepted, map[string]any{"status": "accepted"})
}

type statusReq struct {
	Status string `json:"status"`
}

// SetStatus changes availability. Going offline or suspended ends tracking
// and drops the driver from the position index.
func (h *DriverHandler) SetStatus(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "status required")
		return
	}
	driverID := types.ID(id)
	d, err := h.drivers.SetStatus(c.Request.Context(), driverID, driver.Status(req.Status))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if d.Status == driver.StatusOffline || d.Status == driver.StatusSuspended {
		h.tracking.StopTracking(driverID)
		if h.positions != nil {
			if err := h.positions.Remove(c.Request.Context(), driverID); err != nil {
				h.logger.Warn("remove from position index failed", "driver_id", driverID, "error", err)
			}
		}
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver": d})
}

// ETA estimates minutes from the driver's latest fix to dest_lat/dest_lng.
func (h *DriverHandler) ETA(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	lat, hasLat, okLat := queryFloat(c, "dest_lat")
	lng, hasLng, okLng := queryFloat(c, "dest_lng")
	if !hasLat || !hasLng || !okLat || !okLng || !(types.Point{Lat: lat, Lng: lng}).Valid() {
		writeError(c, http.StatusBadRequest, "dest_lat and dest_lng required")
		return
	}

	driverID := types.ID(id)
	d, err := h.drivers.Get(c.Request.Context(), driverID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	loc := d.CurrentLocation
	if loc == nil {
		loc = h.tracking.GetCurrentPosition(c.Request.Context(), driverID)
	}
	if loc == nil {
		writeDispatchError(c, matching.ErrLocationUnknown)
		return
	}
	speed := 0.0
	if loc.Speed != nil {
		speed = *loc.Speed
	}
	writeJSON(c, http.StatusOK, h.tracking.CalculateETA(*loc, lat, lng, speed))
}

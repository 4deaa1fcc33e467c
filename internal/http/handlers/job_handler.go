// README: Job handlers: nearby ranking, claim, lifecycle advance and load snapshot.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/job"
	"dispatch/internal/modules/matching"
	"dispatch/internal/types"
)

const defaultSupplyRadiusKm = 5.0

type JobHandler struct {
	jobs     *job.Service
	matching *matching.Service
	locator  DriverLocator
}

// locator may be nil; Load then skips the nearby-supply count.
func NewJobHandler(jobSvc *job.Service, matchingSvc *matching.Service, locator DriverLocator) *JobHandler {
	return &JobHandler{jobs: jobSvc, matching: matchingSvc, locator: locator}
}

// NearbyJobs ranks open jobs for a driver. lat/lng override the driver's
// last known position when both are given; max_km defaults to the configured radius.
func (h *JobHandler) NearbyJobs(c *gin.Context) {
	driverID := c.Param("id")
	if !isValidID(driverID) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	lat, hasLat, okLat := queryFloat(c, "lat")
	lng, hasLng, okLng := queryFloat(c, "lng")
	maxKm, hasMax, okMax := queryFloat(c, "max_km")
	if !okLat || !okLng || !okMax || hasLat != hasLng || maxKm < 0 {
		writeError(c, http.StatusBadRequest, "invalid lat, lng or max_km")
		return
	}
	if !hasMax {
		maxKm = h.matching.DefaultRadiusKm()
	}

	var (
		results []matching.MatchResult
		err     error
	)
	if hasLat {
		p := types.Point{Lat: lat, Lng: lng}
		if !p.Valid() {
			writeError(c, http.StatusBadRequest, "coordinates out of range")
			return
		}
		results, err = h.matching.FindNearbyJobs(c.Request.Context(), p, maxKm)
	} else {
		results, err = h.matching.FindNearbyJobsForDriver(c.Request.Context(), types.ID(driverID), maxKm)
	}
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"jobs": results})
}

type claimReq struct {
	DriverID string `json:"driver_id"`
}

func (h *JobHandler) Claim(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid job id")
		return
	}
	var req claimReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	j, err := h.matching.ClaimJob(c.Request.Context(), types.ID(id), types.ID(req.DriverID))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"job": j})
}

type advanceReq struct {
	DriverID string `json:"driver_id"`
	Status   string `json:"status"`
}

func (h *JobHandler) Advance(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid job id")
		return
	}
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DriverID != "" && !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "invalid driver_id")
		return
	}
	j, err := h.jobs.Advance(c.Request.Context(), job.AdvanceCommand{
		JobID:    types.ID(id),
		DriverID: types.ID(req.DriverID),
		To:       job.Status(req.Status),
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"job": j})
}

// Load reports the platform-wide job/driver ratio. With lat and lng it also
// counts indexed drivers within radius_km (default 5) of that point.
func (h *JobHandler) Load(c *gin.Context) {
	lat, hasLat, okLat := queryFloat(c, "lat")
	lng, hasLng, okLng := queryFloat(c, "lng")
	radius, hasRadius, okRadius := queryFloat(c, "radius_km")
	if !okLat || !okLng || !okRadius || hasLat != hasLng || (hasRadius && radius <= 0) {
		writeError(c, http.StatusBadRequest, "invalid lat, lng or radius_km")
		return
	}
	if !hasRadius {
		radius = defaultSupplyRadiusKm
	}

	info, err := h.matching.GetLoadBalanceInfo(c.Request.Context())
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	resp := map[string]any{
		"load":  info,
		"surge": matching.SurgeForRatio(info.AvgJobsPerDriver),
	}

	if hasLat && h.locator != nil {
		p := types.Point{Lat: lat, Lng: lng}
		if !p.Valid() {
			writeError(c, http.StatusBadRequest, "coordinates out of range")
			return
		}
		ids, err := h.locator.NearbyDrivers(c.Request.Context(), p, radius)
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		resp["nearby_drivers"] = len(ids)
		resp["radius_km"] = radius
	}
	writeJSON(c, http.StatusOK, resp)
}

// README: Pricing handlers: full quote with surge and the surge-blind estimate.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/job"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/types"
)

type PricingHandler struct {
	pricing *pricing.Engine
	jobs    *job.Service
}

func NewPricingHandler(engine *pricing.Engine, jobSvc *job.Service) *PricingHandler {
	return &PricingHandler{pricing: engine, jobs: jobSvc}
}

type quoteReq struct {
	JobID         string     `json:"job_id"`
	DistanceKm    *float64   `json:"distance_km"`
	IsUrgent      bool       `json:"is_urgent"`
	ScheduledTime *time.Time `json:"scheduled_time"`
}

// Quote prices either a stored job or a bare distance.
func (h *PricingHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	opts := pricing.PriceOptions{IsUrgent: req.IsUrgent, ScheduledTime: req.ScheduledTime}

	switch {
	case req.JobID != "":
		if !isValidID(req.JobID) {
			writeError(c, http.StatusBadRequest, "invalid job_id")
			return
		}
		j, err := h.jobs.Get(c.Request.Context(), types.ID(req.JobID))
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, h.pricing.QuoteJob(c.Request.Context(), *j, opts))
	case req.DistanceKm != nil:
		if *req.DistanceKm < 0 {
			writeError(c, http.StatusBadRequest, "distance_km must not be negative")
			return
		}
		writeJSON(c, http.StatusOK, h.pricing.CalculatePrice(c.Request.Context(), *req.DistanceKm, opts))
	default:
		writeError(c, http.StatusBadRequest, "job_id or distance_km required")
	}
}

func (h *PricingHandler) Estimate(c *gin.Context) {
	km, present, ok := queryFloat(c, "distance_km")
	if !present || !ok || km < 0 {
		writeError(c, http.StatusBadRequest, "invalid distance_km")
		return
	}
	urgent := false
	if raw := c.Query("urgent"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid urgent")
			return
		}
		urgent = v
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"distance_km": km,
		"is_urgent":   urgent,
		"estimate":    h.pricing.EstimatePrice(km, urgent),
	})
}

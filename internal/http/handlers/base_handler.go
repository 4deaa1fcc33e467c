// README: Base handler utilities (JSON helpers, ID checks, error mapping).
package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/infra"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/job"
	"dispatch/internal/modules/matching"
	"dispatch/internal/modules/tracking"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts UUIDs and short alphanumeric keys.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matching.ErrBadRequest), errors.Is(err, job.ErrBadRequest), errors.Is(err, tracking.ErrInvalidFix):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, matching.ErrDriverIneligible), errors.Is(err, job.ErrNotAssigned):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, job.ErrNotFound), errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, matching.ErrJobAlreadyClaimed),
		errors.Is(err, job.ErrInvalidState), errors.Is(err, job.ErrConflict),
		errors.Is(err, driver.ErrInvalidState), errors.Is(err, driver.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, matching.ErrLocationUnknown):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tracking.ErrTimeout), errors.Is(err, tracking.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, infra.ErrStoreUnavailable):
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, infra.ErrStoreUnavailable.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// queryFloat parses an optional float query parameter. ok is false if the
// parameter is present but malformed.
func queryFloat(c *gin.Context, key string) (v float64, present, ok bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return 0, false, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, false
	}
	return v, true, true
}

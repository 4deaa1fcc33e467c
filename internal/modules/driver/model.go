// README: Driver record and availability status definitions.
package driver

import (
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending" // awaiting onboarding approval
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAvailable, StatusBusy, StatusOffline, StatusSuspended:
		return true
	}
	return false
}

type Driver struct {
	ID              types.ID           `json:"id"`
	Name            string             `json:"name"`
	Phone           string             `json:"phone,omitempty"`
	Email           string             `json:"email,omitempty"`
	VehicleType     string             `json:"vehicle_type,omitempty"`
	VehiclePlate    string             `json:"vehicle_plate,omitempty"`
	Status          Status             `json:"status"`
	Rating          float64            `json:"rating"`
	TotalDeliveries int                `json:"total_deliveries"`
	CurrentLocation *types.GeoLocation `json:"current_location,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Eligible reports whether the driver may claim jobs.
func (d Driver) Eligible() bool {
	return d.Status == StatusAvailable || d.Status == StatusBusy
}

// AllowedTransitions covers driver- and dispatcher-initiated status changes.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAvailable, StatusSuspended},
	StatusAvailable: {StatusBusy, StatusOffline, StatusSuspended},
	StatusBusy:      {StatusAvailable, StatusOffline, StatusSuspended},
	StatusOffline:   {StatusAvailable, StatusSuspended},
	StatusSuspended: {StatusOffline},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// README: Delivery job aggregate and lifecycle status definitions.
package job

import (
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Address is a free-text address with optional coordinates.
type Address struct {
	Line string   `json:"address"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// Point returns the coordinates and whether both are present.
func (a Address) Point() (types.Point, bool) {
	if a.Lat == nil || a.Lng == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *a.Lat, Lng: *a.Lng}, true
}

// Job is a unit of delivery work. A pending job never has a driver; the
// claim sets both fields together.
type Job struct {
	ID          types.ID   `json:"id"`
	OrderID     *types.ID  `json:"order_id,omitempty"`
	Pickup      Address    `json:"pickup"`
	Delivery    Address    `json:"delivery"`
	DistanceKm  *float64   `json:"distance_km,omitempty"`
	Earnings    *float64   `json:"driver_earnings,omitempty"`
	Status      Status     `json:"status"`
	DriverID    *types.ID  `json:"driver_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Open reports whether the job can still be claimed.
func (j Job) Open() bool {
	return j.Status == StatusPending && j.DriverID == nil
}

type Event struct {
	ID         int64
	JobID      types.ID
	FromStatus Status
	ToStatus   Status
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the delivery lifecycle as code.
// pending -> accepted only happens through the claim.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusInTransit},
	StatusInTransit: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

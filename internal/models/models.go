package models

import (
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ServiceType enumerates the kinds of work a job can ask for.
type ServiceType string

const (
	ServiceRide     ServiceType = "ride"
	ServiceDelivery ServiceType = "delivery"
	ServiceShopping ServiceType = "shopping"
	ServiceMoving   ServiceType = "moving"
)

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceRide, ServiceDelivery, ServiceShopping, ServiceMoving:
		return true
	}
	return false
}

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusMatched    JobStatus = "matched"
	StatusPickup     JobStatus = "pickup"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// nextStatuses encodes the job lifecycle. The pending->matched edge is the
// contended one and only the acceptance path may take it; the rest are
// single-writer progressions by the claiming provider.
var nextStatuses = map[JobStatus][]JobStatus{
	StatusPending:    {StatusMatched, StatusCancelled},
	StatusMatched:    {StatusPickup, StatusCancelled},
	StatusPickup:     {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, n := range nextStatuses[s] {
		if n == to {
			return true
		}
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Claimed reports whether the status implies an owning provider.
func (s JobStatus) Claimed() bool {
	switch s {
	case StatusMatched, StatusPickup, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Job struct {
	ID          string      `json:"id"`
	ServiceType ServiceType `json:"service_type"`
	Status      JobStatus   `json:"status"`
	Pickup      Coord       `json:"pickup"`
	Dropoff     *Coord      `json:"dropoff,omitempty"`
	Fare        float64     `json:"fare"`
	ClaimedBy   string      `json:"claimed_by,omitempty"`
	DistanceKm  float64     `json:"distance_km,omitempty"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
)

type Provider struct {
	ID           string       `json:"id"`
	Location     Coord        `json:"location"`
	Online       bool         `json:"online"`
	Approved     bool         `json:"approved"`
	Availability Availability `json:"availability"`
	ActiveJobID  string       `json:"active_job_id,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// LocationUpdate is the wire shape published on the provider-locations topic.
type LocationUpdate struct {
	ProviderID string    `json:"provider_id"`
	Location   Coord     `json:"location"`
	Online     bool      `json:"online"`
	ReportedAt time.Time `json:"reported_at"`
}

// AutoAcceptRule is a provider-owned policy for claiming jobs without manual
// confirmation. Unset condition fields (nil/empty) match everything.
type AutoAcceptRule struct {
	ID            string        `json:"id"`
	ProviderID    string        `json:"provider_id"`
	Enabled       bool          `json:"enabled"`
	Priority      int           `json:"priority"`
	MaxDistanceKm *float64      `json:"max_distance_km,omitempty"`
	MinFare       *float64      `json:"min_fare,omitempty"`
	ServiceTypes  []ServiceType `json:"service_types,omitempty"`
	TimeStart     string        `json:"time_start,omitempty"` // "HH:mm"
	TimeEnd       string        `json:"time_end,omitempty"`   // exclusive
}

type EntityType string

const (
	EntityJob      EntityType = "job"
	EntityProvider EntityType = "provider"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// RealtimeEvent is an immutable record of a state change. Payload carries a
// JSON snapshot of the entity at the time of the change.
type RealtimeEvent struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ChangeKind ChangeKind      `json:"change_kind"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notification is the request shape handed to the external dispatcher; the
// delivery channel (push/email/SMS) is that collaborator's concern.
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

package events

import (
	"time"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
)

// SourceBackend identifies events published by this service.
const SourceBackend = "wishsky.backend"

// Event types carried on the scene bus and to external subscribers.
const (
	TypeSnapshot      = "scene.snapshot"
	TypeWishAdded     = "wish.added"
	TypeFlightStarted = "flight.started"
	TypeFlightFrame   = "flight.frame"
	TypeFlightLanded  = "flight.landed"
	TypeShowAll       = "scene.show_all"
	TypeWishCreated   = "wish.created"
)

// Origin tells where a wish entering the local sky came from.
type Origin string

const (
	OriginLocal  Origin = "local"  // a flight launched in this scene landed
	OriginRemote Origin = "remote" // realtime insert from another viewer
	OriginLoad   Origin = "load"   // initial fetch
	OriginRepair Origin = "repair" // legacy coordinates were normalized
)

// DomainEvent is the base interface for all events
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// Snapshot carries the whole sky, oldest arrival first.
type Snapshot struct {
	BaseEvent
	Wishes []entities.Wish `json:"wishes"`
}

// NewSnapshot creates a Snapshot event
func NewSnapshot(namespace string, wishes []entities.Wish, at time.Time) Snapshot {
	return Snapshot{
		BaseEvent: BaseEvent{AggregateID: namespace, EventType: TypeSnapshot, Timestamp: at},
		Wishes:    wishes,
	}
}

// WishAdded is raised when a star enters (or is repaired in) the local sky.
type WishAdded struct {
	BaseEvent
	Wish   entities.Wish `json:"wish"`
	Origin Origin        `json:"origin"`
}

// NewWishAdded creates a WishAdded event
func NewWishAdded(w entities.Wish, origin Origin, at time.Time) WishAdded {
	return WishAdded{
		BaseEvent: BaseEvent{AggregateID: w.ID, EventType: TypeWishAdded, Timestamp: at},
		Wish:      w,
		Origin:    origin,
	}
}

// FlightStarted is raised when a submission becomes a flying wish.
type FlightStarted struct {
	BaseEvent
	Flying entities.Flying `json:"flying"`
}

// NewFlightStarted creates a FlightStarted event
func NewFlightStarted(f entities.Flying, at time.Time) FlightStarted {
	return FlightStarted{
		BaseEvent: BaseEvent{AggregateID: f.ID, EventType: TypeFlightStarted, Timestamp: at},
		Flying:    f,
	}
}

// FlightFrame is one rendered step of a flight, in scene pixels.
type FlightFrame struct {
	BaseEvent
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Angle   float64 `json:"angle"`
	Opacity float64 `json:"opacity"`
}

// NewFlightFrame creates a FlightFrame event
func NewFlightFrame(id string, x, y, angle, opacity float64, at time.Time) FlightFrame {
	return FlightFrame{
		BaseEvent: BaseEvent{AggregateID: id, EventType: TypeFlightFrame, Timestamp: at},
		X:         x,
		Y:         y,
		Angle:     angle,
		Opacity:   opacity,
	}
}

// FlightLanded is raised once per flight, after its wish joined the sky.
type FlightLanded struct {
	BaseEvent
}

// NewFlightLanded creates a FlightLanded event
func NewFlightLanded(id string, at time.Time) FlightLanded {
	return FlightLanded{BaseEvent: BaseEvent{AggregateID: id, EventType: TypeFlightLanded, Timestamp: at}}
}

// ShowAll asks the presentation layer to pulse every light. Purely cosmetic.
type ShowAll struct {
	BaseEvent
}

// NewShowAll creates a ShowAll event
func NewShowAll(namespace string, at time.Time) ShowAll {
	return ShowAll{BaseEvent: BaseEvent{AggregateID: namespace, EventType: TypeShowAll, Timestamp: at}}
}

// WishCreated is published to external buses after a wish is first stored.
type WishCreated struct {
	BaseEvent
	Username string        `json:"username"`
	Wish     entities.Wish `json:"wish"`
}

// NewWishCreated creates a WishCreated event
func NewWishCreated(username string, w entities.Wish, at time.Time) WishCreated {
	return WishCreated{
		BaseEvent: BaseEvent{AggregateID: w.ID, EventType: TypeWishCreated, Timestamp: at},
		Username:  username,
		Wish:      w,
	}
}

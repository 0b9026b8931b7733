package event

import (
	"strings"
	"time"
)

// Type discriminates the kinds of events the engine accepts.
type Type string

const (
	TypeLifeEvent         Type = "life_event"
	TypeAppeal            Type = "appeal"
	TypeAtonement         Type = "atonement"
	TypeAtonementWithFile Type = "atonement_with_file"
	TypeDeathEvent        Type = "death_event"
	TypeStatsRequest      Type = "stats_request"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeLifeEvent, TypeAppeal, TypeAtonement, TypeAtonementWithFile, TypeDeathEvent, TypeStatsRequest:
		return true
	}
	return false
}

// Scored reports whether events of this type go through axis evaluation.
func (t Type) Scored() bool {
	switch t {
	case TypeLifeEvent, TypeAtonement, TypeAtonementWithFile:
		return true
	}
	return false
}

// IsAtonement reports whether the event carries an atonement act.
func (t Type) IsAtonement() bool {
	return t == TypeAtonement || t == TypeAtonementWithFile
}

// Event is the canonical input model for all incoming karma events.
// It is immutable once recorded.
type Event struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          Type      `json:"type"`
	Role          Role      `json:"role"`
	Action        Action    `json:"action"`
	Description   string    `json:"description"`
	CounterpartID string    `json:"counterpart_user_id,omitempty"`
	Intensity     float64   `json:"intensity,omitempty"` // 0 means 1.0
	EvidenceRef   string    `json:"evidence_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// EffectiveIntensity returns the intensity multiplier, defaulting to 1.
func (e *Event) EffectiveIntensity() float64 {
	if e.Intensity <= 0 {
		return 1
	}
	return e.Intensity
}

// HasCounterpart reports whether the event names another party.
func (e *Event) HasCounterpart() bool {
	return strings.TrimSpace(e.CounterpartID) != ""
}

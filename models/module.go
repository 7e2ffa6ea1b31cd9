// Package models defines the core data structures shared across all layers of
// opsdash. These types are the canonical in-memory form of module state and of
// the lines flowing into module streams; every other package depends on this
// package and nothing here depends on any other internal package.
package models

import (
	"maps"
	"slices"
	"time"
)

// TimeLayout is the timestamp layout used in stream lines and snapshots.
const TimeLayout = "2006-01-02 15:04:05"

// NeverUpdated is how a zero LastUpdate is rendered.
const NeverUpdated = "N/A"

// ModuleState is the mutable record kept for one monitored topic. Exactly one
// collector writes it; every reader receives a copy from Clone.
type ModuleState struct {
	Status     string             `json:"status"`
	Details    string             `json:"details"`
	LastUpdate time.Time          `json:"-"`
	Metrics    map[string]float64 `json:"metrics"`

	// History is a bounded sliding window of recent values. Only modules whose
	// source keeps a window populate it.
	History []float64 `json:"history,omitempty"`

	Insight string `json:"insight"`
}

// Clone returns a deep copy safe to hand to readers.
func (s ModuleState) Clone() ModuleState {
	out := s
	out.Metrics = maps.Clone(s.Metrics)
	if out.Metrics == nil {
		out.Metrics = map[string]float64{}
	}
	out.History = slices.Clone(s.History)
	return out
}

// LastUpdateString renders LastUpdate with TimeLayout, or NeverUpdated.
func (s ModuleState) LastUpdateString() string {
	if s.LastUpdate.IsZero() {
		return NeverUpdated
	}
	return s.LastUpdate.Format(TimeLayout)
}

// Snapshot is the read-only JSON view of a module served by the HTTP API.
type Snapshot struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Dashboard  string             `json:"dashboard"`
	Kind       string             `json:"kind"`
	Status     string             `json:"status"`
	Details    string             `json:"details"`
	LastUpdate string             `json:"last_update"`
	Metrics    map[string]float64 `json:"metrics"`
	History    []float64          `json:"history,omitempty"`
	Insight    string             `json:"insight"`
}

// Update is the outcome of one status cycle, used for formatting and logging.
type Update struct {
	Module  string
	Title   string
	Status  string
	Details string
	Insight string
	At      time.Time
}

// TriggerEvent is an externally supplied event string routed to a module.
type TriggerEvent struct {
	Module string
	Event  string
	At     time.Time
}

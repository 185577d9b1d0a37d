package models

import (
	"github.com/mall-resolver/internal/geo"
)

// RegionCodes holds the six-digit administrative codes of a record.
// An empty string means the code is unknown.
type RegionCodes struct {
	Province string `json:"province,omitempty"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
}

// Store is a branded retail location that may sit inside a mall
type Store struct {
	ID       string       `json:"store_id"`
	Brand    string       `json:"brand,omitempty"`
	Name     string       `json:"name"`
	Address  string       `json:"address,omitempty"`
	Category string       `json:"category,omitempty"`
	Region   RegionCodes  `json:"region"`
	Location *geo.Point   `json:"location,omitempty"` // nil when coordinates are missing or out of bounds
	MallID   string       `json:"mall_id,omitempty"`  // empty when unassigned
	// DistanceKm is the store-to-mall distance recorded at assignment time
	DistanceKm *float64 `json:"distance_km,omitempty"`
	Inactive   bool     `json:"inactive,omitempty"`
}

// Assigned reports whether the store points at a mall
func (s *Store) Assigned() bool {
	return s.MallID != ""
}

// HasLocation reports whether the store has usable coordinates
func (s *Store) HasLocation() bool {
	return s.Location != nil && s.Location.Valid()
}

// Mall is a shopping venue
type Mall struct {
	ID           string      `json:"mall_id"`
	Name         string      `json:"name"`
	OriginalName string      `json:"original_name,omitempty"`
	Region       RegionCodes `json:"region"`
	Location     *geo.Point  `json:"location,omitempty"`
	// StoreCount is derived from store assignments and only written by a recount
	StoreCount int `json:"store_count"`
}

// HasLocation reports whether the mall has usable coordinates
func (m *Mall) HasLocation() bool {
	return m.Location != nil && m.Location.Valid()
}

// CloneStore returns a copy whose pointer fields do not alias the original
func CloneStore(s *Store) *Store {
	c := *s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	if s.DistanceKm != nil {
		d := *s.DistanceKm
		c.DistanceKm = &d
	}
	return &c
}

// CloneMall returns a copy whose pointer fields do not alias the original
func CloneMall(m *Mall) *Mall {
	c := *m
	if m.Location != nil {
		loc := *m.Location
		c.Location = &loc
	}
	return &c
}

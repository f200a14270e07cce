// Package models defines core data structures for items, matches, feedback, and threshold configuration.
package models

import (
	"strings"
	"time"

	"github.com/hyperjump/temuan/internal/matcherr"
)

// Collection names one class of item reports.
type Collection string

const (
	FoundItems Collection = "found_items"
	LostItems  Collection = "lost_items"
)

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	return c == FoundItems || c == LostItems
}

// OpenStatus returns the status an item of this collection has while it can still be matched.
func (c Collection) OpenStatus() Status {
	if c == LostItems {
		return StatusActive
	}
	return StatusAvailable
}

// Status is the lifecycle state of an item.
type Status string

const (
	StatusAvailable Status = "available"
	StatusActive    Status = "active"
	StatusClaimed   Status = "claimed"
	StatusReturned  Status = "returned"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusActive, StatusClaimed, StatusReturned, StatusExpired:
		return true
	}
	return false
}

// Searchable reports whether an item with this status takes part in matching.
func (s Status) Searchable() bool {
	return s == StatusAvailable || s == StatusActive
}

// Modality is the kind of embedding.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityText  Modality = "text"
)

// Item is a lost or found report as stored.
type Item struct {
	ID          string     `json:"id" db:"id"`
	Collection  Collection `json:"collection" db:"collection"`
	Name        string     `json:"item_name" db:"item_name"`
	Description string     `json:"description" db:"description"`
	Category    string     `json:"category,omitempty" db:"category"`
	Location    string     `json:"location,omitempty" db:"location"`
	ImageRefs   []string   `json:"image_refs,omitempty" db:"image_refs"`
	Status      Status     `json:"status" db:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ItemInput is the input for registering an item. Images are raw encoded
// photos; ImageRefs name objects already in the image store.
type ItemInput struct {
	Collection  Collection `json:"collection"`
	Name        string     `json:"item_name"`
	Description string     `json:"description"`
	Category    string     `json:"category,omitempty"`
	Location    string     `json:"location,omitempty"`
	ImageRefs   []string   `json:"image_refs,omitempty"`
	Images      [][]byte   `json:"images,omitempty"`
}

// Validate checks required fields and defaults the collection to found items.
func (in *ItemInput) Validate() error {
	if in.Collection == "" {
		in.Collection = FoundItems
	}
	if !in.Collection.Valid() {
		return matcherr.NewInvalidInput("collection", "must be found_items or lost_items")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return matcherr.NewInvalidInput("item_name", "cannot be empty")
	}
	if strings.TrimSpace(in.Description) == "" && len(in.Images) == 0 && len(in.ImageRefs) == 0 {
		return matcherr.NewInvalidInput("description", "an item needs a description or at least one image")
	}
	return nil
}

// StatusUpdate changes an item's lifecycle state.
type StatusUpdate struct {
	Status    Status `json:"status"`
	ClaimedBy string `json:"claimed_by,omitempty"`
}

// Validate checks the requested status. Claiming requires a claimant.
func (u *StatusUpdate) Validate() error {
	if !u.Status.Valid() {
		return matcherr.NewInvalidInput("status", "must be one of available, active, claimed, returned, expired")
	}
	if u.Status == StatusClaimed && strings.TrimSpace(u.ClaimedBy) == "" {
		return matcherr.NewInvalidInput("claimed_by", "required when status is claimed")
	}
	return nil
}

// CorpusEntry is one searchable embedding with the item fields matching needs.
type CorpusEntry struct {
	ID           string    `json:"id"`
	Modality     Modality  `json:"modality"`
	Embedding    []float32 `json:"-"`
	ModelVersion int64     `json:"model_version"`
	Status       Status    `json:"status"`
	Category     string    `json:"category,omitempty"`
	Name         string    `json:"item_name"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

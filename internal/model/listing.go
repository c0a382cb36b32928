package model

import "time"

// ParkingListing is one published parking spot in the marketplace. Listing
// authoring happens outside this service; the backend serves the read side
// and the dashboard aggregates.
type ParkingListing struct {
	ID           int64     `json:"id" db:"id"`
	Title        string    `json:"title" db:"title"`
	Address      string    `json:"address" db:"address"`
	City         string    `json:"city" db:"city"`
	PricePerHour float64   `json:"price_per_hour" db:"price_per_hour"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

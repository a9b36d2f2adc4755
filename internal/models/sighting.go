package models

import "time"

type Sighting struct {
	SightingID   string    `bson:"sighting_id" json:"sighting_id"`
	UserID       string    `bson:"user_id" json:"user_id"`
	TrainNumber  string    `bson:"train_number" json:"train_number"`
	TrainType    string    `bson:"train_type" json:"train_type"`
	Operator     string    `bson:"operator" json:"operator"`
	Route        *string   `bson:"route,omitempty" json:"route"`
	Location     string    `bson:"location" json:"location"`
	SightingDate string    `bson:"sighting_date" json:"sighting_date"` // Display string, e.g. 2026-10-19
	SightingTime string    `bson:"sighting_time" json:"sighting_time"` // Display string, e.g. 14:05
	Notes        *string   `bson:"notes,omitempty" json:"notes"`
	Photos       []string  `bson:"photos" json:"photos"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// NameCount is one entry of a top-N grouping.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type SightingStats struct {
	TotalSightings  int         `json:"total_sightings"`
	ThisMonth       int         `json:"this_month"`
	UniqueLocations int         `json:"unique_locations"`
	UniqueTrains    int         `json:"unique_trains"`
	LastSighting    *time.Time  `json:"last_sighting"`
	TopTrainTypes   []NameCount `json:"top_train_types"`
	TopOperators    []NameCount `json:"top_operators"`
	TopLocations    []NameCount `json:"top_locations"`
}

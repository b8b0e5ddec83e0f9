package models

import "time"

// Matter is the minimal view of a legal matter the document pipeline needs.
type Matter struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// IndexStore maps a matter to its external search-index collection.
type IndexStore struct {
	MatterID    string    `json:"matter_id"`
	StoreName   string    `json:"store_name"`
	DisplayName string    `json:"display_name"`
	Backend     string    `json:"backend"`
	CreatedAt   time.Time `json:"created_at"`
}

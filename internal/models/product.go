package models

import "time"

// Product is the authoritative internal representation. This service only
// reads products; ownership of the table stays with the store CRUD layer.
type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         string    `json:"price"`
	OriginalPrice string    `json:"original_price,omitempty"`
	ImageURL      string    `json:"image_url"`
	Images        []string  `json:"images,omitempty"`
	Category      string    `json:"category,omitempty"`
	Badge         string    `json:"badge,omitempty"`
	InStock       bool      `json:"in_stock"`
	StockCount    *int      `json:"stock_count,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

package models

// Availability values accepted by the catalog API.
const (
	AvailabilityInStock    = "in stock"
	AvailabilityOutOfStock = "out of stock"
	AvailabilityPreorder   = "preorder"
)

// CatalogItem is the external catalog representation of a product.
// RetailerID equals the source product id and is the idempotency key for
// every catalog operation.
type CatalogItem struct {
	RetailerID          string   `json:"retailer_id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Price               int64    `json:"price"`
	Currency            string   `json:"currency"`
	Availability        string   `json:"availability"`
	ImageURL            string   `json:"image_url"`
	AdditionalImageURLs []string `json:"additional_image_urls,omitempty"`
	Category            string   `json:"category,omitempty"`
	SalePrice           int64    `json:"sale_price,omitempty"`
}

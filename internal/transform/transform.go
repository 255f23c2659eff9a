// Package transform maps internal products to their external catalog form.
// Everything here is pure: no I/O, no clock, no randomness, so the same
// product always transforms to the same item.
package transform

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"metasync/internal/models"
)

// Transform converts a product into its catalog representation. The input
// is assumed to have passed Validate; Transform itself never fails on a
// valid product.
func Transform(p *models.Product) *models.CatalogItem {
	item := &models.CatalogItem{
		RetailerID:   p.ID,
		Name:         clamp(p.Name, models.NameMaxLen),
		Description:  clamp(p.Description, models.DescriptionMaxLen),
		Currency:     models.DefaultCurrency,
		Availability: availability(p),
		ImageURL:     forceHTTPS(p.ImageURL),
		Category:     p.Category,
	}

	priceCents, err := PriceToCents(p.Price)
	if err != nil {
		priceCents = 0
	}
	item.Price = priceCents

	// Sale price only when the original price is strictly above the
	// current one: original becomes the listed price, current the sale.
	if p.OriginalPrice != "" {
		if originalCents, err := PriceToCents(p.OriginalPrice); err == nil && originalCents > priceCents {
			item.Price = originalCents
			item.SalePrice = priceCents
		}
	}

	primary := item.ImageURL
	for _, raw := range p.Images {
		if len(item.AdditionalImageURLs) >= models.MaxAdditionalImgs {
			break
		}
		url := forceHTTPS(raw)
		if url == "" || url == primary {
			continue
		}
		item.AdditionalImageURLs = append(item.AdditionalImageURLs, url)
	}

	return item
}

// Validate gates products before they reach the network layer. A non-empty
// result means the product must be terminally marked as a validation
// failure without consuming any retry budget.
func Validate(p *models.Product) []string {
	var problems []string

	if p.ID == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		problems = append(problems, "description is required")
	}
	if cents, err := PriceToCents(p.Price); err != nil || cents <= 0 {
		problems = append(problems, fmt.Sprintf("price must be a positive amount, got %q", p.Price))
	}
	if !strings.HasPrefix(p.ImageURL, "http://") && !strings.HasPrefix(p.ImageURL, "https://") {
		problems = append(problems, "image url must be an http(s) URL")
	}

	return problems
}

// HasChanged compares the fields the catalog actually renders. Used by
// reconciliation to skip no-op network calls.
func HasChanged(current, previous *models.CatalogItem) bool {
	if current == nil || previous == nil {
		return current != previous
	}
	switch {
	case current.Name != previous.Name,
		current.Description != previous.Description,
		current.Price != previous.Price,
		current.SalePrice != previous.SalePrice,
		current.Availability != previous.Availability,
		current.ImageURL != previous.ImageURL,
		current.Category != previous.Category:
		return true
	}
	return false
}

// PriceToCents converts a decimal price string into integer minor units,
// rounding to the nearest cent. Parsing is done on the digits themselves
// to avoid float drift on values like "0.29".
func PriceToCents(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, fracPart = s[:idx], s[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}

	var cents int64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid price %q", raw)
		}
		cents = cents*10 + int64(c-'0')
		if cents > 1<<52 {
			return 0, fmt.Errorf("price %q out of range", raw)
		}
	}
	cents *= 100

	for i, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid price %q", raw)
		}
		digit := int64(c - '0')
		switch i {
		case 0:
			cents += digit * 10
		case 1:
			cents += digit
		case 2:
			// Round half up on the third decimal
			if digit >= 5 {
				cents++
			}
		}
	}

	if negative {
		cents = -cents
	}
	return cents, nil
}

func availability(p *models.Product) string {
	if p.InStock && (p.StockCount == nil || *p.StockCount > 0) {
		return models.AvailabilityInStock
	}
	return models.AvailabilityOutOfStock
}

func forceHTTPS(url string) string {
	if strings.HasPrefix(url, "http://") {
		return "https://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Never cut in the middle of a multibyte rune.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

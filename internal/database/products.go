package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"metasync/internal/models"
)

// ErrProductNotFound is returned when the product id is unknown to the
// store. The processor treats it as terminal, not retryable.
var ErrProductNotFound = errors.New("product not found")

const productColumns = `id, name, description, price, original_price, image_url, images, category, badge, in_stock, stock_count, updated_at`

func (db *DB) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	p, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (db *DB) GetAllProducts(ctx context.Context) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		p             models.Product
		description   sql.NullString
		originalPrice sql.NullString
		imageURL      sql.NullString
		imagesJSON    sql.NullString
		category      sql.NullString
		badge         sql.NullString
		stockCount    sql.NullInt64
	)

	err := row.Scan(
		&p.ID, &p.Name, &description, &p.Price, &originalPrice, &imageURL,
		&imagesJSON, &category, &badge, &p.InStock, &stockCount, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.OriginalPrice = originalPrice.String
	p.ImageURL = imageURL.String
	p.Category = category.String
	p.Badge = badge.String
	if stockCount.Valid {
		count := int(stockCount.Int64)
		p.StockCount = &count
	}
	if imagesJSON.Valid && imagesJSON.String != "" {
		if err := json.Unmarshal([]byte(imagesJSON.String), &p.Images); err != nil {
			return nil, fmt.Errorf("failed to decode images json: %w", err)
		}
	}

	return &p, nil
}

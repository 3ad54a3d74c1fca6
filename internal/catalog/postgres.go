package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the products table the Postgres provider reads.
const Schema = `
CREATE TABLE IF NOT EXISTS catalog_products (
	tenant_id       TEXT NOT NULL,
	catalog_version TEXT NOT NULL,
	id              TEXT NOT NULL,
	sku             TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL,
	slug            TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	price_minor     BIGINT NOT NULL,
	currency        TEXT NOT NULL,
	image_ids       TEXT[] NOT NULL DEFAULT '{}',
	compatibility   DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
	reviews         JSONB NOT NULL DEFAULT '[]',
	in_stock        BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (tenant_id, catalog_version, id)
)`

// PostgresProvider lists products with keyset pagination on id; the cursor
// is the last id of the previous page.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider connects a pool to dsn.
func NewPostgresProvider(ctx context.Context, dsn string) (*PostgresProvider, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach catalog database: %w", err)
	}
	return &PostgresProvider{pool: pool}, nil
}

// EnsureSchema creates the products table when missing.
func (p *PostgresProvider) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return err
}

// Close releases the pool.
func (p *PostgresProvider) Close() {
	p.pool.Close()
}

// Upsert writes products for a tenant version in one transaction.
func (p *PostgresProvider) Upsert(ctx context.Context, tenantID, version string, products []Product) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, pr := range products {
		reviews, err := json.Marshal(pr.Reviews)
		if err != nil {
			return err
		}
		if pr.ImageIDs == nil {
			pr.ImageIDs = []string{}
		}
		batch.Queue(`
			INSERT INTO catalog_products
				(tenant_id, catalog_version, id, sku, name, slug, description, category,
				 price_minor, currency, image_ids, compatibility, rating, reviews, in_stock)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (tenant_id, catalog_version, id) DO UPDATE SET
				sku = EXCLUDED.sku, name = EXCLUDED.name, slug = EXCLUDED.slug,
				description = EXCLUDED.description, category = EXCLUDED.category,
				price_minor = EXCLUDED.price_minor, currency = EXCLUDED.currency,
				image_ids = EXCLUDED.image_ids, compatibility = EXCLUDED.compatibility,
				rating = EXCLUDED.rating, reviews = EXCLUDED.reviews, in_stock = EXCLUDED.in_stock`,
			tenantID, version, pr.ID, pr.SKU, pr.Name, pr.Slug, pr.Description, pr.Category,
			pr.PriceMinor, pr.Currency, pr.ImageIDs, pr.Compatibility, pr.Rating, reviews, pr.InStock)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert products: %w", err)
	}
	return tx.Commit(ctx)
}

// ListProducts implements Provider.
func (p *PostgresProvider) ListProducts(ctx context.Context, tenantID, version, cursor string, limit int) (Page, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sku, name, slug, description, category, price_minor, currency,
		       image_ids, compatibility, rating, reviews, in_stock
		FROM catalog_products
		WHERE tenant_id = $1 AND catalog_version = $2 AND id > $3
		ORDER BY id
		LIMIT $4`, tenantID, version, cursor, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var (
			pr      Product
			reviews []byte
		)
		if err := rows.Scan(
			&pr.ID, &pr.SKU, &pr.Name, &pr.Slug, &pr.Description, &pr.Category,
			&pr.PriceMinor, &pr.Currency, &pr.ImageIDs, &pr.Compatibility, &pr.Rating,
			&reviews, &pr.InStock,
		); err != nil {
			return Page{}, fmt.Errorf("failed to scan product: %w", err)
		}
		if len(reviews) > 0 {
			if err := json.Unmarshal(reviews, &pr.Reviews); err != nil {
				return Page{}, fmt.Errorf("failed to decode reviews of %s: %w", pr.ID, err)
			}
		}
		products = append(products, pr)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("error iterating products: %w", err)
	}

	page := Page{Products: products}
	if len(products) > limit {
		page.Products = products[:limit]
		page.NextCursor = products[limit-1].ID
	}
	return page, nil
}

package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("listing: not found")
)

const listingColumns = `id, seller_id, product_id, price, currency, quantity, condition, location, created_at, updated_at, expires_at`

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, l Listing) (Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	ListActive(ctx context.Context, filters Filters) ([]Listing, int, error)
	SearchActive(ctx context.Context, query string, filters Filters) ([]Listing, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, l Listing) (Listing, error) {
	const query = `
        INSERT INTO listings (id, seller_id, product_id, price, currency, quantity, condition, location, expires_at)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING ` + listingColumns

	row := tx.QueryRow(ctx, query,
		l.ID,
		l.SellerID,
		l.ProductID,
		l.Price,
		l.Currency,
		l.Quantity,
		l.Condition,
		l.Location,
		l.ExpiresAt,
	)

	return scanListing(row)
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get by id: %w", err)
	}
	return l, nil
}

func (r *PGRepository) ListActive(ctx context.Context, filters Filters) ([]Listing, int, error) {
	return r.queryActive(ctx, "", filters)
}

// SearchActive matches the free-text query against product, condition and
// location fields on top of the structured filters.
func (r *PGRepository) SearchActive(ctx context.Context, query string, filters Filters) ([]Listing, int, error) {
	return r.queryActive(ctx, strings.TrimSpace(query), filters)
}

func (r *PGRepository) queryActive(ctx context.Context, text string, filters Filters) ([]Listing, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortKey == "" {
		filters.SortKey = "created_at"
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "desc"
	}

	base := `SELECT ` + listingColumns + ` FROM listings`
	where := []string{"quantity > 0", "expires_at > now()"}
	args := []any{}

	if filters.ProductID != "" {
		where = append(where, fmt.Sprintf("product_id=$%d", len(args)+1))
		args = append(args, filters.ProductID)
	}
	if filters.SellerID != "" {
		where = append(where, fmt.Sprintf("seller_id=$%d", len(args)+1))
		args = append(args, filters.SellerID)
	}
	if filters.Currency != "" {
		where = append(where, fmt.Sprintf("currency=$%d", len(args)+1))
		args = append(args, filters.Currency)
	}
	if filters.Condition != "" {
		where = append(where, fmt.Sprintf("condition=$%d", len(args)+1))
		args = append(args, filters.Condition)
	}
	if filters.Location != "" {
		where = append(where, fmt.Sprintf("location ILIKE $%d", len(args)+1))
		args = append(args, "%"+filters.Location+"%")
	}
	if filters.PriceMin > 0 {
		where = append(where, fmt.Sprintf("price >= $%d", len(args)+1))
		args = append(args, filters.PriceMin)
	}
	if filters.PriceMax > 0 {
		where = append(where, fmt.Sprintf("price <= $%d", len(args)+1))
		args = append(args, filters.PriceMax)
	}
	if text != "" {
		n := len(args) + 1
		where = append(where, fmt.Sprintf("(product_id ILIKE $%d OR condition ILIKE $%d OR location ILIKE $%d)", n, n, n))
		args = append(args, "%"+text+"%")
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing: query active: %w", err)
	}
	defer rows.Close()

	list := []Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listing: scan: %w", err)
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing: iterate: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM listings%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listing: count active: %w", err)
	}

	return list, total, nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var l Listing
	return l, row.Scan(
		&l.ID,
		&l.SellerID,
		&l.ProductID,
		&l.Price,
		&l.Currency,
		&l.Quantity,
		&l.Condition,
		&l.Location,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.ExpiresAt,
	)
}

func mapSortKey(key string) string {
	switch key {
	case "price":
		return "price"
	case "quantity":
		return "quantity"
	case "expiresAt":
		return "expires_at"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}

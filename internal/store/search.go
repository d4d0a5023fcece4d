package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/models"
)

// Date-range selectors for ProductSearch.DateRange.
const (
	DateRangeAll      = "all"
	DateRangeDay      = "1d"
	DateRangeWeek     = "1w"
	DateRangeMonth    = "1m"
	DateRangeHalfYear = "6m"
)

// Search-by selectors for ProductSearch.SearchBy. Name and creator are
// mutually exclusive.
const (
	SearchByName    = "name"
	SearchByCreator = "creator"
)

// ProductSearch is the filter object handed in by the search form. Every
// field is optional; an unset field contributes no condition at all.
type ProductSearch struct {
	DateRange  string
	SellStatus string
	SearchBy   string
	Query      string
}

// predicate is one optional boolean condition. The expr holds a single
// %d verb that receives the positional argument number when the clause
// list is folded into a WHERE.
type predicate struct {
	expr string
	arg  interface{}
}

// predicates folds the search form into its non-empty conditions.
// Absent filters are skipped entirely rather than contributing an
// always-false clause.
func (s ProductSearch) predicates(now time.Time) []predicate {
	var preds []predicate

	if cutoff, ok := s.dateCutoff(now); ok {
		preds = append(preds, predicate{"p.created_at >= $%d", cutoff})
	}

	if s.SellStatus != "" {
		preds = append(preds, predicate{"p.sell_status = $%d", s.SellStatus})
	}

	switch s.SearchBy {
	case SearchByName:
		preds = append(preds, predicate{"p.name LIKE $%d", "%" + s.Query + "%"})
	case SearchByCreator:
		preds = append(preds, predicate{"p.created_by LIKE $%d", "%" + s.Query + "%"})
	}

	return preds
}

func (s ProductSearch) dateCutoff(now time.Time) (time.Time, bool) {
	switch s.DateRange {
	case DateRangeDay:
		return now.AddDate(0, 0, -1), true
	case DateRangeWeek:
		return now.AddDate(0, 0, -7), true
	case DateRangeMonth:
		return now.AddDate(0, -1, 0), true
	case DateRangeHalfYear:
		return now.AddDate(0, -6, 0), true
	default:
		// "all" or unset: no date condition.
		return time.Time{}, false
	}
}

// whereClause AND-combines static conditions and numbered predicates
// into a WHERE fragment. Predicate arguments are numbered after
// argOffset so callers can prepend their own positional args.
func whereClause(static []string, preds []predicate, argOffset int) (string, []interface{}) {
	clauses := append([]string{}, static...)

	args := make([]interface{}, 0, len(preds))
	for i, p := range preds {
		clauses = append(clauses, fmt.Sprintf(p.expr, argOffset+i+1))
		args = append(args, p.arg)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// AdminProductPage returns one zero-based page of products matching the
// search form, newest-id-first, plus the independently-counted total.
// Count and page run in one read-only transaction so a concurrent write
// cannot tear the total away from the rows.
func AdminProductPage(ctx context.Context, db *sql.DB, search ProductSearch, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = normalizePaging(page, pageSize)

	preds := search.predicates(time.Now())
	where, args := whereClause(nil, preds, 0)

	var result *OffsetPage

	err := database.WithTransaction(ctx, db, database.ReadOnlyTxOptions(), func(tx *sql.Tx) error {
		var total int64
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&total)
		if err != nil {
			return fmt.Errorf("count products: %w", err)
		}

		query := fmt.Sprintf(`
			SELECT p.id, p.name, p.price, p.stock, p.detail, p.sell_status, p.created_by, p.created_at, p.updated_at, p.version
			FROM products p%s
			ORDER BY p.id DESC
			LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)

		rows, err := tx.QueryContext(ctx, query, append(args, pageSize, page*pageSize)...)
		if err != nil {
			return fmt.Errorf("search products: %w", err)
		}
		defer rows.Close()

		products := []models.Product{}
		for rows.Next() {
			var p models.Product
			err := rows.Scan(
				&p.ID,
				&p.Name,
				&p.Price,
				&p.Stock,
				&p.Detail,
				&p.SellStatus,
				&p.CreatedBy,
				&p.CreatedAt,
				&p.UpdatedAt,
				&p.Version,
			)
			if err != nil {
				return fmt.Errorf("scan product: %w", err)
			}
			products = append(products, p)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		result = newOffsetPage(products, total, page, pageSize)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MainProduct is one row on the storefront listing: the product joined
// to its representative image.
type MainProduct struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Detail string          `json:"detail"`
	ImgURL string          `json:"img_url"`
	Price  decimal.Decimal `json:"price"`
}

// MainProductPage returns the storefront listing: products that have a
// representative image, optionally filtered by a name substring,
// newest-id-first with an independent total count.
func MainProductPage(ctx context.Context, db *sql.DB, search ProductSearch, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = normalizePaging(page, pageSize)

	var preds []predicate
	if search.Query != "" {
		preds = append(preds, predicate{"p.name LIKE $%d", "%" + search.Query + "%"})
	}

	// The representative-image join is mandatory on the storefront:
	// products without one never appear.
	from := `
		FROM products p
		JOIN product_images pi ON pi.product_id = p.id AND pi.is_representative`

	where, args := whereClause(nil, preds, 0)

	var result *OffsetPage

	err := database.WithTransaction(ctx, db, database.ReadOnlyTxOptions(), func(tx *sql.Tx) error {
		var total int64
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total)
		if err != nil {
			return fmt.Errorf("count main products: %w", err)
		}

		query := fmt.Sprintf(`
			SELECT p.id, p.name, p.detail, pi.img_url, p.price%s%s
			ORDER BY p.id DESC
			LIMIT $%d OFFSET $%d`, from, where, len(args)+1, len(args)+2)

		rows, err := tx.QueryContext(ctx, query, append(args, pageSize, page*pageSize)...)
		if err != nil {
			return fmt.Errorf("list main products: %w", err)
		}
		defer rows.Close()

		products := []MainProduct{}
		for rows.Next() {
			var p MainProduct
			if err := rows.Scan(&p.ID, &p.Name, &p.Detail, &p.ImgURL, &p.Price); err != nil {
				return fmt.Errorf("scan main product: %w", err)
			}
			products = append(products, p)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		result = newOffsetPage(products, total, page, pageSize)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

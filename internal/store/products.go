package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/models"
)

const productColumns = `id, name, price, stock, detail, sell_status, created_by, created_at, updated_at, version`

func scanProduct(row *sql.Row) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Price,
		&product.Stock,
		&product.Detail,
		&product.SellStatus,
		&product.CreatedBy,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func CreateProduct(ctx context.Context, db *sql.DB, name string, price decimal.Decimal, stock int, detail, createdBy string) (*models.Product, error) {
	sellStatus := models.SellStatusOnSale
	if stock == 0 {
		sellStatus = models.SellStatusSoldOut
	}

	query := `
		INSERT INTO products (name, price, stock, detail, sell_status, created_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, name, price, stock, detail, sellStatus, createdBy))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ProductForm is the administrative edit snapshot. UpdateProduct
// replaces name, price, stock, detail, and sell status wholesale.
type ProductForm struct {
	Name       string
	Price      decimal.Decimal
	Stock      int
	Detail     string
	SellStatus string
}

// UpdateProduct applies an admin form snapshot with an optimistic
// version check. A stale version fails with ErrVersionConflict so a
// concurrent edit is never silently overwritten.
func UpdateProduct(ctx context.Context, db *sql.DB, id int64, form ProductForm, version int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET name = $1, price = $2, stock = $3, detail = $4, sell_status = $5,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $6 AND version = $7`,
		form.Name, form.Price, form.Stock, form.Detail, form.SellStatus, id, version)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}
		return database.ErrVersionConflict
	}

	return nil
}

// AdjustStock adds delta (which may be negative) to a product's stock
// under a row lock. A result below zero fails with ErrOutOfStock and
// leaves the row untouched. The NOWAIT lock surfaces contention as a
// lock timeout, which the retry loop absorbs with backoff.
func AdjustStock(ctx context.Context, db *sql.DB, productID int64, delta int) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := lockProduct(ctx, tx, productID); err != nil {
			return err
		}
		return adjustStockTx(ctx, tx, productID, delta)
	})
}

// lockProduct acquires a row lock without waiting, so contended stock
// mutations surface as retryable lock timeouts instead of queueing.
func lockProduct(ctx context.Context, tx *sql.Tx, productID int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE NOWAIT`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	return product, nil
}

// adjustStockTx applies the delta with a conditional update. The
// stock >= -delta guard keeps the non-negative invariant even if the
// caller's read went stale.
func adjustStockTx(ctx context.Context, tx *sql.Tx, productID int64, delta int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock + $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock + $1 >= 0`,
		delta, productID)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOutOfStock
	}

	return nil
}

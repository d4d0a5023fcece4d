package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dwkim/go-shop-store/internal/database"
)

// CartDetail is one cart line as shown on the cart page, joined to the
// product's name, current price, and representative image.
type CartDetail struct {
	CartLineID int64           `json:"cart_line_id"`
	ProductID  int64           `json:"product_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	ImgURL     string          `json:"img_url"`
}

// AddToCart puts quantity units of a product into the member's cart and
// returns the affected line's id. The cart is created lazily on first
// add. Adding a product that is already in the cart merges into the
// existing line instead of creating a duplicate.
func AddToCart(ctx context.Context, db *sql.DB, email string, productID int64, quantity int) (int64, error) {
	if quantity <= 0 {
		return 0, database.ErrInvalidQuantity
	}

	var lineID int64

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		memberID, err := memberIDByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}

		cartID, err := ensureCart(ctx, tx, memberID)
		if err != nil {
			return err
		}

		// Merge semantics: the (cart, product) pair is unique, so a
		// concurrent add lands on the same row.
		err = tx.QueryRowContext(ctx,
			`INSERT INTO cart_lines (cart_id, product_id, quantity, created_at, updated_at)
			 VALUES ($1, $2, $3, NOW(), NOW())
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity, updated_at = NOW()
			 RETURNING id`,
			cartID, productID, quantity).Scan(&lineID)
		if err != nil {
			return fmt.Errorf("upsert cart line: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return lineID, nil
}

func ensureCart(ctx context.Context, tx *sql.Tx, memberID int64) (int64, error) {
	var cartID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO carts (member_id, created_at)
		 VALUES ($1, NOW())
		 ON CONFLICT (member_id) DO UPDATE SET member_id = EXCLUDED.member_id
		 RETURNING id`,
		memberID).Scan(&cartID)
	if err != nil {
		return 0, fmt.Errorf("ensure cart: %w", err)
	}
	return cartID, nil
}

// ListCart returns the member's cart lines newest-first, read in one
// read-only transaction. A member who has never added anything gets an
// empty slice, not an error.
func ListCart(ctx context.Context, db *sql.DB, email string) ([]CartDetail, error) {
	var details []CartDetail

	err := database.WithTransaction(ctx, db, database.ReadOnlyTxOptions(), func(tx *sql.Tx) error {
		memberID, err := memberIDByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		query := `
			SELECT cl.id, p.id, p.name, p.price, cl.quantity, COALESCE(pi.img_url, '')
			FROM cart_lines cl
			JOIN carts c ON c.id = cl.cart_id
			JOIN products p ON p.id = cl.product_id
			LEFT JOIN product_images pi ON pi.product_id = p.id AND pi.is_representative
			WHERE c.member_id = $1
			ORDER BY cl.created_at DESC, cl.id DESC`

		rows, err := tx.QueryContext(ctx, query, memberID)
		if err != nil {
			return fmt.Errorf("list cart: %w", err)
		}
		defer rows.Close()

		details = []CartDetail{}
		for rows.Next() {
			var d CartDetail
			err := rows.Scan(&d.CartLineID, &d.ProductID, &d.Name, &d.Price, &d.Quantity, &d.ImgURL)
			if err != nil {
				return fmt.Errorf("scan cart line: %w", err)
			}
			details = append(details, d)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return details, nil
}

// CartLineOwnedBy reports whether the line belongs to a cart owned by
// the member. It is an ownership lookup only; the calling layer is
// responsible for turning a mismatch into a permission error before any
// mutating call.
func CartLineOwnedBy(ctx context.Context, db *sql.DB, lineID int64, email string) (bool, error) {
	var owned bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1
			FROM cart_lines cl
			JOIN carts c ON c.id = cl.cart_id
			JOIN members m ON m.id = c.member_id
			WHERE cl.id = $1 AND m.email = $2
		)`,
		lineID, email).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check cart line ownership: %w", err)
	}
	return owned, nil
}

// UpdateCartLineQuantity replaces the stored quantity. Validating the
// new quantity is the caller's contract.
func UpdateCartLineQuantity(ctx context.Context, db *sql.DB, lineID int64, quantity int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = $1, updated_at = NOW() WHERE id = $2`,
		quantity, lineID)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartLineNotFound
	}

	return nil
}

// RemoveCartLine deletes the line. Removal is not idempotent: a second
// call for the same id fails with ErrCartLineNotFound.
func RemoveCartLine(ctx context.Context, db *sql.DB, lineID int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartLineNotFound
	}

	return nil
}

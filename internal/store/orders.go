package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/models"
)

type OrderLineRequest struct {
	ProductID int64
	Quantity  int
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s", uuid.NewString())
}

// PlaceOrder creates one order from the given (product, quantity) pairs
// for the authenticated member. Each line locks its product row, checks
// stock, snapshots the current unit price, and decrements stock; a
// failure on any line rolls the whole order back. Returns the new
// order's id.
func PlaceOrder(ctx context.Context, db *sql.DB, email string, items []OrderLineRequest) (int64, error) {
	if len(items) == 0 {
		return 0, database.ErrInvalidQuantity
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return 0, database.ErrInvalidQuantity
		}
	}

	var orderID int64

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		memberID, err := memberIDByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		id, err := createOrderTx(ctx, tx, memberID, items)
		if err != nil {
			return err
		}

		orderID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	return orderID, nil
}

// PlaceOrderFromCart converts the referenced cart lines into an order.
// Ownership of every line must already have been validated by the
// caller. The consumed lines are deleted in the same transaction as the
// order creation, so the same cart contents cannot be checked out twice.
func PlaceOrderFromCart(ctx context.Context, db *sql.DB, email string, cartLineIDs []int64) (int64, error) {
	if len(cartLineIDs) == 0 {
		return 0, database.ErrCartLineNotFound
	}

	var orderID int64

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		memberID, err := memberIDByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		items := make([]OrderLineRequest, 0, len(cartLineIDs))
		for _, lineID := range cartLineIDs {
			var item OrderLineRequest
			// Lock the line so a concurrent quantity update cannot land
			// between this read and the delete below.
			err := tx.QueryRowContext(ctx,
				`SELECT product_id, quantity FROM cart_lines WHERE id = $1 FOR UPDATE`,
				lineID).Scan(&item.ProductID, &item.Quantity)
			if err != nil {
				if err == sql.ErrNoRows {
					return database.ErrCartLineNotFound
				}
				return fmt.Errorf("read cart line %d: %w", lineID, err)
			}
			items = append(items, item)
		}

		id, err := createOrderTx(ctx, tx, memberID, items)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM cart_lines WHERE id = ANY($1)`, pq.Array(cartLineIDs))
		if err != nil {
			return fmt.Errorf("delete consumed cart lines: %w", err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if deleted != int64(len(cartLineIDs)) {
			return database.ErrCartLineNotFound
		}

		orderID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	return orderID, nil
}

// createOrderTx is the shared per-line placement path: lines are
// processed in the order given, each under a product row lock.
func createOrderTx(ctx context.Context, tx *sql.Tx, memberID int64, items []OrderLineRequest) (int64, error) {
	prices := make([]decimal.Decimal, len(items))

	for i, item := range items {
		product, err := lockProduct(ctx, tx, item.ProductID)
		if err != nil {
			return 0, err
		}

		if product.Stock < item.Quantity {
			return 0, database.ErrOutOfStock
		}

		if err := adjustStockTx(ctx, tx, item.ProductID, -item.Quantity); err != nil {
			return 0, err
		}

		prices[i] = product.Price
	}

	var orderID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (member_id, order_number, status, order_date, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW(), NOW())
		 RETURNING id`,
		memberID, generateOrderNumber(), models.OrderStatusPlaced).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}

	for i, item := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, product_id, quantity, order_price, created_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			orderID, item.ProductID, item.Quantity, prices[i])
		if err != nil {
			return 0, fmt.Errorf("create order line: %w", err)
		}
	}

	return orderID, nil
}

// CancelOrder flips a placed order to CANCELLED and restores every
// line's quantity to its product's stock. The transition is guarded: an
// already-cancelled order fails with ErrOrderAlreadyCancelled and never
// double-credits stock.
func CancelOrder(ctx context.Context, db *sql.DB, orderID int64) error {
	return database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&status)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if status == models.OrderStatusCancelled {
			return database.ErrOrderAlreadyCancelled
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity FROM order_lines WHERE order_id = $1 ORDER BY id`,
			orderID)
		if err != nil {
			return fmt.Errorf("read order lines: %w", err)
		}

		type restock struct {
			productID int64
			quantity  int
		}
		var restocks []restock
		for rows.Next() {
			var r restock
			if err := rows.Scan(&r.productID, &r.quantity); err != nil {
				rows.Close()
				return fmt.Errorf("scan order line: %w", err)
			}
			restocks = append(restocks, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("rows error: %w", err)
		}
		rows.Close()

		for _, r := range restocks {
			if _, err := lockProduct(ctx, tx, r.productID); err != nil {
				return err
			}
			if err := adjustStockTx(ctx, tx, r.productID, r.quantity); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.OrderStatusCancelled, orderID)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		return nil
	})
}

// GetOrder reads the order header and its lines in one read-only
// snapshot, so the lines always match the status they are returned
// with.
func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, member_id, order_number, status, order_date, created_at, updated_at
		FROM orders
		WHERE id = $1`

	err := database.WithTransaction(ctx, db, database.ReadOnlyTxOptions(), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, query, id).Scan(
			&order.ID,
			&order.MemberID,
			&order.OrderNumber,
			&order.Status,
			&order.OrderDate,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("get order: %w", err)
		}

		lines, err := orderLines(ctx, tx, id)
		if err != nil {
			return err
		}
		order.Lines = lines

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func orderLines(ctx context.Context, q querier, orderID int64) ([]models.OrderLine, error) {
	query := `
		SELECT id, order_id, product_id, quantity, order_price, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.Quantity,
			&line.OrderPrice,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// OrderHistory is one order on the member's history page.
type OrderHistory struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	OrderDate   time.Time          `json:"order_date"`
	Status      string             `json:"status"`
	TotalPrice  decimal.Decimal    `json:"total_price"`
	Lines       []OrderHistoryLine `json:"lines"`
}

// OrderHistoryLine carries the snapshot price the order was placed at,
// plus the product's name and representative image for display.
type OrderHistoryLine struct {
	ProductID  int64           `json:"product_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	OrderPrice decimal.Decimal `json:"order_price"`
	ImgURL     string          `json:"img_url"`
}

// ListOrders returns one zero-based page of the member's orders, newest
// first, with a separately-counted total. Lines are enriched with the
// product name and representative image URL. The count, page, and line
// reads share one read-only transaction so the total always agrees with
// the rows.
func ListOrders(ctx context.Context, db *sql.DB, email string, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = normalizePaging(page, pageSize)

	var result *OffsetPage

	err := database.WithTransaction(ctx, db, database.ReadOnlyTxOptions(), func(tx *sql.Tx) error {
		memberID, err := memberIDByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		var total int64
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM orders WHERE member_id = $1`, memberID).Scan(&total)
		if err != nil {
			return fmt.Errorf("count orders: %w", err)
		}

		query := `
			SELECT id, order_number, status, order_date
			FROM orders
			WHERE member_id = $1
			ORDER BY order_date DESC, id DESC
			LIMIT $2 OFFSET $3`

		rows, err := tx.QueryContext(ctx, query, memberID, pageSize, page*pageSize)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}

		histories := []OrderHistory{}
		for rows.Next() {
			var h OrderHistory
			if err := rows.Scan(&h.OrderID, &h.OrderNumber, &h.Status, &h.OrderDate); err != nil {
				rows.Close()
				return fmt.Errorf("scan order: %w", err)
			}
			histories = append(histories, h)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("rows error: %w", err)
		}
		// The tx runs on a single connection, so the page rows must be
		// drained and closed before the line queries below.
		rows.Close()

		for i := range histories {
			lines, sum, err := orderHistoryLines(ctx, tx, histories[i].OrderID)
			if err != nil {
				return err
			}
			histories[i].Lines = lines
			histories[i].TotalPrice = sum
		}

		result = newOffsetPage(histories, total, page, pageSize)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func orderHistoryLines(ctx context.Context, q querier, orderID int64) ([]OrderHistoryLine, decimal.Decimal, error) {
	query := `
		SELECT ol.product_id, p.name, ol.quantity, ol.order_price, COALESCE(pi.img_url, '')
		FROM order_lines ol
		JOIN products p ON p.id = ol.product_id
		LEFT JOIN product_images pi ON pi.product_id = p.id AND pi.is_representative
		WHERE ol.order_id = $1
		ORDER BY ol.id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("get order history lines: %w", err)
	}
	defer rows.Close()

	var lines []OrderHistoryLine
	total := decimal.Zero
	for rows.Next() {
		var line OrderHistoryLine
		err := rows.Scan(&line.ProductID, &line.Name, &line.Quantity, &line.OrderPrice, &line.ImgURL)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("scan order history line: %w", err)
		}
		total = total.Add(line.OrderPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("rows error: %w", err)
	}

	return lines, total, nil
}

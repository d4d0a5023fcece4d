package integration

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/models"
	"github.com/dwkim/go-shop-store/internal/store"
)

func registerMember(t *testing.T, db *sql.DB, email string) *models.Member {
	t.Helper()
	member, err := store.RegisterMember(context.Background(), db, email, "Test Member", "pw1234", "Seoul")
	require.NoError(t, err)
	return member
}

func createProduct(t *testing.T, db *sql.DB, name string, price int64, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, name, decimal.NewFromInt(price), stock, "detail", "admin@shop.test")
	require.NoError(t, err)
	return product
}

func TestPlaceOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "order1@shop.test")
	product := createProduct(t, db, "Film Camera", 10000, 100)

	orderID, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product.ID, Quantity: 10},
	})
	require.NoError(t, err)
	assert.NotZero(t, orderID)

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, after.Stock)

	order, err := store.GetOrder(ctx, db, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPlaced, order.Status)
	assert.True(t, order.TotalPrice().Equal(decimal.NewFromInt(100000)))
}

func TestPlaceOrderSnapshotsPrice(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "order2@shop.test")
	product := createProduct(t, db, "Tripod", 5000, 10)

	orderID, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product.ID, Quantity: 2},
	})
	require.NoError(t, err)

	// A later catalog price change must not alter the historical order.
	err = store.UpdateProduct(ctx, db, product.ID, store.ProductForm{
		Name:       product.Name,
		Price:      decimal.NewFromInt(9999),
		Stock:      8,
		Detail:     product.Detail,
		SellStatus: product.SellStatus,
	}, product.Version)
	require.NoError(t, err)

	order, err := store.GetOrder(ctx, db, orderID)
	require.NoError(t, err)
	assert.True(t, order.TotalPrice().Equal(decimal.NewFromInt(10000)))
}

func TestPlaceOrderOutOfStockBoundary(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "order3@shop.test")
	product := createProduct(t, db, "Lens Cap", 1000, 5)

	// One more than remaining stock fails and leaves stock unchanged.
	_, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product.ID, Quantity: 6},
	})
	assert.ErrorIs(t, err, database.ErrOutOfStock)

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Stock)

	// Exactly the remaining stock succeeds and leaves stock at zero.
	_, err = store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product.ID, Quantity: 5},
	})
	require.NoError(t, err)

	after, err = store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Stock)
}

func TestPlaceOrderMultiLineRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "order4@shop.test")
	product1 := createProduct(t, db, "Strap", 2000, 50)
	product2 := createProduct(t, db, "Filter", 3000, 1)

	// The second line fails, so the first line's decrement must roll back.
	_, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product1.ID, Quantity: 10},
		{ProductID: product2.ID, Quantity: 2},
	})
	assert.ErrorIs(t, err, database.ErrOutOfStock)

	after1, err := store.GetProduct(ctx, db, product1.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, after1.Stock)

	after2, err := store.GetProduct(ctx, db, product2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after2.Stock)
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	member := registerMember(t, db, "order5@shop.test")

	_, err := store.PlaceOrder(context.Background(), db, member.Email, []store.OrderLineRequest{
		{ProductID: 99999, Quantity: 1},
	})
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestCancelOrderRestoresStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "cancel1@shop.test")
	product := createProduct(t, db, "Flash", 20000, 100)

	orderID, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product.ID, Quantity: 10},
	})
	require.NoError(t, err)

	require.NoError(t, store.CancelOrder(ctx, db, orderID))

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, after.Stock, "cancel must restore stock to the pre-order value exactly")

	order, err := store.GetOrder(ctx, db, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestCancelOrderTwiceIsGuarded(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "cancel2@shop.test")
	product := createProduct(t, db, "Battery", 8000, 30)

	orderID, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
		{ProductID: product.ID, Quantity: 5},
	})
	require.NoError(t, err)

	require.NoError(t, store.CancelOrder(ctx, db, orderID))

	err = store.CancelOrder(ctx, db, orderID)
	assert.ErrorIs(t, err, database.ErrOrderAlreadyCancelled)

	// The second cancel must not double-credit stock.
	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, after.Stock)
}

func TestCancelUnknownOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.CancelOrder(context.Background(), db, 99999)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestPlaceOrderFromCartConsumesLines(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "cartorder1@shop.test")
	product1 := createProduct(t, db, "Memory Card", 15000, 40)
	product2 := createProduct(t, db, "Card Reader", 7000, 20)

	line1, err := store.AddToCart(ctx, db, member.Email, product1.ID, 3)
	require.NoError(t, err)
	line2, err := store.AddToCart(ctx, db, member.Email, product2.ID, 2)
	require.NoError(t, err)

	orderID, err := store.PlaceOrderFromCart(ctx, db, member.Email, []int64{line1, line2})
	require.NoError(t, err)

	order, err := store.GetOrder(ctx, db, orderID)
	require.NoError(t, err)
	assert.Len(t, order.Lines, 2)
	assert.True(t, order.TotalPrice().Equal(decimal.NewFromInt(59000)))

	after1, err := store.GetProduct(ctx, db, product1.ID)
	require.NoError(t, err)
	assert.Equal(t, 37, after1.Stock)

	after2, err := store.GetProduct(ctx, db, product2.ID)
	require.NoError(t, err)
	assert.Equal(t, 18, after2.Stock)

	// Consumed lines are gone: the cart is empty and a second checkout
	// of the same lines fails.
	details, err := store.ListCart(ctx, db, member.Email)
	require.NoError(t, err)
	assert.Empty(t, details)

	_, err = store.PlaceOrderFromCart(ctx, db, member.Email, []int64{line1, line2})
	assert.ErrorIs(t, err, database.ErrCartLineNotFound)
}

func TestPlaceOrderFromCartOutOfStockKeepsCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "cartorder2@shop.test")
	product := createProduct(t, db, "Light Meter", 30000, 2)

	lineID, err := store.AddToCart(ctx, db, member.Email, product.ID, 5)
	require.NoError(t, err)

	_, err = store.PlaceOrderFromCart(ctx, db, member.Email, []int64{lineID})
	assert.ErrorIs(t, err, database.ErrOutOfStock)

	// The failed checkout must leave both stock and the cart untouched.
	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Stock)

	details, err := store.ListCart(ctx, db, member.Email)
	require.NoError(t, err)
	assert.Len(t, details, 1)
}

func TestListOrdersPagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "history1@shop.test")
	product := createProduct(t, db, "Print Paper", 500, 100)

	img, err := store.AddProductImage(ctx, db, product.ID, "paper.jpg", "paper-original.jpg", "/images/paper.jpg")
	require.NoError(t, err)
	require.True(t, img.IsRepresentative)

	var lastOrderID int64
	for i := 0; i < 15; i++ {
		lastOrderID, err = store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
			{ProductID: product.ID, Quantity: 1},
		})
		require.NoError(t, err)
	}

	page0, err := store.ListOrders(ctx, db, member.Email, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(15), page0.Total)
	assert.Equal(t, 2, page0.TotalPages)

	histories := page0.Items.([]store.OrderHistory)
	require.Len(t, histories, 10)

	// Newest first, enriched with the representative image.
	assert.Equal(t, lastOrderID, histories[0].OrderID)
	require.Len(t, histories[0].Lines, 1)
	assert.Equal(t, "/images/paper.jpg", histories[0].Lines[0].ImgURL)
	assert.True(t, histories[0].TotalPrice.Equal(decimal.NewFromInt(500)))

	page1, err := store.ListOrders(ctx, db, member.Email, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page1.Items.([]store.OrderHistory), 5)
}

func TestConcurrentOrdersHoldStockInvariant(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "race1@shop.test")
	product := createProduct(t, db, "Limited Edition", 50000, 20)

	concurrency := 10
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
				{ProductID: product.ID, Quantity: 3},
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrOutOfStock):
		case errors.Is(err, database.ErrLockTimeout):
			// Contenders that lost the row lock on every retry.
		default:
			t.Logf("Unexpected error: %v", err)
		}
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 20-successCount*3, after.Stock)
	assert.GreaterOrEqual(t, after.Stock, 0, "stock must never go negative under race")
}

func TestListOrdersTotalMatchesRowsUnderConcurrentPlacement(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "history1@shop.test")
	product := createProduct(t, db, "Shutter Cable", 4000, 1000)

	placeErrs := make(chan error, 1)
	go func() {
		for i := 0; i < 20; i++ {
			_, err := store.PlaceOrder(ctx, db, member.Email, []store.OrderLineRequest{
				{ProductID: product.ID, Quantity: 1},
			})
			if err != nil {
				placeErrs <- err
				return
			}
		}
		placeErrs <- nil
	}()

	// Every listing must see a total that agrees with its own rows,
	// no matter how many orders commit while the page is being read.
	for i := 0; i < 10; i++ {
		page, err := store.ListOrders(ctx, db, member.Email, 0, 100)
		require.NoError(t, err)

		histories := page.Items.([]store.OrderHistory)
		assert.Equal(t, page.Total, int64(len(histories)))
	}

	require.NoError(t, <-placeErrs)
}

func TestPlaceOrderFromCartWaitsForInFlightQuantityUpdate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	member := registerMember(t, db, "cartrace1@shop.test")
	product := createProduct(t, db, "Light Meter", 10000, 20)

	lineID, err := store.AddToCart(ctx, db, member.Email, product.ID, 2)
	require.NoError(t, err)

	// Hold the cart line's row lock with an uncommitted quantity update
	// while the checkout runs.
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = 5, updated_at = NOW() WHERE id = $1`, lineID)
	require.NoError(t, err)

	type placed struct {
		orderID int64
		err     error
	}
	results := make(chan placed, 1)
	go func() {
		id, err := store.PlaceOrderFromCart(ctx, db, member.Email, []int64{lineID})
		results <- placed{orderID: id, err: err}
	}()

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, tx.Commit())

	res := <-results
	require.NoError(t, res.err)

	// The order must carry the committed quantity, not the stale read.
	order, err := store.GetOrder(ctx, db, res.orderID)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 5, order.Lines[0].Quantity)

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, after.Stock)

	cart, err := store.ListCart(ctx, db, member.Email)
	require.NoError(t, err)
	assert.Empty(t, cart)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Member struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Password  string    `json:"-"`
	Address   string    `json:"address,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	Detail     string          `json:"detail"`
	SellStatus string          `json:"sell_status"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Version    int             `json:"version"`
}

type ProductImage struct {
	ID               int64     `json:"id"`
	ProductID        int64     `json:"product_id"`
	ImgName          string    `json:"img_name"`
	OriImgName       string    `json:"ori_img_name"`
	ImgURL           string    `json:"img_url"`
	IsRepresentative bool      `json:"is_representative"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Cart struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	CreatedAt time.Time `json:"created_at"`
}

type CartLine struct {
	ID        int64     `json:"id"`
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID          int64       `json:"id"`
	MemberID    int64       `json:"member_id"`
	OrderNumber string      `json:"order_number"`
	Status      string      `json:"status"`
	OrderDate   time.Time   `json:"order_date"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Lines       []OrderLine `json:"lines,omitempty"`
}

// TotalPrice sums the snapshot price of every line times its quantity.
// It never re-reads the live product price, so later catalog edits do
// not alter historical orders.
func (o *Order) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.OrderPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

type OrderLine struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int             `json:"quantity"`
	OrderPrice decimal.Decimal `json:"order_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	SellStatusOnSale  = "ON_SALE"
	SellStatusSoldOut = "SOLD_OUT"
)

const (
	OrderStatusPlaced    = "PLACED"
	OrderStatusCancelled = "CANCELLED"
)

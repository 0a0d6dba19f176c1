package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order is a customer's purchase intent. Its id doubles as the payment
// gateway's order_id correlation key, so it is generated here and never
// reused across orders.
//
// TotalAmount is a whole-currency-unit integer (no minor units); Currency
// carries the unit tag explicitly instead of relying on convention.
type Order struct {
	ID                   string      `gorm:"type:char(36);primary_key" json:"id"`
	UserId               string      `gorm:"type:char(36);not null;index" json:"user_id"`
	TotalAmount          int64       `gorm:"not null" json:"total_amount"`
	Currency             string      `gorm:"size:8;not null;default:'IDR'" json:"currency"`
	Status               OrderStatus `gorm:"type:enum('pending','paid','failed','cancelled');not null;default:'pending';index" json:"status"`
	PaymentTransactionId *string     `gorm:"size:100" json:"payment_transaction_id"`
	PaymentType          *string     `gorm:"size:50" json:"payment_type"`
	CreatedAt            time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	Items                []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
}

// OrderItem pins the unit price from the cart snapshot at checkout time so a
// later catalog price change never alters a submitted order. Rows are
// immutable after creation; the reconciler only reads them.
type OrderItem struct {
	ID          int       `gorm:"primary_key" json:"id"`
	OrderId     string    `gorm:"type:char(36);not null;index" json:"order_id"`
	ProductId   string    `gorm:"type:char(36);not null;index" json:"product_id"`
	ProductName string    `gorm:"size:255;not null" json:"product_name"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	UnitPrice   int64     `gorm:"not null" json:"unit_price"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewOrderItem struct {
	ProductId   string `json:"product_id" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice   int64  `json:"unit_price" binding:"required,gt=0"`
}

var ErrOrderNotCancellable = errors.New("only a pending order owned by the acting user can be cancelled")

// CreateOrderWithItems persists the order and its items atomically. The total
// is computed server-side from the cart snapshot, never taken from the client.
func CreateOrderWithItems(db *gorm.DB, ctx context.Context, userId string, currency string, items []NewOrderItem) (*Order, error) {
	if userId == "" {
		return nil, utils.ErrorUnauthenticated
	}
	if len(items) == 0 {
		return nil, errors.New("order must contain at least one item")
	}
	if currency == "" {
		currency = "IDR"
	}

	var total int64
	order := Order{
		ID:       uuid.NewString(),
		UserId:   userId,
		Currency: currency,
		Status:   OrderStatusPending,
	}
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			return nil, errors.New("item quantity and unit price must be positive")
		}
		total += item.UnitPrice * int64(item.Quantity)
		order.Items = append(order.Items, OrderItem{
			OrderId:     order.ID,
			ProductId:   item.ProductId,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	order.TotalAmount = total

	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(db *gorm.DB, ctx context.Context, orderId string) (*Order, error) {
	var order Order
	err := db.WithContext(ctx).Preload("Items").Where("id = ?", orderId).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate row-locks the order inside the caller's transaction so
// concurrent webhook redeliveries for the same order serialize at the store.
func GetOrderForUpdate(tx *gorm.DB, orderId string) (*Order, error) {
	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderId).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrderItems(tx *gorm.DB, orderId string) ([]OrderItem, error) {
	var items []OrderItem
	if err := tx.Where("order_id = ?", orderId).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func ListOrdersByUser(db *gorm.DB, ctx context.Context, userId string) ([]Order, error) {
	var orders []Order
	err := db.WithContext(ctx).Preload("Items").
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdatePaymentStatus writes the reconciled status and the gateway fields.
// The status write is unconditional, even when it is a no-op. The transaction
// id and payment type are written only when the notification carries them: a
// late bare pending redelivery must never blank identifiers recorded by an
// earlier notification.
func UpdatePaymentStatus(tx *gorm.DB, orderId string, status OrderStatus, transactionId, paymentType string) error {
	update := map[string]interface{}{
		"status": status,
	}
	if transactionId != "" {
		update["payment_transaction_id"] = transactionId
	}
	if paymentType != "" {
		update["payment_type"] = paymentType
	}
	return tx.Model(&Order{}).Where("id = ?", orderId).Updates(update).Error
}

// CancelPendingOrder is the user-initiated cancellation path. The single
// row-scoped update enforces both ownership and the pending-only rule
// atomically; the reconciler's terminal-state guard does the rest.
func CancelPendingOrder(db *gorm.DB, ctx context.Context, userId, orderId string) error {
	if userId == "" {
		return utils.ErrorUnauthenticated
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Order{}).
			Where("id = ? AND user_id = ? AND status = ?", orderId, userId, OrderStatusPending).
			Update("status", OrderStatusCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderNotCancellable
		}
		return RecordOrderEvent(ctx, tx, OrderEventRecord{
			OrderId:   orderId,
			UserId:    userId,
			OldStatus: OrderStatusPending,
			NewStatus: OrderStatusCancelled,
		})
	})
}

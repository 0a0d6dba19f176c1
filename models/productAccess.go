package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// UserProductAccess records a redeemable entitlement to a purchased digital
// product. Rows exist iff the originating order reached paid; they are never
// mutated or deleted by this service.
//
// The unique index is the backstop against double provisioning; the
// reconciler's existence check is the primary guard.
type UserProductAccess struct {
	ID        int       `gorm:"primary_key" json:"id"`
	UserId    string    `gorm:"type:char(36);not null;index;index:uniq_access,unique" json:"user_id"`
	ProductId string    `gorm:"type:char(36);not null;index:uniq_access,unique" json:"product_id"`
	OrderId   string    `gorm:"type:char(36);not null;index;index:uniq_access,unique" json:"order_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// HasProductAccessForOrder reports whether provisioning already ran for the
// order. Checked by the reconciler before granting so a redelivered paid
// notification never duplicates entitlement rows.
func HasProductAccessForOrder(tx *gorm.DB, orderId string) (bool, error) {
	var count int64
	if err := tx.Model(&UserProductAccess{}).Where("order_id = ?", orderId).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GrantProductAccess bulk-inserts one entitlement per order item's product.
// Quantity is irrelevant: access is per product, not per unit. A duplicate-key
// error means a concurrent redelivery already provisioned; that is a success.
func GrantProductAccess(tx *gorm.DB, order *Order, items []OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	records := make([]UserProductAccess, 0, len(items))
	for _, item := range items {
		records = append(records, UserProductAccess{
			UserId:    order.UserId,
			ProductId: item.ProductId,
			OrderId:   order.ID,
		})
	}
	if err := tx.Create(&records).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}

// ProductAccessCacheKey is the redis key for a user's cached entitlement
// list. Provisioning must invalidate it.
func ProductAccessCacheKey(userId string) string {
	return "cache:user-products:" + userId
}

// ListProductAccessByUser powers the signed-in user's redeem surface.
func ListProductAccessByUser(db *gorm.DB, ctx context.Context, userId string) ([]UserProductAccess, error) {
	var records []UserProductAccess
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

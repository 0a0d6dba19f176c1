package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Gateway transaction_status vocabulary.
const (
	transactionStatusCapture    = "capture"
	transactionStatusSettlement = "settlement"
	transactionStatusCancel     = "cancel"
	transactionStatusDeny       = "deny"
	transactionStatusExpire     = "expire"
	transactionStatusPending    = "pending"

	fraudStatusAccept = "accept"
)

// MapTransactionStatus translates the gateway's status vocabulary into the
// order status enumeration. Unrecognized statuses map to pending and never
// raise; the caller logs them.
func MapTransactionStatus(transactionStatus, fraudStatus string) models.OrderStatus {
	switch transactionStatus {
	case transactionStatusCapture:
		if fraudStatus == fraudStatusAccept {
			return models.OrderStatusPaid
		}
		return models.OrderStatusPending
	case transactionStatusSettlement:
		return models.OrderStatusPaid
	case transactionStatusCancel, transactionStatusDeny, transactionStatusExpire:
		return models.OrderStatusFailed
	case transactionStatusPending:
		return models.OrderStatusPending
	default:
		return models.OrderStatusPending
	}
}

// ResolveOrderStatus applies the monotonicity guard on top of the raw
// mapping: a terminal status is never downgraded to pending by a
// late-arriving or redelivered notification.
func ResolveOrderStatus(current, mapped models.OrderStatus) models.OrderStatus {
	if current.IsTerminal() && mapped == models.OrderStatusPending {
		return current
	}
	return mapped
}

// Reconciler is the authoritative state-transition component. It is
// constructed explicitly with the handles it needs; it never reaches for
// process-wide privileged singletons.
type Reconciler struct {
	DB     *gorm.DB
	Locker *redislock.Client
	Logger *logrus.Logger

	// StoreTimeout bounds each reconciliation's store work; on expiry the
	// handler fails and the gateway's redelivery takes over.
	StoreTimeout time.Duration
}

func NewReconciler(db *gorm.DB, locker *redislock.Client, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		DB:           db,
		Locker:       locker,
		Logger:       logger,
		StoreTimeout: storeTimeoutFromEnv(),
	}
}

func storeTimeoutFromEnv() time.Duration {
	if v := strings.TrimSpace(os.Getenv("RECONCILE_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Second
}

// ApplyNotification reconciles one gateway notification into durable order
// state and, on a transition into paid, provisions entitlements for every
// line item. Any error leaves the transaction rolled back and must surface
// as a failure response so the gateway redelivers.
func (r *Reconciler) ApplyNotification(ctx context.Context, n payment.Notification) error {
	if n.OrderId == "" {
		return errors.New("order_id is required")
	}

	mapped := MapTransactionStatus(n.TransactionStatus, n.FraudStatus)
	if mapped == models.OrderStatusPending && !knownTransactionStatus(n.TransactionStatus) {
		r.Logger.WithFields(logrus.Fields{
			"module":             "workflow",
			"funcName":           "ApplyNotification",
			"order_id":           n.OrderId,
			"transaction_status": n.TransactionStatus,
		}).Warn("unrecognized transaction_status; treating as pending")
	}

	// Best-effort lock per order to keep concurrent redeliveries from
	// interleaving. Correctness does not depend on it: the row lock inside
	// the transaction and the entitlement existence check stay authoritative.
	if r.Locker != nil {
		lock, err := r.Locker.Obtain(ctx, "lock:order:"+n.OrderId, 30*time.Second, nil)
		if err == nil {
			defer func() {
				if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
					r.Logger.WithFields(logrus.Fields{
						"module":   "workflow",
						"funcName": "ApplyNotification",
						"order_id": n.OrderId,
					}).Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		} else if err != redislock.ErrNotObtained {
			r.Logger.WithFields(logrus.Fields{
				"module":   "workflow",
				"funcName": "ApplyNotification",
				"order_id": n.OrderId,
			}).Warn("error obtaining redis lock; proceeding without it: " + err.Error())
		}
	}

	timeout := r.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var paidUserId string
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := models.GetOrderForUpdate(tx, n.OrderId)
		if err != nil {
			return fmt.Errorf("load order %s: %w", n.OrderId, err)
		}

		newStatus := ResolveOrderStatus(order.Status, mapped)

		// Unconditional write: the gateway transaction id and payment type
		// are recorded even when the status does not move.
		if err := models.UpdatePaymentStatus(tx, order.ID, newStatus, n.TransactionId, n.PaymentType); err != nil {
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}

		if newStatus == models.OrderStatusPaid {
			if err := r.provisionEntitlements(tx, order); err != nil {
				return err
			}
			paidUserId = order.UserId
		}

		if newStatus != order.Status {
			if err := models.RecordOrderEvent(ctx, tx, models.OrderEventRecord{
				OrderId:       order.ID,
				UserId:        order.UserId,
				OldStatus:     order.Status,
				NewStatus:     newStatus,
				TransactionId: n.TransactionId,
				PaymentType:   n.PaymentType,
			}); err != nil {
				return fmt.Errorf("record order event %s: %w", order.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Invalidate only after commit; a rollback must leave the cache alone.
	if paidUserId != "" {
		if cacheErr := config.RemoveRedisKey(models.ProductAccessCacheKey(paidUserId)); cacheErr != nil {
			r.Logger.WithFields(logrus.Fields{
				"module":   "workflow",
				"funcName": "ApplyNotification",
				"order_id": n.OrderId,
			}).Warn("failed to invalidate entitlement cache: " + cacheErr.Error())
		}
	}
	return nil
}

// provisionEntitlements grants access for every order item exactly once per
// order. The existence check absorbs gateway redeliveries; it also heals an
// order that is already paid but was provisioned incompletely, since the
// grant and the status write share one transaction.
func (r *Reconciler) provisionEntitlements(tx *gorm.DB, order *models.Order) error {
	exists, err := models.HasProductAccessForOrder(tx, order.ID)
	if err != nil {
		return fmt.Errorf("check entitlements for order %s: %w", order.ID, err)
	}
	if exists {
		return nil
	}

	items, err := models.GetOrderItems(tx, order.ID)
	if err != nil {
		return fmt.Errorf("load items for order %s: %w", order.ID, err)
	}
	if err := models.GrantProductAccess(tx, order, items); err != nil {
		return fmt.Errorf("grant access for order %s: %w", order.ID, err)
	}

	r.Logger.WithFields(logrus.Fields{
		"module":   "workflow",
		"funcName": "provisionEntitlements",
		"order_id": order.ID,
		"products": len(items),
	}).Info("granted product access")
	return nil
}

func knownTransactionStatus(s string) bool {
	switch s {
	case transactionStatusCapture, transactionStatusSettlement, transactionStatusCancel,
		transactionStatusDeny, transactionStatusExpire, transactionStatusPending:
		return true
	}
	return false
}

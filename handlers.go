package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/mmdatafocus/storefront_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// The webhook is a server-to-server callback, not browser-invoked, so its
// CORS policy is deliberately permissive.
func webhookCorsHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}

func webhookPreflightHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		webhookCorsHeaders(c)
		c.Status(http.StatusOK)
	}
}

// notificationApplier is the slice of the reconciler the webhook handler
// needs. Production wires *workflow.Reconciler.
type notificationApplier interface {
	ApplyNotification(ctx context.Context, n payment.Notification) error
}

// paymentWebhookHandler is the reconciler entry point. It acknowledges only
// after the status write and any entitlement provisioning committed; every
// failure maps to the error shape so the gateway's redelivery retries.
func paymentWebhookHandler(app *appServices) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		webhookCorsHeaders(c)

		var n payment.Notification
		if err := c.ShouldBindJSON(&n); err != nil {
			config.LogError(logger, "handlers.go", "paymentWebhookHandler", "bind notification", nil, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification body"})
			return
		}

		if payment.SignatureCheckEnabled() {
			if err := payment.VerifyNotification(n, app.serverKey); err != nil {
				config.LogError(logger, "handlers.go", "paymentWebhookHandler", "verify signature", n.OrderId, err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
				return
			}
		}

		ctx, span := tracer.Start(c.Request.Context(), "webhook.reconcile")
		defer span.End()

		if err := app.reconciler.ApplyNotification(ctx, n); err != nil {
			config.LogError(logger, "handlers.go", "paymentWebhookHandler", "apply notification", n, err)
			// Non-2xx tells the gateway to redeliver.
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fields := logrus.Fields{
			"module":             "handlers.go",
			"order_id":           n.OrderId,
			"transaction_status": n.TransactionStatus,
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
		}
		logger.WithFields(fields).Info("webhook notification reconciled")
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func checkoutHandler(app *appServices) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req workflow.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if fields := utils.ProcessValidationErrors(err); len(fields) > 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": fields})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		result, err := app.checkout.Checkout(c.Request.Context(), userId, req)
		if err != nil {
			if errors.Is(err, utils.ErrorUnauthenticated) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			config.LogError(logger, "handlers.go", "checkoutHandler", "checkout", userId, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type cancelOrderRequest struct {
	OrderId string `json:"order_id" binding:"required"`
}

func cancelOrderHandler(app *appServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req cancelOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		if err := models.CancelPendingOrder(app.db, c.Request.Context(), userId, req.OrderId); err != nil {
			if errors.Is(err, models.ErrOrderNotCancellable) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func getOrderHandler(app *appServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		order, err := models.GetOrder(app.db, c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if order.UserId != userId && !isAdmin {
			// Do not leak existence of other users' orders.
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func listOrdersHandler(app *appServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orders, err := models.ListOrdersByUser(app.db, c.Request.Context(), userId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func myProductsHandler(app *appServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		cacheKey := models.ProductAccessCacheKey(userId)
		var cached []models.UserProductAccess
		if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
			c.JSON(http.StatusOK, gin.H{"products": cached})
			return
		}

		access, err := models.ListProductAccessByUser(app.db, c.Request.Context(), userId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// Short TTL; provisioning invalidates eagerly.
		_ = config.SetRedisObject(cacheKey, access, time.Minute)
		c.JSON(http.StatusOK, gin.H{"products": access})
	}
}

type orderStatusCount struct {
	Status models.OrderStatus `json:"status"`
	Count  int64              `json:"count"`
}

type orderRevenueRow struct {
	Currency string          `json:"currency"`
	Revenue  decimal.Decimal `json:"revenue"`
	Orders   int64           `json:"orders"`
}

// orderSummaryHandler is back-office tooling: status counts plus paid revenue
// per currency. Admin only.
func orderSummaryHandler(app *appServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var counts []orderStatusCount
		if err := app.db.WithContext(c.Request.Context()).
			Model(&models.Order{}).
			Select("status, COUNT(*) AS count").
			Group("status").
			Scan(&counts).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var revenue []orderRevenueRow
		if err := app.db.WithContext(c.Request.Context()).
			Model(&models.Order{}).
			Select("currency, COALESCE(SUM(total_amount), 0) AS revenue, COUNT(*) AS orders").
			Where("status = ?", models.OrderStatusPaid).
			Group("currency").
			Scan(&revenue).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status_counts": counts,
			"paid_revenue":  revenue,
		})
	}
}

package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/payment"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TransactionCreator is the slice of the gateway client the orchestrator
// needs. Tests substitute a fake; production wires *payment.SnapClient.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, req payment.SnapTransactionRequest) (payment.SnapTokenResponse, error)
}

type CheckoutCustomer struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required"`
}

type CheckoutRequest struct {
	Customer CheckoutCustomer      `json:"customer" binding:"required"`
	Items    []models.NewOrderItem `json:"items" binding:"required,min=1,dive"`
	Currency string                `json:"currency"`
}

type CheckoutResult struct {
	OrderId     string `json:"order_id"`
	Token       string `json:"token"`
	RedirectUrl string `json:"redirect_url"`
}

// CheckoutService turns a cart snapshot into a persisted pending order and a
// gateway payment session. It writes order state exactly once, at creation:
// everything afterwards belongs to the webhook reconciler, because the
// payment widget's browser callbacks are advisory, not authoritative.
type CheckoutService struct {
	DB      *gorm.DB
	Gateway TransactionCreator
	Logger  *logrus.Logger
}

func NewCheckoutService(db *gorm.DB, gateway TransactionCreator, logger *logrus.Logger) *CheckoutService {
	return &CheckoutService{DB: db, Gateway: gateway, Logger: logger}
}

// Checkout persists the order and its items first, then asks the gateway for
// a payment session. Insertion failure aborts before the gateway call so no
// orphaned external transaction can exist; a gateway failure leaves the order
// pending and the user free to retry (each retry is a fresh order).
func (s *CheckoutService) Checkout(ctx context.Context, userId string, req CheckoutRequest) (CheckoutResult, error) {
	if userId == "" {
		return CheckoutResult{}, utils.ErrorUnauthenticated
	}

	phone, err := utils.NormalizePhoneNumber(req.Customer.Phone, utils.DefaultPhoneRegion())
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("invalid customer phone: %w", err)
	}

	order, err := models.CreateOrderWithItems(s.DB, ctx, userId, req.Currency, req.Items)
	if err != nil {
		return CheckoutResult{}, err
	}

	snapReq := payment.SnapTransactionRequest{
		TransactionDetails: payment.TransactionDetails{
			OrderId:     order.ID,
			GrossAmount: order.TotalAmount,
		},
		CustomerDetails: payment.CustomerDetails{
			FirstName: req.Customer.Name,
			Email:     req.Customer.Email,
			Phone:     phone,
		},
	}
	for _, item := range order.Items {
		snapReq.ItemDetails = append(snapReq.ItemDetails, payment.ItemDetail{
			Id:       item.ProductId,
			Price:    item.UnitPrice,
			Quantity: item.Quantity,
			Name:     item.ProductName,
		})
	}

	session, err := s.Gateway.CreateTransaction(ctx, snapReq)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"funcName": "Checkout",
			"order_id": order.ID,
		}).Error("gateway transaction creation failed: " + err.Error())
		// The order stays pending; surface the failure to the caller.
		return CheckoutResult{}, fmt.Errorf("create payment session for order %s: %w", order.ID, err)
	}

	return CheckoutResult{
		OrderId:     order.ID,
		Token:       session.Token,
		RedirectUrl: session.RedirectUrl,
	}, nil
}

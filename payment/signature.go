package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

var ErrBadSignature = errors.New("notification signature verification failed")

// NotificationSignature computes the gateway's signature over a notification:
// sha512 hex of order_id + status_code + gross_amount + server key.
func NotificationSignature(orderId, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderId + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifyNotification checks the signature_key carried by the notification
// against the server key. Notifications are otherwise unauthenticated, so a
// failed or missing signature must reject the delivery before any state
// change.
func VerifyNotification(n Notification, serverKey string) error {
	if n.SignatureKey == "" {
		return ErrBadSignature
	}
	want := NotificationSignature(n.OrderId, n.StatusCode, n.GrossAmount, serverKey)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(n.SignatureKey)), []byte(want)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// SignatureCheckEnabled is an escape hatch for sandbox setups that replay
// notifications without a valid signature. On by default.
func SignatureCheckEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(os.Getenv("MIDTRANS_SKIP_SIGNATURE_CHECK")), "true")
}

package payment

import (
	"errors"
	"strings"
	"testing"
)

func TestNotificationSignature_KnownVector(t *testing.T) {
	got := NotificationSignature("ORDER-1", "200", "150000.00", "SB-Mid-server-testkey")
	want := "cfabcaf27d2d991549360afe1dda8452a256c5ad03a5eb4c3bfb105c923bf7785ae56d14e0d4cf4dc1369944f02aa578578f9f6a4c70a1ea013a6f3f1223e145"
	if got != want {
		t.Fatalf("NotificationSignature = %s, want %s", got, want)
	}
}

func TestVerifyNotification(t *testing.T) {
	const serverKey = "SB-Mid-server-testkey"
	n := Notification{
		OrderId:     "ORDER-1",
		StatusCode:  "200",
		GrossAmount: "150000.00",
	}
	n.SignatureKey = NotificationSignature(n.OrderId, n.StatusCode, n.GrossAmount, serverKey)

	if err := VerifyNotification(n, serverKey); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// Gateways are inconsistent about hex casing.
	upper := n
	upper.SignatureKey = strings.ToUpper(n.SignatureKey)
	if err := VerifyNotification(upper, serverKey); err != nil {
		t.Fatalf("uppercase signature rejected: %v", err)
	}

	tampered := n
	tampered.GrossAmount = "1.00"
	if err := VerifyNotification(tampered, serverKey); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered amount accepted, err = %v", err)
	}

	missing := n
	missing.SignatureKey = ""
	if err := VerifyNotification(missing, serverKey); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("missing signature accepted, err = %v", err)
	}

	if err := VerifyNotification(n, "some-other-key"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong server key accepted, err = %v", err)
	}
}

func TestSignatureCheckEnabled(t *testing.T) {
	t.Setenv("MIDTRANS_SKIP_SIGNATURE_CHECK", "")
	if !SignatureCheckEnabled() {
		t.Fatalf("signature check must default to enabled")
	}
	t.Setenv("MIDTRANS_SKIP_SIGNATURE_CHECK", "true")
	if SignatureCheckEnabled() {
		t.Fatalf("MIDTRANS_SKIP_SIGNATURE_CHECK=true must disable the check")
	}
	t.Setenv("MIDTRANS_SKIP_SIGNATURE_CHECK", "false")
	if !SignatureCheckEnabled() {
		t.Fatalf("MIDTRANS_SKIP_SIGNATURE_CHECK=false must keep the check enabled")
	}
}

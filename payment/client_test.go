package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *SnapClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("MIDTRANS_SERVER_KEY", "SB-Mid-server-testkey")
	t.Setenv("MIDTRANS_BASE_URL", srv.URL)
	c, err := NewSnapClient()
	if err != nil {
		t.Fatalf("NewSnapClient: %v", err)
	}
	return c
}

func validRequest() SnapTransactionRequest {
	return SnapTransactionRequest{
		TransactionDetails: TransactionDetails{OrderId: "ORDER-1", GrossAmount: 150000},
		CustomerDetails:    CustomerDetails{FirstName: "Aye", Email: "aye@test.local"},
		ItemDetails: []ItemDetail{
			{Id: "prod-1", Price: 50000, Quantity: 1, Name: "Starter"},
			{Id: "prod-2", Price: 50000, Quantity: 2, Name: "Pro"},
		},
	}
}

func TestNewSnapClient_RequiresServerKey(t *testing.T) {
	t.Setenv("MIDTRANS_SERVER_KEY", "")
	if _, err := NewSnapClient(); err == nil {
		t.Fatalf("expected error when MIDTRANS_SERVER_KEY is unset")
	}
}

func TestCreateTransaction_TokenRoundTrip(t *testing.T) {
	var gotPath, gotAuthUser string
	var gotReq SnapTransactionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuthUser, _, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(SnapTokenResponse{
			Token:       "snap-token-123",
			RedirectUrl: "https://app.sandbox.midtrans.com/snap/v2/vtweb/snap-token-123",
		})
	})

	resp, err := c.CreateTransaction(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if resp.Token != "snap-token-123" {
		t.Errorf("token = %q, want snap-token-123", resp.Token)
	}
	if gotPath != "/snap/v1/transactions" {
		t.Errorf("path = %q, want /snap/v1/transactions", gotPath)
	}
	if gotAuthUser != "SB-Mid-server-testkey" {
		t.Errorf("basic auth user = %q, want the server key", gotAuthUser)
	}
	if gotReq.TransactionDetails.GrossAmount != 150000 {
		t.Errorf("forwarded gross_amount = %d, want 150000", gotReq.TransactionDetails.GrossAmount)
	}
	if len(gotReq.ItemDetails) != 2 {
		t.Errorf("forwarded %d item_details, want 2", len(gotReq.ItemDetails))
	}
}

func TestCreateTransaction_AmountMismatchNeverReachesGateway(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := validRequest()
	req.TransactionDetails.GrossAmount = 999999
	_, err := c.CreateTransaction(context.Background(), req)
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("err = %v, want ErrAmountMismatch", err)
	}
	if called {
		t.Fatalf("gateway must not be invoked on a gross amount mismatch")
	}
}

func TestCreateTransaction_RejectsNonPositiveItems(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := validRequest()
	req.ItemDetails[0].Quantity = 0
	if _, err := c.CreateTransaction(context.Background(), req); err == nil {
		t.Fatalf("expected error for zero quantity")
	}

	req = validRequest()
	req.ItemDetails[1].Price = -5
	if _, err := c.CreateTransaction(context.Background(), req); err == nil {
		t.Fatalf("expected error for negative price")
	}
	if called {
		t.Fatalf("gateway must not be invoked for invalid items")
	}
}

func TestCreateTransaction_RequiresOrderId(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("gateway must not be invoked without an order id")
	})
	req := validRequest()
	req.TransactionDetails.OrderId = ""
	if _, err := c.CreateTransaction(context.Background(), req); err == nil {
		t.Fatalf("expected error for missing order_id")
	}
}

func TestCreateTransaction_SurfacesGatewayErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error_messages": []string{"Access denied due to unauthorized transaction"},
		})
	})

	_, err := c.CreateTransaction(context.Background(), validRequest())
	if err == nil {
		t.Fatalf("expected gateway error")
	}
	if !strings.Contains(err.Error(), "Access denied due to unauthorized transaction") {
		t.Errorf("error %q does not carry the gateway message", err.Error())
	}
}

func TestCreateTransaction_MissingTokenIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"redirect_url": "https://example.test"})
	})
	if _, err := c.CreateTransaction(context.Background(), validRequest()); err == nil {
		t.Fatalf("expected error when gateway response has no token")
	}
}

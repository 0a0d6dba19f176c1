package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const sandboxBaseURL = "https://app.sandbox.midtrans.com"

var ErrAmountMismatch = errors.New("gross amount does not equal the sum of item prices")

// SnapClient is a thin client for the gateway's transaction-creation API.
// The server key is a server-held secret read from the environment; it must
// never reach client-distributed code.
type SnapClient struct {
	baseURL   string
	serverKey string
	http      *http.Client
}

func NewSnapClient() (*SnapClient, error) {
	serverKey := strings.TrimSpace(os.Getenv("MIDTRANS_SERVER_KEY"))
	if serverKey == "" {
		return nil, errors.New("MIDTRANS_SERVER_KEY is not configured")
	}
	baseURL := strings.TrimSpace(os.Getenv("MIDTRANS_BASE_URL"))
	if baseURL == "" {
		baseURL = sandboxBaseURL
	}
	return &SnapClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		serverKey: serverKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *SnapClient) ServerKey() string {
	return c.serverKey
}

// CreateTransaction performs exactly one outbound call and never retries:
// a retry here could create a duplicate transaction with the gateway, so the
// caller decides whether to re-invoke with the same order id.
//
// The gross amount must equal the item sum; a mismatch is rejected locally
// before any network I/O.
func (c *SnapClient) CreateTransaction(ctx context.Context, req SnapTransactionRequest) (SnapTokenResponse, error) {
	var itemSum int64
	for _, item := range req.ItemDetails {
		if item.Quantity <= 0 || item.Price <= 0 {
			return SnapTokenResponse{}, fmt.Errorf("item %q: price and quantity must be positive", item.Id)
		}
		itemSum += item.Price * int64(item.Quantity)
	}
	if req.TransactionDetails.OrderId == "" {
		return SnapTokenResponse{}, errors.New("order_id is required")
	}
	if req.TransactionDetails.GrossAmount != itemSum {
		return SnapTokenResponse{}, fmt.Errorf("%w: gross_amount=%d item sum=%d",
			ErrAmountMismatch, req.TransactionDetails.GrossAmount, itemSum)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return SnapTokenResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/snap/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return SnapTokenResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	// Gateway auth is HTTP Basic with the server key as username and an empty password.
	httpReq.SetBasicAuth(c.serverKey, "")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SnapTokenResponse{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gatewayErr snapErrorResponse
		if json.Unmarshal(respBody, &gatewayErr) == nil && len(gatewayErr.ErrorMessages) > 0 {
			return SnapTokenResponse{}, fmt.Errorf("gateway error %d: %s", resp.StatusCode, gatewayErr.ErrorMessages[0])
		}
		return SnapTokenResponse{}, fmt.Errorf("gateway error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed SnapTokenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return SnapTokenResponse{}, err
	}
	if parsed.Token == "" {
		return SnapTokenResponse{}, errors.New("gateway response has no token")
	}
	return parsed, nil
}

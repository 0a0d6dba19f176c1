package payment

// Request/response shapes for the Midtrans Snap API. Field names are dictated
// by the gateway and must be preserved verbatim.

type TransactionDetails struct {
	OrderId     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type CustomerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type ItemDetail struct {
	Id       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type SnapTransactionRequest struct {
	TransactionDetails TransactionDetails `json:"transaction_details"`
	CustomerDetails    CustomerDetails    `json:"customer_details"`
	ItemDetails        []ItemDetail       `json:"item_details"`
}

// SnapTokenResponse carries the opaque session token the browser hands to the
// hosted payment widget.
type SnapTokenResponse struct {
	Token       string `json:"token"`
	RedirectUrl string `json:"redirect_url"`
}

type snapErrorResponse struct {
	ErrorMessages []string `json:"error_messages"`
}

// Notification is the asynchronous server-to-server callback body. Only this
// payload, never the browser widget's callbacks, may drive order state.
type Notification struct {
	OrderId           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	TransactionId     string `json:"transaction_id"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
}

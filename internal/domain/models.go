package domain

import "time"

// All monetary amounts are integer minor currency units.

type Product struct {
	ID            int64  `json:"prd_id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

// ECStock is the read-only headquarters view of a product's online stock.
type ECStock struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	StdPrice        int64  `json:"std_price"`
	ECStockQuantity int    `json:"ec_stock_quantity"`
}

type CartItem struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

// LineItem is one immutable product line of a stored transaction.
type LineItem struct {
	TransactionID int64  `json:"transaction_id"`
	LineNo        int    `json:"line_no"`
	ProductID     int64  `json:"product_id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	UnitPrice     int64  `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	Subtotal      int64  `json:"subtotal"`
}

type Transaction struct {
	ID            int64      `json:"transaction_id"`
	TotalAmount   int64      `json:"total_amount"`
	PaymentMethod string     `json:"payment_method"`
	CashReceived  *int64     `json:"cash_received,omitempty"`
	ChangeAmount  *int64     `json:"change_amount,omitempty"`
	Pending       bool       `json:"is_pending"`
	Cancelled     bool       `json:"is_cancelled"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type HandoffRequest struct {
	Items       []CartItem `json:"items"`
	TotalAmount int64      `json:"total_amount"`
}

type HandoffResponse struct {
	QRData               string `json:"qr_data"`
	PendingTransactionID int64  `json:"pending_transaction_id"`
}

type PaymentRequest struct {
	QRData        string `json:"qr_data"`
	PaymentMethod string `json:"payment_method"`
	CashReceived  *int64 `json:"cash_received,omitempty"`
}

type Receipt struct {
	TransactionID int64      `json:"transaction_id"`
	TotalAmount   int64      `json:"total_amount"`
	ChangeAmount  *int64     `json:"change_amount,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	Items         []LineItem `json:"items"`
}

type CancelResponse struct {
	TransactionID int64  `json:"transaction_id"`
	Message       string `json:"message"`
}

type HistoryEntry struct {
	Transaction  Transaction `json:"transaction"`
	ItemsSummary string      `json:"items_summary"`
}

type HistoryResponse struct {
	Transactions []HistoryEntry `json:"transactions"`
	Count        int            `json:"count"`
}

// Payment methods accepted at the terminal. A reservation carries
// PaymentPending until it is finalized.
const (
	PaymentPending = "pending"
	PaymentCash    = "cash"
	PaymentCredit  = "credit"
	PaymentQR      = "qr"
	PaymentEMoney  = "emoney"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCredit, PaymentQR, PaymentEMoney:
		return true
	}
	return false
}

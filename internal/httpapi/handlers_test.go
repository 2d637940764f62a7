package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kasirduo/backend/internal/cache"
	"kasirduo/backend/internal/domain"
	"kasirduo/backend/internal/service"
	"kasirduo/backend/internal/store/memory"
)

// newTestAPI builds the full API on an in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, 5*time.Second, 60)
	return New(svc, "*")
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func reserveGreenTea(t *testing.T, handler http.Handler) domain.HandoffResponse {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/qrcode/generate", domain.HandoffRequest{
		TotalAmount: 300,
		Items: []domain.CartItem{
			{ProductID: 1, Code: "4901234567894", Name: "Green Tea 500ml", UnitPrice: 150, Quantity: 2, Subtotal: 300},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.HandoffResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode generate response: %v", err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHandleProductSearch(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/products/search/4901234567894", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var product domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&product); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if product.Name != "Green Tea 500ml" {
		t.Fatalf("unexpected product: %+v", product)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/products/search/0000000000000", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", rec.Code)
	}
}

func TestHandleECStock(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/products/ec-stock/4906666099120", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var ec domain.ECStock
	if err := json.NewDecoder(rec.Body).Decode(&ec); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ec.ECStockQuantity != 35 {
		t.Fatalf("unexpected ec stock: %+v", ec)
	}
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()

	handoff := reserveGreenTea(t, handler)
	if handoff.QRData == "" || handoff.PendingTransactionID < 1 {
		t.Fatalf("unexpected handoff response: %+v", handoff)
	}

	cash := int64(1000)
	rec := doJSON(t, handler, http.MethodPost, "/api/payment/process", domain.PaymentRequest{
		QRData:        handoff.QRData,
		PaymentMethod: domain.PaymentCash,
		CashReceived:  &cash,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment failed: %d %s", rec.Code, rec.Body.String())
	}

	var receipt domain.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.ChangeAmount == nil || *receipt.ChangeAmount != 700 {
		t.Fatalf("expected change 700, got %v", receipt.ChangeAmount)
	}

	// Replaying the token must come back as a conflict.
	rec = doJSON(t, handler, http.MethodPost, "/api/payment/process", domain.PaymentRequest{
		QRData:        handoff.QRData,
		PaymentMethod: domain.PaymentQR,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// The finalized sale shows up in history.
	rec = doJSON(t, handler, http.MethodGet, "/api/sales/history?days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history failed: %d %s", rec.Code, rec.Body.String())
	}
	var history domain.HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.Count != 1 {
		t.Fatalf("expected one history entry, got %d", history.Count)
	}
}

func TestPaymentRejectsGarbageToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/payment/process", domain.PaymentRequest{
		QRData:        "definitely-not-a-token",
		PaymentMethod: domain.PaymentQR,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelHandoffOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()

	handoff := reserveGreenTea(t, handler)

	rec := doJSON(t, handler, http.MethodDelete, "/api/qrcode/cancel/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d %s", rec.Code, rec.Body.String())
	}

	// The reservation is gone; paying with its token is now a 404.
	rec = doJSON(t, handler, http.MethodPost, "/api/payment/process", domain.PaymentRequest{
		QRData:        handoff.QRData,
		PaymentMethod: domain.PaymentQR,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after cancel, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/qrcode/cancel/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestCancelSaleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()

	handoff := reserveGreenTea(t, handler)
	rec := doJSON(t, handler, http.MethodPost, "/api/payment/process", domain.PaymentRequest{
		QRData:        handoff.QRData,
		PaymentMethod: domain.PaymentEMoney,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/sales/1/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel sale failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/sales/1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on repeated cancel, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/sales/1/refund", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", rec.Code)
	}
}

func TestSalesHistoryRejectsBadWindow(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/sales/history?days=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/sales/history?days=-2", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMethodAndPreflightHandling(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodDelete, "/api/payment/process", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/payment/process", nil)
	pre := httptest.NewRecorder()
	handler.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", pre.Code)
	}
	if pre.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS origin header on preflight")
	}
}

func TestGenerateRejectsUnknownFields(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/qrcode/generate", map[string]any{
		"items":        []domain.CartItem{},
		"total_amount": 0,
		"surprise":     true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

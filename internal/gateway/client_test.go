package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/v2/", "test_key", "EUR", time.Second)
}

func TestClient_GetPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/payments/tr_WDqYK6vllg", r.URL.Path)
		assert.Equal(t, "Bearer test_key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"resource": "payment",
			"id": "tr_WDqYK6vllg",
			"status": "paid",
			"amount": {"currency": "EUR", "value": "12.50"},
			"metadata": {"orderId": "0d6c1a0e-4a4e-4b83-9f0f-0d2b1f7c9a11"}
		}`))
	})

	p, err := c.GetPayment(context.Background(), "tr_WDqYK6vllg")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, p.Status)
	assert.True(t, p.Status.Final())
	assert.True(t, decimal.RequireFromString("12.50").Equal(p.Amount))
	assert.Equal(t, "0d6c1a0e-4a4e-4b83-9f0f-0d2b1f7c9a11", p.Metadata.OrderID)
}

func TestClient_GetPayment_MetadataNotObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tr_1","status":"open","metadata":"legacy"}`))
	})

	p, err := c.GetPayment(context.Background(), "tr_1")
	require.NoError(t, err)
	assert.Empty(t, p.Metadata.OrderID)
	assert.False(t, p.Status.Final())
}

func TestClient_GetPayment_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"title":"Not Found","detail":"No payment exists with token tr_nope."}`))
	})

	_, err := c.GetPayment(context.Background(), "tr_nope")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = c.GetPayment(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":401,"title":"Unauthorized Request","detail":"Missing authentication, or failed to authenticate"}`))
	})

	_, err := c.GetPayment(context.Background(), "tr_1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Unauthorized Request", apiErr.Title)
	assert.Contains(t, err.Error(), "failed to authenticate")
}

func TestClient_CreatePayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/payments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body createPaymentBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, amount{Currency: "EUR", Value: "7.00"}, body.Amount)
		assert.Equal(t, "order-1", body.Metadata.OrderID)
		assert.Equal(t, "https://shop.example/orders/BT-1", body.RedirectURL)
		assert.Equal(t, "https://api.shop.example/webhooks/payments", body.WebhookURL)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": "tr_new",
			"status": "open",
			"amount": {"currency": "EUR", "value": "7.00"},
			"metadata": {"orderId": "order-1"},
			"_links": {"checkout": {"href": "https://pay.example/checkout/tr_new"}}
		}`))
	})

	p, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		Amount:      decimal.NewFromInt(7),
		Description: "Order BT-1",
		OrderID:     "order-1",
		RedirectURL: "https://shop.example/orders/BT-1",
		WebhookURL:  "https://api.shop.example/webhooks/payments",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_new", p.ID)
	assert.Equal(t, StatusOpen, p.Status)
	assert.Equal(t, "https://pay.example/checkout/tr_new", p.CheckoutURL)
}

func TestClient_MissingAPIKey(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", "", 0)
	_, err := c.GetPayment(context.Background(), "tr_1")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

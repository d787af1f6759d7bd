package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"BobaOrders/internal/events"
	"BobaOrders/internal/models"
	"BobaOrders/internal/services"

	"github.com/go-chi/chi/v5"
)

type Reconciler interface {
	Reconcile(ctx context.Context, paymentID string) (*services.Result, error)
}

type Orders interface {
	GetOrder(ctx context.Context, orderNumber string) (*models.Order, error)
	StartPayment(ctx context.Context, orderNumber string) (*services.PaymentStart, error)
}

type Handler struct {
	Reconciler Reconciler
	Orders     Orders
	Hub        *events.Hub
	Logger     *slog.Logger
}

type orderItemResponse struct {
	ProductID      string          `json:"productId"`
	ProductName    string          `json:"productName"`
	Quantity       int             `json:"quantity"`
	UnitPrice      string          `json:"unitPrice"`
	LineTotal      string          `json:"lineTotal"`
	Customizations json.RawMessage `json:"customizations,omitempty"`
}

type orderResponse struct {
	OrderNumber    string              `json:"orderNumber"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"paymentStatus"`
	Total          string              `json:"total"`
	PickupTime     string              `json:"pickupTime"`
	PointsEarned   int64               `json:"pointsEarned"`
	PointsRedeemed int64               `json:"pointsRedeemed"`
	Items          []orderItemResponse `json:"items"`
}

type paymentResponse struct {
	PaymentID   string `json:"paymentId"`
	CheckoutURL string `json:"checkoutUrl"`
}

func NewHandler(rec Reconciler, orders Orders, hub *events.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Reconciler: rec, Orders: orders, Hub: hub, Logger: logger}
}

// PaymentWebhook receives the provider's form-encoded notification. The body
// carries only the payment id; status is always re-read from the provider.
// Any 5xx makes the provider redeliver.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	res, err := h.Reconciler.Reconcile(r.Context(), r.PostForm.Get("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingPaymentID):
			writeError(w, http.StatusBadRequest, "missing payment id")
		case errors.Is(err, services.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, services.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		default:
			writeError(w, http.StatusInternalServerError, "reconciliation failed")
		}
		return
	}

	h.Logger.Debug("webhook handled", "payment_id", res.PaymentID, "outcome", string(res.Outcome))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	if orderNumber == "" {
		writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	order, err := h.Orders.GetOrder(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Logger.Error("get order failed", "order_number", orderNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	if orderNumber == "" {
		writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	start, err := h.Orders.StartPayment(r.Context(), orderNumber)
	if err != nil {
		var gwErr *services.GatewayError
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrOrderNotPayable):
			writeError(w, http.StatusConflict, "order is not awaiting payment")
		case errors.As(err, &gwErr):
			h.Logger.Error("create payment failed", "order_number", orderNumber, "error", err)
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
		default:
			h.Logger.Error("start payment failed", "order_number", orderNumber, "error", err)
			writeError(w, http.StatusInternalServerError, "start payment failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{PaymentID: start.PaymentID, CheckoutURL: start.CheckoutURL})
}

func toOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		Total:          order.Total.StringFixed(2),
		PickupTime:     order.PickupTime.Format(time.RFC3339),
		PointsEarned:   order.PointsEarned,
		PointsRedeemed: order.PointsRedeemed,
		Items:          make([]orderItemResponse, 0, len(order.Items)),
	}
	for _, it := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice.StringFixed(2),
			LineTotal:      it.LineTotal().StringFixed(2),
			Customizations: it.Customizations,
		})
	}
	return resp
}

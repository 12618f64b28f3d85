package order

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	domerrors "github.com/kyungseok/orderflow/common/errors"
	"go.uber.org/zap"
)

// createOrderRequest/Response mirror the teacher's CreateOrderRequest/
// Response shape (services/order/internal/handler/http_handler.go),
// generalized from a single amount/quantity pair to a line-item list.
type itemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type createOrderRequest struct {
	CustomerID int64         `json:"customerId"`
	Currency   string        `json:"currency"`
	Items      []itemRequest `json:"items"`
}

type orderResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HTTPHandler exposes the order creation/lookup/cancel endpoints over plain
// net/http, matching the teacher's handler style.
type HTTPHandler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHTTPHandler builds the order HTTP handler.
func NewHTTPHandler(svc *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// CreateOrder handles POST /api/v1/orders.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	items := make([]Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = Item{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	o, err := h.svc.CreateOrder(r.Context(), CreateCommand{
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
		Items:      items,
	})
	if err != nil {
		h.logger.Error("failed to create order", zap.Error(err))
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}

	h.respondJSON(w, http.StatusCreated, orderResponse{OrderID: o.ID, Status: string(o.Status)})
}

// GetOrder handles GET /api/v1/orders/{id}.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	orderID, err := h.parseOrderID(r.URL.Path, "/api/v1/orders/")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	o, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}

	h.respondJSON(w, http.StatusOK, o)
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel.
func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	orderID, err := h.parseOrderID(strings.TrimSuffix(r.URL.Path, "/cancel"), "/api/v1/orders/")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	_, err = h.svc.CancelOrder(r.Context(), orderID, req.Reason, true)
	if err != nil {
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// advanceRequest names the terminal tail transition (DELIVERED or
// COMPLETED) that no event ever triggers automatically (resolved Open
// Question (b)).
type advanceRequest struct {
	To string `json:"to"`
}

// AdvanceOrder handles POST /api/v1/orders/{id}/advance, the operator/admin
// path for the SHIPPED→DELIVERED→COMPLETED tail.
func (h *HTTPHandler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	orderID, err := h.parseOrderID(strings.TrimSuffix(r.URL.Path, "/advance"), "/api/v1/orders/")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if err := h.svc.AdvanceAfterShipment(r.Context(), orderID, Status(req.To)); err != nil {
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": strings.ToLower(req.To)})
}

func (h *HTTPHandler) parseOrderID(path, prefix string) (int64, error) {
	idStr := strings.TrimPrefix(path, prefix)
	return strconv.ParseInt(idStr, 10, 64)
}

// HealthCheck reports service liveness.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, message string, code string) {
	h.respondJSON(w, status, errorResponse{Error: message, Code: code})
}

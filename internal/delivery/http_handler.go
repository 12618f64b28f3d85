package delivery

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type deliveryResponse struct {
	OrderID int64  `json:"orderId"`
	Address string `json:"address"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPHandler exposes read-only delivery lookup over plain net/http.
type HTTPHandler struct {
	repo   Repository
	logger *zap.Logger
}

// NewHTTPHandler builds the delivery HTTP handler.
func NewHTTPHandler(repo Repository, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{repo: repo, logger: logger}
}

// GetDeliveryByOrder handles GET /api/v1/deliveries/order/{orderId}.
func (h *HTTPHandler) GetDeliveryByOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/deliveries/order/")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	d, err := h.repo.FindByOrderID(r.Context(), orderID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "delivery not found")
		return
	}

	h.respondJSON(w, http.StatusOK, deliveryResponse{
		OrderID: d.OrderID, Address: d.Address, Status: string(d.Status), Reason: d.Reason,
	})
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

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}

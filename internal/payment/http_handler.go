package payment

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type paymentResponse struct {
	OrderID int64  `json:"orderId"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPHandler exposes read-only payment lookup over plain net/http,
// matching the teacher's handler style.
type HTTPHandler struct {
	repo   Repository
	logger *zap.Logger
}

// NewHTTPHandler builds the payment HTTP handler.
func NewHTTPHandler(repo Repository, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{repo: repo, logger: logger}
}

// GetPaymentByOrder handles GET /api/v1/payments/order/{orderId}.
func (h *HTTPHandler) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/order/")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	p, err := h.repo.FindByOrderID(r.Context(), orderID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "payment not found")
		return
	}

	h.respondJSON(w, http.StatusOK, paymentResponse{
		OrderID: p.OrderID, Amount: p.Amount, Status: string(p.Status), Reason: p.Reason,
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

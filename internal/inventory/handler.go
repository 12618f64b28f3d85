package inventory

import (
	"encoding/json"
	"net/http"
	"strings"

	domerrors "github.com/kyungseok/orderflow/common/errors"
	"go.uber.org/zap"
)

// adjustRequest and responses mirror the teacher's plain-struct request/
// response bodies (services/order/internal/handler/http_handler.go's
// shape), generalized here to the stock-query/adjust admin surface spec §6
// requires, which the teacher's inventory service never exposed over HTTP.
// NewTotalQuantity is the absolute target on-hand count (spec §4.1's
// adjust(newTotal, reason)); the handler converts it to the engine's delta.
type adjustRequest struct {
	NewTotalQuantity int    `json:"newTotalQuantity"`
	Reason           string `json:"reason"`
}

type stockResponse struct {
	ProductID string `json:"productId"`
	OnHand    int    `json:"onHand,omitempty"`
	Reserved  int    `json:"reserved,omitempty"`
	Available int    `json:"available,omitempty"`
	NewOnHand int    `json:"newOnHand,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HTTPHandler exposes the C3 stock read and stock-adjust endpoints over plain
// net/http, matching the teacher's handler style (no framework on the
// domain services; gin is reserved for the gateway).
type HTTPHandler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHTTPHandler builds the stock admin HTTP handler.
func NewHTTPHandler(svc *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

const productsPrefix = "/api/v1/inventory/products/"

// ProductStock dispatches both of the product-scoped stock endpoints spec §6
// defines under the same "/api/v1/inventory/products/{id}/..." prefix:
// GET .../stock (read) and POST .../stock/adjust (admin correction). A
// single net/http.ServeMux pattern can't carry a variable {id} segment, so
// the suffix is inspected here instead of registering two competing prefix
// patterns for the one path family.
func (h *HTTPHandler) ProductStock(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, productsPrefix)
	switch {
	case strings.HasSuffix(path, "/stock/adjust"):
		h.adjustStock(w, r, strings.TrimSuffix(path, "/stock/adjust"))
	case strings.HasSuffix(path, "/stock"):
		h.getStock(w, r, strings.TrimSuffix(path, "/stock"))
	default:
		h.respondError(w, http.StatusNotFound, "not found", "")
	}
}

// adjustStock handles POST /api/v1/inventory/products/{id}/stock/adjust
// (spec §6), converting the request's absolute newTotalQuantity into the
// engine's delta (spec §4.1's adjust(newTotal, reason) operation).
func (h *HTTPHandler) adjustStock(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "missing product id", "")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	correlationID := r.Header.Get("X-Correlation-ID")

	current, err := h.svc.GetStock(r.Context(), productID)
	if err != nil {
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}
	delta := req.NewTotalQuantity - current.OnHand

	newOnHand, err := h.svc.AdjustStock(r.Context(), productID, delta, req.Reason, correlationID)
	if err != nil {
		h.logger.Warn("stock adjustment rejected", zap.String("productId", productID), zap.Error(err))
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}

	h.respondJSON(w, http.StatusOK, stockResponse{ProductID: productID, NewOnHand: newOnHand})
}

// getStock handles GET /api/v1/inventory/products/{id}/stock (spec §6).
func (h *HTTPHandler) getStock(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "missing product id", "")
		return
	}

	s, err := h.svc.GetStock(r.Context(), productID)
	if err != nil {
		h.respondError(w, domerrors.HTTPStatus(err), err.Error(), "")
		return
	}

	h.respondJSON(w, http.StatusOK, stockResponse{
		ProductID: s.ProductID,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		Available: s.Available(),
	})
}

// HealthCheck reports service liveness, matching the teacher's per-service
// health endpoint shape.
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

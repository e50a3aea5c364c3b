package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shop-cart/model"
	"shop-cart/service"
	"shop-cart/store"
)

// Handler is the HTTP layer that talks to service.Service
type Handler struct {
	svc    service.ServiceInterface
	logger *zap.Logger
	secret []byte
	now    func() time.Time
}

// NewHandler returns a Handler instance. secret verifies bearer tokens on
// the cart and checkout routes.
func NewHandler(s service.ServiceInterface, logger *zap.Logger, secret []byte) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: s, logger: logger, secret: secret, now: time.Now}
}

// RegisterRoutes registers all routes on the provided router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(WithRequestID, h.withLogging)

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	// Products
	r.HandleFunc("/products", h.CreateProduct).Methods("POST")
	r.HandleFunc("/products/list", h.ListProducts).Methods("GET")
	r.HandleFunc("/products/{id}", h.GetProduct).Methods("GET")
	r.HandleFunc("/products/{id}/stock", h.GetStock).Methods("GET")
	r.HandleFunc("/products/{id}/stock", h.UpdateStock).Methods("POST")

	// Cart document, one per account
	auth := r.NewRoute().Subrouter()
	auth.Use(h.requireAccount)
	auth.HandleFunc("/cart", h.GetCart).Methods("GET")
	auth.HandleFunc("/cart", h.SaveCart).Methods("PUT")
	auth.HandleFunc("/cart", h.ClearCart).Methods("DELETE")

	// Checkout
	auth.HandleFunc("/checkout/order", h.Checkout).Methods("POST")
}

// --- request / response shapes ---
type updateStockReq struct {
	Stock int `json:"stock"`
}

type saveCartReq struct {
	Items []model.CartItem `json:"items"`
}

type cartResp struct {
	AccountID  string           `json:"accountId"`
	Items      []model.CartItem `json:"items"`
	TotalItems int              `json:"totalItems"`
	Total      float64          `json:"total"`
}

// --- helpers ---
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceErr maps service and store errors to status codes.
func (h *Handler) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientStock):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Handler ---

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateProduct handles POST /products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.svc.CreateProduct(r.Context(), req)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// ListProducts handles GET /products/list
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListProducts(r.Context())
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetProduct handles GET /products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetStock handles GET /products/{id}/stock
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	level, err := h.svc.GetStock(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

// UpdateStock handles POST /products/{id}/stock
// body: { "stock": 12 }
func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.svc.UpdateStock(r.Context(), mux.Vars(r)["id"], req.Stock); err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetCart handles GET /cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	accountID := AccountFromContext(r.Context())
	items, err := h.svc.GetCart(r.Context(), accountID)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResp{
		AccountID:  accountID,
		Items:      items,
		TotalItems: model.TotalItems(items),
		Total:      model.TotalPrice(items),
	})
}

// SaveCart handles PUT /cart
// body: { "items": [ { "productId": "1", "product": {...}, "quantity": 2 } ] }
func (h *Handler) SaveCart(w http.ResponseWriter, r *http.Request) {
	var req saveCartReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.svc.SaveCart(r.Context(), AccountFromContext(r.Context()), req.Items); err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart handles DELETE /cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCart(r.Context(), AccountFromContext(r.Context())); err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout handles POST /checkout/order
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ord, err := h.svc.Checkout(r.Context(), AccountFromContext(r.Context()))
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ord)
}

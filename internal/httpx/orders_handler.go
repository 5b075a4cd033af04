package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-bookstore-orders/internal/checkout"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type OrdersHandler struct {
	Service  *checkout.Service
	Validate *validator.Validate
	Timeout  time.Duration
}

type PaymentReq struct {
	Details json.RawMessage `json:"payment_details,omitempty"`
}

type CancelReq struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// Register mounts the order routes. Callers must already be authenticated.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/payment", h.processPayment)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders/{id}/invoice", h.invoice)
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

// bind decodes the body into out and validates it. An empty body is
// accepted when allowEmpty is set.
func (h *OrdersHandler) bind(w http.ResponseWriter, r *http.Request, out any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if !allowEmpty || !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_json", Message: err.Error()})
			return false
		}
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(out); err != nil {
			writeValidation(w, err)
			return false
		}
	}
	return true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.CreateOrderInput
	if !h.bind(w, r, &req, false) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Service.CreateOrder(ctx, callerFrom(ctx), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := orders.ListQuery{
		CustomerID: q.Get("customer_id"),
		SortBy:     orders.SortField(q.Get("sort_by")),
		Desc:       !strings.EqualFold(q.Get("order"), "asc"),
		Page:       atoiOr(q.Get("page"), 1),
		PerPage:    atoiOr(q.Get("per_page"), 10),
	}
	if s := q.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_status", Message: err.Error()})
			return
		}
		lq.Status = st
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	page, err := h.Service.ListOrders(ctx, callerFrom(ctx), lq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, callerFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) processPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentReq
	if !h.bind(w, r, &req, true) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Service.ProcessPayment(ctx, callerFrom(ctx), chi.URLParam(r, "id"), req.Details)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Outcome == orders.OutcomePending {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req checkout.UpdateStatusInput
	if !h.bind(w, r, &req, false) {
		return
	}
	req.OrderID = chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, callerFrom(ctx), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelReq
	if !h.bind(w, r, &req, true) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Service.Cancel(ctx, callerFrom(ctx), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) invoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	doc, err := h.Service.Invoice(ctx, callerFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := doc.JSON()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func atoiOr(s string, def int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}

package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-bookstore-orders/internal/checkout"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

const SignatureHeader = "X-Callback-Signature"

// CallbackReq is what payment providers post once a transaction resolves.
type CallbackReq struct {
	OrderID       string          `json:"order_id" validate:"required"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	Status        string          `json:"status" validate:"required,oneof=succeeded failed"`
	Provider      string          `json:"provider,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
}

// CallbackHandler applies provider callbacks. Replays need no screening:
// confirmation is idempotent on the transaction id, so a repeated callback
// gets the current order back and a transaction id already used by another
// order is refused.
type CallbackHandler struct {
	Service  *checkout.Service
	Secret   string
	Validate *validator.Validate
}

func (h *CallbackHandler) Register(r chi.Router) {
	r.Post("/payments/callback", h.handle)
}

// Sign returns the hex HMAC-SHA256 of body that providers send in
// X-Callback-Signature.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

func mac(secret string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return m.Sum(nil)
}

func (h *CallbackHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body"})
		return
	}
	got, err := hex.DecodeString(r.Header.Get(SignatureHeader))
	if h.Secret == "" || err != nil || !hmac.Equal(got, mac(h.Secret, body)) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_signature"})
		return
	}

	var req CallbackReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_json", Message: err.Error()})
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(&req); err != nil {
			writeValidation(w, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	to := orders.StatusPaid
	if req.Status == string(orders.OutcomeFailed) {
		to = orders.StatusFailed
	}
	o, err := h.Service.UpdateStatus(ctx, checkout.Caller{ID: req.Provider, Role: checkout.RoleSystem}, checkout.UpdateStatusInput{
		OrderID:       req.OrderID,
		Status:        to,
		TransactionID: req.TransactionID,
		Details:       req.Details,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/payment"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details any               `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{orders.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{orders.ErrForbidden, http.StatusForbidden, "forbidden"},
	{orders.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{orders.ErrOutOfStock, http.StatusConflict, "out_of_stock"},
	{orders.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
	{orders.ErrInvalidPrice, http.StatusUnprocessableEntity, "invalid_price"},
	{orders.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{orders.ErrDuplicateTransaction, http.StatusConflict, "duplicate_transaction"},
	{orders.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{orders.ErrUnsupportedMethod, http.StatusUnprocessableEntity, "unsupported_payment_method"},
	{orders.ErrInvalidPaymentDetails, http.StatusUnprocessableEntity, "invalid_payment_details"},
	{orders.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},
	{payment.ErrUnavailable, http.StatusServiceUnavailable, "payment_unavailable"},
}

// writeError maps domain errors to status codes with a stable error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oos *orders.OutOfStockError
	if errors.As(err, &oos) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "out_of_stock", Message: err.Error(), Details: oos.Details})
		return
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			writeJSON(w, e.status, errorBody{Error: e.code, Message: err.Error()})
			return
		}
	}
	slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
}

func writeValidation(w http.ResponseWriter, err error) {
	fields := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Namespace()] = fe.Tag()
		}
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Fields: fields})
}

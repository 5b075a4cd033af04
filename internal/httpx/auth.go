package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariefcatur/go-bookstore-orders/internal/checkout"
)

type callerKey struct{}

// IssueToken signs an HS256 token carrying sub and role.
func IssueToken(secret, subject string, role checkout.Role, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAuth validates a bearer token and returns the caller it names.
func ParseAuth(header, secret string) (checkout.Caller, error) {
	tokenStr := strings.TrimSpace(header)
	if len(tokenStr) > 7 && strings.EqualFold(tokenStr[:7], "bearer ") {
		tokenStr = strings.TrimSpace(tokenStr[7:])
	}
	if tokenStr == "" {
		return checkout.Caller{}, errors.New("missing token")
	}

	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return checkout.Caller{}, err
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return checkout.Caller{}, errors.New("invalid claims")
	}
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return checkout.Caller{}, errors.New("missing subject")
	}
	role, _ := mc["role"].(string)
	return checkout.Caller{ID: sub, Role: checkout.ParseRole(role)}, nil
}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := ParseAuth(r.Header.Get("Authorization"), secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

func callerFrom(ctx context.Context) checkout.Caller {
	c, _ := ctx.Value(callerKey{}).(checkout.Caller)
	return c
}

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rojolang/rintento-go/pkg/intent"
)

// AuthHandler rejects requests without a valid HS256 bearer token. It must
// come first in the chain.
type AuthHandler struct {
	secret []byte
}

func NewAuthHandler(secret string) *AuthHandler {
	return &AuthHandler{secret: []byte(secret)}
}

// CanHandle accepts exactly the requests that fail authentication
func (a *AuthHandler) CanHandle(r *Request) bool {
	return a.verify(r.Header.Get("Authorization")) != nil
}

func (a *AuthHandler) Handle(_ context.Context, r *Request) (intent.Utterances, error) {
	err := a.verify(r.Header.Get("Authorization"))
	if err == nil {
		return nil, intent.NewUnknownError(fmt.Errorf("authenticated request reached auth handler"))
	}
	return nil, intent.WrapError(err, "authentication required", intent.ErrCodeAuthFailed)
}

func (a *AuthHandler) verify(header string) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return fmt.Errorf("missing bearer token")
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// NewAuthToken mints a token accepted by an AuthHandler with the same secret
func NewAuthToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", intent.NewBadRequestError("auth secret not set")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if subject != "" {
		claims["sub"] = subject
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", intent.WrapError(err, "sign token", intent.ErrCodeUnknown)
	}
	return signed, nil
}

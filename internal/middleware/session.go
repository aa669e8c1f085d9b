package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"casham-store/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	CartIDKey     contextKey = "cart_id"
	NewSessionKey contextKey = "new_session"

	// CartCookieName carries the signed cart session
	CartCookieName = "cart_session"
	// CartTokenHeader returns a newly issued token to non-browser clients
	CartTokenHeader = "X-Cart-Token"

	cartTokenIssuer = "casham-store"
)

var ErrInvalidCartToken = errors.New("invalid cart token")

// SessionConfig configures cart session tokens
type SessionConfig struct {
	Secret       string
	TTL          time.Duration
	CookieSecure bool
}

type cartClaims struct {
	CartID uuid.UUID `json:"cart_id"`
	jwt.RegisteredClaims
}

// IssueCartToken signs a token binding the cart id for ttl
func IssueCartToken(secret string, cartID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := cartClaims{
		CartID: cartID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cartTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign cart token: %w", err)
	}
	return signed, nil
}

// ParseCartToken verifies a cart token and returns its cart id and expiry
func ParseCartToken(secret, tokenString string) (uuid.UUID, time.Time, error) {
	claims := &cartClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cartTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCartToken, err)
	}
	if !token.Valid || claims.CartID == uuid.Nil {
		return uuid.Nil, time.Time{}, ErrInvalidCartToken
	}
	return claims.CartID, claims.ExpiresAt.Time, nil
}

// CartSessionMiddleware resolves the shopper's cart id from the session
// cookie or a Bearer token. A missing, invalid or expired token starts a new
// cart. Tokens past half their lifetime are reissued for the same cart.
func CartSessionMiddleware(cfg SessionConfig, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cartID, expiresAt, staleCookie, err := cartIDFromRequest(r, cfg.Secret)

			issue, minted := staleCookie, false
			switch {
			case err != nil:
				if !errors.Is(err, http.ErrNoCookie) {
					log.Debug("Cart session rejected", zap.Error(err))
				}
				cartID = uuid.New()
				issue, minted = true, true
			case time.Until(expiresAt) < cfg.TTL/2:
				issue = true
			}

			if issue {
				token, err := IssueCartToken(cfg.Secret, cartID, cfg.TTL)
				if err != nil {
					log.Error("Failed to issue cart session", zap.Error(err))
					RespondWithError(w, http.StatusInternalServerError, "internal server error")
					return
				}

				http.SetCookie(w, &http.Cookie{
					Name:     CartCookieName,
					Value:    token,
					Path:     "/",
					MaxAge:   int(cfg.TTL.Seconds()),
					HttpOnly: true,
					Secure:   cfg.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
				w.Header().Set(CartTokenHeader, token)

				log.Debug("Cart session issued", logger.CartID(cartID))
			}

			ctx := context.WithValue(r.Context(), CartIDKey, cartID)
			ctx = context.WithValue(ctx, NewSessionKey, minted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// cartIDFromRequest prefers the cookie and falls back to the Bearer token
// when the cookie is absent or does not verify. staleCookie is set when a
// bad cookie was overridden by the header, so the caller rewrites it.
func cartIDFromRequest(r *http.Request, secret string) (cartID uuid.UUID, expiresAt time.Time, staleCookie bool, err error) {
	var cookieErr error
	if cookie, err := r.Cookie(CartCookieName); err == nil && cookie.Value != "" {
		cartID, expiresAt, err := ParseCartToken(secret, cookie.Value)
		if err == nil {
			return cartID, expiresAt, false, nil
		}
		cookieErr = err
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if cookieErr != nil {
			return uuid.Nil, time.Time{}, false, cookieErr
		}
		return uuid.Nil, time.Time{}, false, http.ErrNoCookie
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return uuid.Nil, time.Time{}, false, fmt.Errorf("%w: malformed authorization header", ErrInvalidCartToken)
	}

	cartID, expiresAt, err = ParseCartToken(secret, parts[1])
	if err != nil {
		return uuid.Nil, time.Time{}, false, err
	}
	return cartID, expiresAt, cookieErr != nil, nil
}

// IsNewSession reports whether the cart id was minted for this request
func IsNewSession(ctx context.Context) bool {
	minted, _ := ctx.Value(NewSessionKey).(bool)
	return minted
}

// GetCartID extracts the cart id from request context
func GetCartID(ctx context.Context) (uuid.UUID, bool) {
	cartID, ok := ctx.Value(CartIDKey).(uuid.UUID)
	return cartID, ok
}

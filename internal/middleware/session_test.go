package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-session-secret"

func testSessionConfig() SessionConfig {
	return SessionConfig{Secret: testSecret, TTL: 30 * 24 * time.Hour}
}

// sessionRecorder records the cart id the middleware put in context
func sessionRecorder(seen *uuid.UUID) http.Handler {
	return CartSessionMiddleware(testSessionConfig(), zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cartID, ok := GetCartID(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		*seen = cartID
		w.WriteHeader(http.StatusOK)
	}))
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == CartCookieName {
			return c
		}
	}
	return nil
}

func TestCartSession_MintsCartForNewVisitor(t *testing.T) {
	var seen uuid.UUID
	handler := sessionRecorder(&seen)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, uuid.Nil, seen)

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 30*24*60*60, cookie.MaxAge)
	assert.Equal(t, cookie.Value, w.Header().Get(CartTokenHeader))

	cartID, _, err := ParseCartToken(testSecret, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, seen, cartID)
}

func TestCartSession_ReusesCookieCart(t *testing.T) {
	var seen uuid.UUID
	handler := sessionRecorder(&seen)

	cartID := uuid.New()
	token, err := IssueCartToken(testSecret, cartID, 30*24*time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, cartID, seen)
	assert.Nil(t, sessionCookie(w), "a fresh token is not reissued")
}

func TestCartSession_AcceptsBearerToken(t *testing.T) {
	var seen uuid.UUID
	handler := sessionRecorder(&seen)

	cartID := uuid.New()
	token, err := IssueCartToken(testSecret, cartID, 30*24*time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, cartID, seen)
}

func TestCartSession_ReissuesAgingToken(t *testing.T) {
	var seen uuid.UUID
	handler := sessionRecorder(&seen)

	cartID := uuid.New()
	token, err := IssueCartToken(testSecret, cartID, 24*time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, cartID, seen)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)

	reissued, _, err := ParseCartToken(testSecret, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, cartID, reissued)
}

func TestCartSession_RejectsBadTokens(t *testing.T) {
	cartID := uuid.New()

	expired, err := IssueCartToken(testSecret, cartID, -time.Hour)
	require.NoError(t, err)

	foreign, err := IssueCartToken("another-secret", cartID, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"cart_id": cartID.String(),
		"iss":     cartTokenIssuer,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"unsigned":     unsigned,
		"garbage":      "not-a-jwt",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseCartToken(testSecret, token)
			assert.ErrorIs(t, err, ErrInvalidCartToken)

			var seen uuid.UUID
			req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
			req.AddCookie(&http.Cookie{Name: CartCookieName, Value: token})
			w := httptest.NewRecorder()
			sessionRecorder(&seen).ServeHTTP(w, req)

			assert.NotEqual(t, cartID, seen, "a rejected token starts a new cart")
			assert.NotNil(t, sessionCookie(w))
		})
	}
}

// Property: issued tokens always round-trip to the same cart
func TestProperty_CartTokenRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("parse(issue(id)) == id", prop.ForAll(
		func(hi, lo uint64, days int) bool {
			var cartID uuid.UUID
			for i := 0; i < 8; i++ {
				cartID[i] = byte(hi >> (8 * i))
				cartID[8+i] = byte(lo >> (8 * i))
			}
			if cartID == uuid.Nil {
				return true
			}

			token, err := IssueCartToken(testSecret, cartID, time.Duration(days)*24*time.Hour)
			if err != nil {
				return false
			}

			parsed, expiresAt, err := ParseCartToken(testSecret, token)
			return err == nil && parsed == cartID && expiresAt.After(time.Now())
		},
		gen.UInt64(),
		gen.UInt64(),
		gen.IntRange(1, 90),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCartSession_MarksMintedSessions(t *testing.T) {
	var minted []bool
	handler := CartSessionMiddleware(testSessionConfig(), zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		minted = append(minted, IsNewSession(r.Context()))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(sessionCookie(w))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []bool{true, false}, minted)
}

func TestCartSession_FallsBackToBearerWhenCookieIsStale(t *testing.T) {
	var seen uuid.UUID
	handler := sessionRecorder(&seen)

	cartID := uuid.New()
	token, err := IssueCartToken(testSecret, cartID, 30*24*time.Hour)
	require.NoError(t, err)

	staleToken, err := IssueCartToken("rotated-secret", uuid.New(), 30*24*time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: staleToken})
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, cartID, seen)

	// the bad cookie is rewritten to the header's cart
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	reissued, _, err := ParseCartToken(testSecret, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, cartID, reissued)
}

func TestCartSession_StaleCookieWithoutHeaderStartsNewCart(t *testing.T) {
	var seen uuid.UUID
	handler := sessionRecorder(&seen)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: "not-a-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEqual(t, uuid.Nil, seen)
	assert.NotNil(t, sessionCookie(w))
}

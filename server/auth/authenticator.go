package auth

import (
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
)

// userIDContextKey is the echo context key holding the authenticated user ID.
const userIDContextKey = "recall.user-id"

// issuer identifies tokens minted for this service.
const issuer = "recall"

// Authenticator validates HMAC-signed Bearer tokens. Token issuance lives
// with the identity provider; this service only verifies.
type Authenticator struct {
	secret []byte
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate parses and verifies a raw token, returning the user ID
// from the subject claim.
func (a *Authenticator) Authenticate(tokenString string) (int32, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, apierrors.Unauthorized("invalid access token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return 0, apierrors.Unauthorized("invalid token subject")
	}
	return int32(userID), nil
}

// Middleware extracts the Bearer token, verifies it, and stores the user
// ID in the request context.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(401, "missing access token")
			}

			userID, err := a.Authenticate(token)
			if err != nil {
				return echo.NewHTTPError(401, "invalid access token")
			}

			c.Set(userIDContextKey, userID)
			return next(c)
		}
	}
}

// UserID returns the authenticated user ID stored by Middleware, or 0
// when the request is unauthenticated.
func UserID(c echo.Context) int32 {
	if id, ok := c.Get(userIDContextKey).(int32); ok {
		return id
	}
	return 0
}

// GenerateToken mints a token for a user. Used by tests and local tooling.
func GenerateToken(secret string, userID int32) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  issuer,
		Subject: strconv.FormatInt(int64(userID), 10),
	})
	return token.SignedString([]byte(secret))
}

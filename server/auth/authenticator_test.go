package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", 42)
	require.NoError(t, err)

	a := New("secret")
	userID, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, int32(42), userID)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", 42)
	require.NoError(t, err)

	a := New("other-secret")
	_, err = a.Authenticate(token)
	require.Error(t, err)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	a := New("secret")
	_, err := a.Authenticate("not-a-token")
	require.Error(t, err)
}

func TestMiddlewareSetsUserID(t *testing.T) {
	token, err := GenerateToken("secret", 7)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	a := New("secret")
	handler := a.Middleware()(func(c echo.Context) error {
		assert.Equal(t, int32(7), UserID(c))
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	a := New("secret")
	handler := a.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, 401, httpErr.Code)
}

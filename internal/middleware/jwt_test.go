package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(42, secret, time.Hour)
	require.NoError(t, err)

	userID, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)

	expired, err := IssueToken(42, secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	assert.Error(t, err)
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{UserID: 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(signed, secret)
	assert.Error(t, err)
}

func TestParseToken_RequiresUserID(t *testing.T) {
	token, err := IssueToken(0, secret, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(token, secret)
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/rooms/r1?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "from-cookie"})
	token, err := ExtractToken(req)
	require.NoError(t, err)
	assert.Equal(t, "from-header", token)

	req.Header.Del("Authorization")
	token, err = ExtractToken(req)
	require.NoError(t, err)
	assert.Equal(t, "from-query", token)

	req = httptest.NewRequest(http.MethodGet, "/ws/rooms/r1", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "from-cookie"})
	token, err = ExtractToken(req)
	require.NoError(t, err)
	assert.Equal(t, "from-cookie", token)

	req = httptest.NewRequest(http.MethodGet, "/ws/rooms/r1", nil)
	_, err = ExtractToken(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.Header.Set("Authorization", "Token abc")
	_, err = ExtractToken(req)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	router := gin.New()
	router.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		id, ok := UserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})

	token, err := IssueToken(7, secret, time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me?token=garbage", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/repository"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
		wantErr error
	}{
		{"x-user-jwt wins", map[string]string{"x-user-jwt": "Bearer user-tok", "Authorization": "Bearer anon"}, "user-tok", nil},
		{"x-user-jwt bare", map[string]string{"x-user-jwt": "user-tok"}, "user-tok", nil},
		{"authorization", map[string]string{"Authorization": "Bearer abc"}, "abc", nil},
		{"missing", nil, "", ErrMissingBearer},
		{"wrong scheme", map[string]string{"Authorization": "Basic abc"}, "", ErrInvalidToken},
		{"empty bearer", map[string]string{"Authorization": "Bearer "}, "", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, err := ExtractToken(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJWTAuthenticator(t *testing.T) {
	a := NewJWTAuthenticator("test-secret")

	token, err := a.Issue("user-1", "ada@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := a.AuthenticateBearer(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)

	_, err = NewJWTAuthenticator("other-secret").AuthenticateBearer(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := a.Issue("user-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = a.AuthenticateBearer(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAuthenticatorRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTAuthenticator("test-secret").AuthenticateBearer(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewJWTAuthenticator("test-secret")
	store := repository.NewMemoryStore()
	store.SeedProfile(models.Profile{UserID: "admin", IsAdmin: true})
	store.SeedProfile(models.Profile{UserID: "super", IsSuperAdmin: true})
	store.SeedProfile(models.Profile{UserID: "shopper"})

	r := gin.New()
	r.POST("/op", RequireUser(a), RequireAdmin(store), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		user string
		want int
	}{
		{"admin", http.StatusNoContent},
		{"super", http.StatusNoContent},
		{"shopper", http.StatusForbidden},
		{"stranger", http.StatusForbidden},
		{"", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/op", nil)
			if tt.user != "" {
				token, err := a.Issue(tt.user, "", time.Hour)
				require.NoError(t, err)
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type failingProfiles struct{}

func (failingProfiles) GetProfile(context.Context, string) (*models.Profile, error) {
	return nil, errors.New("connection reset")
}

func TestRequireAdminErrorBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewJWTAuthenticator("test-secret")
	store := repository.NewMemoryStore()
	store.SeedProfile(models.Profile{UserID: "shopper"})

	tests := []struct {
		name     string
		profiles interfaces.ProfileRepository
		user     string
		status   int
		body     string
	}{
		{"no token", store, "", http.StatusUnauthorized, `{"success":false,"message":"Unauthorized"}`},
		{"not admin", store, "shopper", http.StatusForbidden, `{"success":false,"message":"Admin privileges required"}`},
		{"lookup error", failingProfiles{}, "shopper", http.StatusInternalServerError, `{"success":false,"message":"Profile lookup failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/op", RequireUser(a), RequireAdmin(tt.profiles), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodPost, "/op", nil)
			if tt.user != "" {
				token, err := a.Issue(tt.user, "", time.Hour)
				require.NoError(t, err)
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

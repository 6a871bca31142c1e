package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BridgeAuth(token))
	r.GET("/chats", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestBridgeAuth(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		header string
		path   string
		want   int
	}{
		{"disabled", "", "", "/chats", http.StatusOK},
		{"missing", "s3cret", "", "/chats", http.StatusUnauthorized},
		{"bearer ok", "s3cret", "Bearer s3cret", "/chats", http.StatusOK},
		{"bearer wrong", "s3cret", "Bearer nope", "/chats", http.StatusUnauthorized},
		{"bad scheme", "s3cret", "Basic s3cret", "/chats", http.StatusUnauthorized},
		{"query ok", "s3cret", "", "/chats?token=s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			setupRouter(tc.token).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

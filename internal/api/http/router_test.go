package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSetupRouteProtectsManagementAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	SetupRoute(engine, &Services{}, Config{AdminAPIKey: "k"})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/devices", http.StatusUnauthorized},
		{http.MethodGet, "/connections", http.StatusUnauthorized},
		{http.MethodPost, "/devices/1/voucher-batches", http.StatusUnauthorized},
		{http.MethodGet, "/devices/1/sessions/active", http.StatusUnauthorized},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

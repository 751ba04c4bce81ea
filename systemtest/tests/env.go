package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros/routerostest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// Env is the running API plus the simulated router behind it. DeviceID is
// filled in by TestDevices and used by the later steps.
type Env struct {
	Router        *gin.Engine
	APIKey        string
	Device        *routerostest.Device
	DeviceAddress string
	DeviceID      int64
	ProfileID     int64
}

func (e *Env) path(format string, args ...any) string {
	return fmt.Sprintf("/devices/%d", e.DeviceID) + fmt.Sprintf(format, args...)
}

func (e *Env) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", e.APIKey)
	rr := httptest.NewRecorder()
	e.Router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealthCheck(t *testing.T, env *Env) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.Router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

package tests

import (
	"net/http"
	"testing"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevices(t *testing.T, env *Env) {
	t.Run("register", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/devices", dto.CreateDeviceRequest{
			Name:     "core-router",
			Address:  env.DeviceAddress,
			Username: "api",
			Password: "routerpass",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var d devices.Device
		decode(t, rr, &d)
		assert.True(t, d.IsActive)
		assert.Equal(t, 8728, d.Port)
		assert.NotContains(t, rr.Body.String(), "routerpass")
		env.DeviceID = d.ID
	})

	t.Run("duplicate name", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/devices", dto.CreateDeviceRequest{
			Name: "core-router", Address: "10.9.9.9", Username: "api", Password: "x",
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("list and get", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/devices", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var list dto.ListDevicesResponse
		decode(t, rr, &list)
		assert.Equal(t, 1, list.Count)

		rr = env.do(http.MethodGet, env.path(""), nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = env.do(http.MethodGet, "/devices/999", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("requires api key", func(t *testing.T) {
		saved := env.APIKey
		env.APIKey = "wrong"
		defer func() { env.APIKey = saved }()
		rr := env.do(http.MethodGet, "/devices", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

package tests

import (
	"net/http"
	"testing"

	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisioning(t *testing.T, env *Env) {
	var userID float64

	t.Run("hotspot profile", func(t *testing.T) {
		rr := env.do(http.MethodPost, env.path("/profiles"), provisioning.ProfilePayload{
			Service:     routeros.ServiceHotspot,
			Name:        "1-hour",
			SharedUsers: 1,
			Validity:    "1h",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var created map[string]any
		decode(t, rr, &created)
		env.ProfileID = int64(created["id"].(float64))

		rec, ok := env.Device.Find("/ip/hotspot/user/profile", "1-hour")
		require.True(t, ok)
		assert.Equal(t, "1", rec["shared-users"])
	})

	t.Run("ppp secret", func(t *testing.T) {
		rr := env.do(http.MethodPost, env.path("/users"), provisioning.UserPayload{
			Service:  routeros.ServicePPPoE,
			Name:     "carol",
			Password: "pw",
			Profile:  "10M",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var created map[string]any
		decode(t, rr, &created)
		assert.Equal(t, true, created["synchronized"])
		userID = created["id"].(float64)

		_, ok := env.Device.Find("/ppp/secret", "carol")
		assert.True(t, ok)
	})

	t.Run("duplicate on device is rolled back", func(t *testing.T) {
		rr := env.do(http.MethodPost, env.path("/users"), provisioning.UserPayload{
			Service:  routeros.ServicePPPoE,
			Name:     "alice",
			Password: "pw",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

		rr = env.do(http.MethodGet, env.path("/entities?kind=ppp_secret"), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var list map[string]any
		decode(t, rr, &list)
		assert.Equal(t, float64(1), list["count"])
	})

	t.Run("delete", func(t *testing.T) {
		rr := env.do(http.MethodDelete, env.path("/entities/%d", int64(userID)), nil)
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

		_, ok := env.Device.Find("/ppp/secret", "carol")
		assert.False(t, ok)
	})
}

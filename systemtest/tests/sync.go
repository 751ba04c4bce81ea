package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync(t *testing.T, env *Env) {
	env.Device.Replace("/ppp/secret",
		routeros.Record{"name": "alice", "profile": "10M", "disabled": "false"},
		routeros.Record{"name": "bob", "profile": "10M", "disabled": "false"},
	)
	env.Device.Replace("/ppp/active",
		routeros.Record{"name": "alice", "address": "10.10.0.2"},
	)

	rr := env.do(http.MethodPost, env.path("/initialize?service=pppoe"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Eventually(t, func() bool {
		rr := env.do(http.MethodGet, env.path("/sessions/active?service=pppoe"), nil)
		var resp dto.SessionsResponse
		decode(t, rr, &resp)
		return resp.Count == 1 && resp.Users[0].Username == "alice"
	}, 5*time.Second, 50*time.Millisecond)

	rr = env.do(http.MethodGet, env.path("/sessions/inactive?service=pppoe&search=bo"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var inactive dto.SessionsResponse
	decode(t, rr, &inactive)
	require.Equal(t, 1, inactive.Count)
	assert.Equal(t, "bob", inactive.Users[0].Username)

	rr = env.do(http.MethodGet, env.path("/stats?service=pppoe"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	decode(t, rr, &stats)
	assert.Equal(t, float64(2), stats["cached_user_count"])
	assert.Equal(t, float64(1), stats["active_user_count"])

	rr = env.do(http.MethodGet, "/connections", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var conns dto.ConnectionsResponse
	decode(t, rr, &conns)
	require.Equal(t, 1, conns.Count)
	assert.Equal(t, env.DeviceID, conns.Connections[0].DeviceID)
	assert.True(t, conns.Connections[0].Healthy)
}

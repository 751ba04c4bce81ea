package provisioning

import (
	"testing"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilePayloadFields(t *testing.T) {
	ppp := ProfilePayload{
		Service:       routeros.ServicePPPoE,
		Name:          "10M",
		RateLimit:     "10M/10M",
		LocalAddress:  "10.10.0.1",
		RemoteAddress: "pool-10m",
		Comment:       "home",
	}
	fields, err := ppp.Fields()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":           "10M",
		"rate-limit":     "10M/10M",
		"local-address":  "10.10.0.1",
		"remote-address": "pool-10m",
		"comment":        "home",
	}, fields)
	assert.Equal(t, KindPPPProfile, ppp.Kind())
	assert.Equal(t, "/ppp/profile", ppp.Menu())

	hs := ProfilePayload{Service: routeros.ServiceHotspot, Name: "1h", SharedUsers: 2, SessionTimeout: "1h", Validity: "1d"}
	fields, err = hs.Fields()
	require.NoError(t, err)
	assert.Equal(t, "2", fields["shared-users"])
	assert.Equal(t, "1h", fields["session-timeout"])
	assert.NotContains(t, fields, "validity")
	assert.Equal(t, KindHotspotProfile, hs.Kind())
	assert.Equal(t, "/ip/hotspot/user/profile", hs.Menu())
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{"empty name", ProfilePayload{Service: routeros.ServicePPPoE}},
		{"padded name", ProfilePayload{Service: routeros.ServicePPPoE, Name: " x"}},
		{"bad rate limit", ProfilePayload{Service: routeros.ServicePPPoE, Name: "x", RateLimit: "fast"}},
		{"bad timeout", ProfilePayload{Service: routeros.ServiceHotspot, Name: "x", SessionTimeout: "1 hour"}},
		{"bad validity", ProfilePayload{Service: routeros.ServiceHotspot, Name: "x", Validity: "1w"}},
		{"hotspot address", ProfilePayload{Service: routeros.ServiceHotspot, Name: "x", LocalAddress: "10.0.0.1"}},
		{"ppp shared users", ProfilePayload{Service: routeros.ServicePPPoE, Name: "x", SharedUsers: 2}},
		{"bad pool", ProfilePayload{Service: routeros.ServicePPPoE, Name: "x", RemoteAddress: "pool name"}},
		{"missing password", UserPayload{Service: routeros.ServicePPPoE, Name: "x"}},
		{"ppp server", UserPayload{Service: routeros.ServicePPPoE, Name: "x", Password: "p", Server: "hs1"}},
		{"bad remote", UserPayload{Service: routeros.ServicePPPoE, Name: "x", Password: "p", RemoteAddress: "pool"}},
		{"bad mac", UserPayload{Service: routeros.ServiceHotspot, Name: "x", Password: "p", MacAddress: "zz"}},
		{"hotspot caller id", UserPayload{Service: routeros.ServiceHotspot, Name: "x", Password: "p", CallerID: "aa"}},
		{"voucher no password", VoucherPayload{Name: "x"}},
		{"voucher bad uptime", VoucherPayload{Name: "x", Password: "p", LimitUptime: "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.payload.Fields()
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestUserPayloadFields(t *testing.T) {
	secret := UserPayload{Service: routeros.ServicePPPoE, Name: "alice", Password: "pw", Profile: "10M",
		RemoteAddress: "10.10.0.5", CallerID: "AA:BB:CC:DD:EE:FF", Disabled: true}
	fields, err := secret.Fields()
	require.NoError(t, err)
	assert.Equal(t, "pppoe", fields["service"])
	assert.Equal(t, "yes", fields["disabled"])
	assert.Equal(t, "10.10.0.5", fields["remote-address"])
	assert.Equal(t, "/ppp/secret", secret.Menu())
	assert.Equal(t, KindPPPSecret, secret.Kind())

	user := UserPayload{Service: routeros.ServiceHotspot, Name: "bob", Password: "pw", Server: "hs1",
		MacAddress: "aa:bb:cc:dd:ee:ff", LimitUptime: "1d2h"}
	fields, err = user.Fields()
	require.NoError(t, err)
	assert.Equal(t, "no", fields["disabled"])
	assert.Equal(t, "hs1", fields["server"])
	assert.Equal(t, "1d2h", fields["limit-uptime"])
	assert.NotContains(t, fields, "service")
	assert.Equal(t, KindHotspotUser, user.Kind())
}

func TestVoucherPayloadFields(t *testing.T) {
	v := VoucherPayload{Name: "ABC", Password: "ABC", Profile: "1h", LimitUptime: "01:00:00"}
	fields, err := v.Fields()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":         "ABC",
		"password":     "ABC",
		"profile":      "1h",
		"limit-uptime": "01:00:00",
	}, fields)
	assert.Equal(t, "/ip/hotspot/user", v.Menu())
}

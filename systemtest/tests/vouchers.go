package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/voucher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVouchers(t *testing.T, env *Env) {
	require.NotZero(t, env.ProfileID, "hotspot profile must be provisioned first")

	rr := env.do(http.MethodPost, env.path("/voucher-batches"), dto.CreateBatchRequest{
		Name:      "lobby",
		Quantity:  3,
		ProfileID: env.ProfileID,
		Policy:    voucher.Policy{Prefix: "LB-", Length: 6},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var batch voucher.BatchResult
	decode(t, rr, &batch)
	require.Len(t, batch.Created, 3)
	assert.Empty(t, batch.Failed)
	for _, v := range batch.Created {
		assert.True(t, v.Synchronized)
		rec, ok := env.Device.Find("/ip/hotspot/user", v.Username)
		require.True(t, ok, v.Username)
		assert.Equal(t, "1-hour", rec["profile"])
	}

	rr = env.do(http.MethodGet, env.path("/voucher-batches/%d/vouchers", batch.Batch.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed dto.ListVouchersResponse
	decode(t, rr, &listed)
	assert.Equal(t, 3, listed.Count)

	first := batch.Created[0]

	t.Run("login activates", func(t *testing.T) {
		rr := env.do(http.MethodPost, env.path("/vouchers/login"), dto.VoucherLoginRequest{Username: first.Username})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var v voucher.Voucher
		decode(t, rr, &v)
		assert.Equal(t, voucher.StatusActive, v.Status)
		require.NotNil(t, v.StartAt)
		require.NotNil(t, v.EndAt)
		assert.Equal(t, time.Hour, v.EndAt.Sub(*v.StartAt))

		rr = env.do(http.MethodPost, env.path("/vouchers/login"), dto.VoucherLoginRequest{Username: first.Username})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("logout records usage", func(t *testing.T) {
		rr := env.do(http.MethodPost, env.path("/vouchers/logout"), dto.VoucherLogoutRequest{
			Username: first.Username,
			BytesIn:  2048,
			BytesOut: 512,
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var report voucher.UsageReport
		decode(t, rr, &report)
		assert.Equal(t, voucher.StatusUsed, report.Voucher.Status)
		assert.Equal(t, int64(2048), report.Voucher.BytesIn)
	})

	t.Run("stats", func(t *testing.T) {
		rr := env.do(http.MethodGet, env.path("/vouchers/stats"), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var stats voucher.Stats
		decode(t, rr, &stats)
		assert.Equal(t, voucher.Stats{Total: 3, Unused: 2, Used: 1}, stats)
	})

	t.Run("delete removes device user", func(t *testing.T) {
		last := batch.Created[2]
		rr := env.do(http.MethodDelete, env.path("/vouchers/%d", last.ID), nil)
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
		_, ok := env.Device.Find("/ip/hotspot/user", last.Username)
		assert.False(t, ok)
	})

	t.Run("cleanup leaves used vouchers", func(t *testing.T) {
		rr := env.do(http.MethodPost, env.path("/vouchers/cleanup"), nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var result voucher.CleanupResult
		decode(t, rr, &result)
		assert.Equal(t, 0, result.Removed)
		_, ok := env.Device.Find("/ip/hotspot/user", first.Username)
		assert.True(t, ok)
	})
}

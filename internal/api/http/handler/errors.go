package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/Butterfly-Student/MikroBill-API/internal/reconcile"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/voucher"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes. Order matters: a
// rollback failure also wraps the device error that caused it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, provisioning.ErrRollback):
		return http.StatusInternalServerError
	case errors.Is(err, devices.ErrDeviceNotFound),
		errors.Is(err, provisioning.ErrNotFound),
		errors.Is(err, voucher.ErrVoucherNotFound),
		errors.Is(err, voucher.ErrBatchNotFound),
		errors.Is(err, voucher.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, devices.ErrDeviceExists),
		errors.Is(err, devices.ErrDeviceInactive),
		errors.Is(err, provisioning.ErrDuplicate),
		errors.Is(err, voucher.ErrVoucherExists),
		errors.Is(err, voucher.ErrSequentialExists),
		errors.Is(err, voucher.ErrCodesExhausted),
		errors.Is(err, voucher.ErrVoucherNotUnused),
		errors.Is(err, voucher.ErrVoucherNotActive),
		errors.Is(err, reconcile.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, provisioning.ErrInvalidPayload),
		errors.Is(err, voucher.ErrInvalidRequest),
		errors.Is(err, voucher.ErrInvalidPolicy),
		errors.Is(err, voucher.ErrInvalidValidity),
		errors.Is(err, routeros.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, routeros.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, routeros.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, routeros.ErrConnection), errors.Is(err, routeros.ErrClosed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, msg string, err error, attrs ...any) {
	status := statusFor(err)
	attrs = append(attrs, "error", err, "status", status)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, attrs...)
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": "internal server error"})
			return
		}
	} else {
		slog.Debug(msg, attrs...)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// pathID reads a positive integer path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/voucher"
	"github.com/gin-gonic/gin"
)

type VoucherHandler struct {
	issuer   VoucherIssuer
	sessions VoucherSessions
}

func NewVoucherHandler(issuer VoucherIssuer, sessions VoucherSessions) *VoucherHandler {
	return &VoucherHandler{
		issuer:   issuer,
		sessions: sessions,
	}
}

// POST /devices/:id/vouchers
func (h *VoucherHandler) Create(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := h.issuer.CreateVoucher(c.Request.Context(), deviceID, voucher.CreateVoucherRequest{
		Code:      req.Code,
		Policy:    req.Policy,
		ProfileID: req.ProfileID,
		Server:    req.Server,
		Comment:   req.Comment,
		Validity:  req.Validity,
	})
	if err != nil {
		respondError(c, "Failed to create voucher", err, "device_id", deviceID)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// CreateBatch answers 201 when every voucher was created and 207 when some
// failed; the body lists both.
// POST /devices/:id/voucher-batches
func (h *VoucherHandler) CreateBatch(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.issuer.CreateBatch(c.Request.Context(), deviceID, voucher.CreateBatchRequest{
		Name:      req.Name,
		Quantity:  req.Quantity,
		Policy:    req.Policy,
		ProfileID: req.ProfileID,
		Server:    req.Server,
		Comment:   req.Comment,
		Validity:  req.Validity,
	})
	if err != nil {
		respondError(c, "Failed to create voucher batch", err, "device_id", deviceID, "name", req.Name)
		return
	}

	slog.Info("Voucher batch issued",
		"device_id", deviceID,
		"batch_id", result.Batch.ID,
		"created", len(result.Created),
		"failed", len(result.Failed))
	status := http.StatusCreated
	if len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

// GET /devices/:id/voucher-batches/:batch_id/vouchers
func (h *VoucherHandler) ListBatch(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	batchID, ok := pathID(c, "batch_id")
	if !ok {
		return
	}
	list, err := h.issuer.ListBatchVouchers(c.Request.Context(), deviceID, batchID)
	if err != nil {
		respondError(c, "Failed to list batch vouchers", err, "device_id", deviceID, "batch_id", batchID)
		return
	}
	c.JSON(http.StatusOK, dto.ListVouchersResponse{Vouchers: list, Count: len(list)})
}

// DELETE /devices/:id/voucher-batches/:batch_id
func (h *VoucherHandler) DeleteBatch(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	batchID, ok := pathID(c, "batch_id")
	if !ok {
		return
	}
	if err := h.issuer.DeleteBatch(c.Request.Context(), deviceID, batchID); err != nil {
		respondError(c, "Failed to delete voucher batch", err, "device_id", deviceID, "batch_id", batchID)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /devices/:id/vouchers/:voucher_id
func (h *VoucherHandler) Delete(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	voucherID, ok := pathID(c, "voucher_id")
	if !ok {
		return
	}
	if err := h.issuer.DeleteVoucher(c.Request.Context(), deviceID, voucherID); err != nil {
		respondError(c, "Failed to delete voucher", err, "device_id", deviceID, "voucher_id", voucherID)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /devices/:id/vouchers/stats
func (h *VoucherHandler) Stats(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	stats, err := h.issuer.Stats(c.Request.Context(), deviceID)
	if err != nil {
		respondError(c, "Failed to read voucher stats", err, "device_id", deviceID)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /devices/:id/vouchers/cleanup
func (h *VoucherHandler) Cleanup(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.issuer.CleanupExpired(c.Request.Context(), deviceID)
	if err != nil {
		respondError(c, "Failed to clean up expired vouchers", err, "device_id", deviceID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /devices/:id/vouchers/login
func (h *VoucherHandler) Login(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.VoucherLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.sessions.Login(c.Request.Context(), deviceID, req.Username)
	if err != nil {
		respondError(c, "Voucher login failed", err, "device_id", deviceID, "username", req.Username)
		return
	}
	c.JSON(http.StatusOK, v)
}

// POST /devices/:id/vouchers/logout
func (h *VoucherHandler) Logout(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.VoucherLogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.sessions.Logout(c.Request.Context(), deviceID, req.Username, voucher.Usage{
		BytesIn:  req.BytesIn,
		BytesOut: req.BytesOut,
		Uptime:   time.Duration(req.UptimeSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, "Voucher logout failed", err, "device_id", deviceID, "username", req.Username)
		return
	}
	c.JSON(http.StatusOK, report)
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/gin-gonic/gin"
)

type DeviceHandler struct {
	devices  DeviceManager
	sync     SyncManager
	sessions SessionEvicter
}

func NewDeviceHandler(deviceManager DeviceManager, syncManager SyncManager, sessions SessionEvicter) *DeviceHandler {
	return &DeviceHandler{
		devices:  deviceManager,
		sync:     syncManager,
		sessions: sessions,
	}
}

// POST /devices
func (h *DeviceHandler) Create(c *gin.Context) {
	var req dto.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.devices.CreateDevice(c.Request.Context(), devices.CreateDeviceRequest{
		Name:     req.Name,
		Address:  req.Address,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, "Failed to create device", err, "name", req.Name)
		return
	}

	slog.Info("Device registered", "device_id", device.ID, "name", device.Name)
	c.JSON(http.StatusCreated, device)
}

// GET /devices
func (h *DeviceHandler) List(c *gin.Context) {
	list, err := h.devices.ListDevices(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list devices", err)
		return
	}
	c.JSON(http.StatusOK, dto.ListDevicesResponse{Devices: list, Count: len(list)})
}

// GET /devices/:id
func (h *DeviceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	device, err := h.devices.GetDevice(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get device", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, device)
}

// UpdateCredentials stores new connection settings, drops the old session
// and resynchronizes the mirror over the new one.
// PUT /devices/:id/credentials
func (h *DeviceHandler) UpdateCredentials(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.devices.UpdateCredentials(ctx, id, devices.UpdateCredentialsRequest{
		Address:  req.Address,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
	}); err != nil {
		respondError(c, "Failed to update device credentials", err, "device_id", id)
		return
	}
	h.sessions.Evict(id)

	device, err := h.devices.GetDevice(ctx, id)
	if err != nil {
		respondError(c, "Failed to get device", err, "device_id", id)
		return
	}
	if device.IsActive {
		if err := h.sync.RefreshDevice(ctx, id); err != nil {
			slog.Warn("Resync after credential change failed", "device_id", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, device)
}

// POST /devices/:id/activate
func (h *DeviceHandler) Activate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.devices.SetActive(ctx, id, true); err != nil {
		respondError(c, "Failed to activate device", err, "device_id", id)
		return
	}
	if err := h.sync.InitializeDevice(ctx, id); err != nil {
		slog.Warn("Device activated but initial sync failed", "device_id", id, "error", err)
	}
	h.respondDevice(c, id)
}

// Deactivate stops synchronization and closes the session. Local rows are
// kept.
// POST /devices/:id/deactivate
func (h *DeviceHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.devices.SetActive(c.Request.Context(), id, false); err != nil {
		respondError(c, "Failed to deactivate device", err, "device_id", id)
		return
	}
	h.sync.Stop(id)
	h.sessions.Evict(id)
	h.respondDevice(c, id)
}

func (h *DeviceHandler) respondDevice(c *gin.Context, id int64) {
	device, err := h.devices.GetDevice(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get device", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, device)
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/gin-gonic/gin"
)

type ProvisioningHandler struct {
	provisioner Provisioner
}

func NewProvisioningHandler(provisioner Provisioner) *ProvisioningHandler {
	return &ProvisioningHandler{provisioner: provisioner}
}

// POST /devices/:id/profiles
func (h *ProvisioningHandler) CreateProfile(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var p provisioning.ProfilePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.provisioner.CreateProfile(c.Request.Context(), deviceID, p)
	if err != nil {
		respondError(c, "Failed to create profile", err, "device_id", deviceID, "name", p.Name)
		return
	}
	slog.Info("Profile provisioned", "device_id", deviceID, "entity_id", e.ID, "kind", e.Payload.Kind())
	c.JSON(http.StatusCreated, dto.NewEntityResponse(e))
}

// POST /devices/:id/users
func (h *ProvisioningHandler) CreateUser(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var p provisioning.UserPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.provisioner.CreateUser(c.Request.Context(), deviceID, p)
	if err != nil {
		respondError(c, "Failed to create user", err, "device_id", deviceID, "name", p.Name)
		return
	}
	slog.Info("User provisioned", "device_id", deviceID, "entity_id", e.ID, "kind", e.Payload.Kind())
	c.JSON(http.StatusCreated, dto.NewEntityResponse(e))
}

// PUT /devices/:id/profiles/:entity_id
func (h *ProvisioningHandler) UpdateProfile(c *gin.Context) {
	deviceID, entityID, ok := h.owned(c)
	if !ok {
		return
	}
	var p provisioning.ProfilePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, result, err := h.provisioner.UpdateProfile(c.Request.Context(), entityID, p)
	if err != nil {
		respondError(c, "Failed to update profile", err, "device_id", deviceID, "entity_id", entityID)
		return
	}
	c.JSON(http.StatusOK, dto.UpdateEntityResponse{Entity: dto.NewEntityResponse(e), Device: result})
}

// PUT /devices/:id/users/:entity_id
func (h *ProvisioningHandler) UpdateUser(c *gin.Context) {
	deviceID, entityID, ok := h.owned(c)
	if !ok {
		return
	}
	var p provisioning.UserPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, result, err := h.provisioner.UpdateUser(c.Request.Context(), entityID, p)
	if err != nil {
		respondError(c, "Failed to update user", err, "device_id", deviceID, "entity_id", entityID)
		return
	}
	c.JSON(http.StatusOK, dto.UpdateEntityResponse{Entity: dto.NewEntityResponse(e), Device: result})
}

// DELETE /devices/:id/entities/:entity_id
func (h *ProvisioningHandler) Delete(c *gin.Context) {
	deviceID, entityID, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.provisioner.DeleteEntity(c.Request.Context(), entityID); err != nil {
		respondError(c, "Failed to delete entity", err, "device_id", deviceID, "entity_id", entityID)
		return
	}
	slog.Info("Entity removed", "device_id", deviceID, "entity_id", entityID)
	c.Status(http.StatusNoContent)
}

// GET /devices/:id/entities?kind=
func (h *ProvisioningHandler) List(c *gin.Context) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	kind := provisioning.Kind(c.Query("kind"))
	switch kind {
	case provisioning.KindPPPProfile, provisioning.KindHotspotProfile,
		provisioning.KindPPPSecret, provisioning.KindHotspotUser:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be one of ppp_profile, hotspot_profile, ppp_secret, hotspot_user"})
		return
	}

	entities, err := h.provisioner.ListEntities(c.Request.Context(), deviceID, kind)
	if err != nil {
		respondError(c, "Failed to list entities", err, "device_id", deviceID, "kind", kind)
		return
	}
	resp := dto.ListEntitiesResponse{Entities: make([]dto.EntityResponse, 0, len(entities))}
	for _, e := range entities {
		resp.Entities = append(resp.Entities, dto.NewEntityResponse(e))
	}
	resp.Count = len(resp.Entities)
	c.JSON(http.StatusOK, resp)
}

// owned resolves both path ids and answers 404 when the entity belongs to
// another device.
func (h *ProvisioningHandler) owned(c *gin.Context) (int64, int64, bool) {
	deviceID, ok := pathID(c, "id")
	if !ok {
		return 0, 0, false
	}
	entityID, ok := pathID(c, "entity_id")
	if !ok {
		return 0, 0, false
	}
	e, err := h.provisioner.GetEntity(c.Request.Context(), entityID)
	if err != nil {
		respondError(c, "Failed to get entity", err, "device_id", deviceID, "entity_id", entityID)
		return 0, 0, false
	}
	if e.DeviceID != deviceID {
		respondError(c, "Entity belongs to another device", provisioning.ErrNotFound, "device_id", deviceID, "entity_id", entityID)
		return 0, 0, false
	}
	return deviceID, entityID, true
}

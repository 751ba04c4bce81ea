package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"github.com/gin-gonic/gin"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

type SyncHandler struct {
	sync SyncManager
}

func NewSyncHandler(syncManager SyncManager) *SyncHandler {
	return &SyncHandler{sync: syncManager}
}

// Initialize starts mirroring one service, or every configured service when
// the query parameter is absent.
// POST /devices/:id/initialize?service=
func (h *SyncHandler) Initialize(c *gin.Context) {
	h.run(c, "initialized", h.sync.Initialize, h.sync.InitializeDevice)
}

// POST /devices/:id/refresh?service=
func (h *SyncHandler) Refresh(c *gin.Context) {
	h.run(c, "refreshed", h.sync.Refresh, h.sync.RefreshDevice)
}

func (h *SyncHandler) run(c *gin.Context, verb string,
	one func(ctx context.Context, id int64, svc routeros.Service) error,
	all func(ctx context.Context, id int64) error,
) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	raw := c.Query("service")
	if raw == "" {
		if err := all(ctx, id); err != nil {
			respondError(c, "Device sync failed", err, "device_id", id)
			return
		}
		c.JSON(http.StatusOK, dto.SyncResponse{DeviceID: id, Message: "all services " + verb})
		return
	}

	svc, err := routeros.ParseService(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := one(ctx, id, svc); err != nil {
		respondError(c, "Device sync failed", err, "device_id", id, "service", svc)
		return
	}
	c.JSON(http.StatusOK, dto.SyncResponse{DeviceID: id, Service: string(svc), Message: string(svc) + " " + verb})
}

// GET /devices/:id/stats?service=
func (h *SyncHandler) Stats(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	svc, ok := serviceQuery(c)
	if !ok {
		return
	}
	stats, err := h.sync.Stats(c.Request.Context(), id, svc)
	if err != nil {
		respondError(c, "Failed to read mirror stats", err, "device_id", id, "service", svc)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /devices/:id/sessions/active?service=&search=&limit=
func (h *SyncHandler) Active(c *gin.Context) {
	h.search(c, h.sync.SearchActive)
}

// GET /devices/:id/sessions/inactive?service=&search=&limit=
func (h *SyncHandler) Inactive(c *gin.Context) {
	h.search(c, h.sync.SearchInactive)
}

func (h *SyncHandler) search(c *gin.Context,
	fn func(ctx context.Context, id int64, svc routeros.Service, term string, limit int) []statestore.UserRecord,
) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	svc, ok := serviceQuery(c)
	if !ok {
		return
	}
	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	users := fn(c.Request.Context(), id, svc, c.Query("search"), limit)
	c.JSON(http.StatusOK, dto.SessionsResponse{DeviceID: id, Service: svc, Users: users, Count: len(users)})
}

func serviceQuery(c *gin.Context) (routeros.Service, bool) {
	svc, err := routeros.ParseService(c.Query("service"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return svc, true
}

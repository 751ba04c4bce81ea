package handler

import (
	"net/http"

	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

type ConnectionHandler struct {
	connections ConnectionLister
}

func NewConnectionHandler(connections ConnectionLister) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

// GET /connections
func (h *ConnectionHandler) List(c *gin.Context) {
	ids := h.connections.ListConnections()
	resp := dto.ConnectionsResponse{Connections: make([]dto.ConnectionInfo, 0, len(ids))}
	for _, id := range ids {
		conn, ok := h.connections.GetConnection(id)
		if !ok {
			continue
		}
		resp.Connections = append(resp.Connections, dto.ConnectionInfo{
			DeviceID:    conn.DeviceID,
			Address:     conn.Address,
			ConnectedAt: conn.ConnectedAt,
			LastUsed:    conn.LastUsed,
			Healthy:     conn.Session != nil && conn.Session.Err() == nil,
		})
	}
	resp.Count = len(resp.Connections)
	c.JSON(http.StatusOK, resp)
}

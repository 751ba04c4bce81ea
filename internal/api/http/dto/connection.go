package dto

import "time"

type ConnectionInfo struct {
	DeviceID    int64     `json:"device_id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
	LastUsed    time.Time `json:"last_used"`
	Healthy     bool      `json:"healthy"`
}

type ConnectionsResponse struct {
	Connections []ConnectionInfo `json:"connections"`
	Count       int              `json:"count"`
}

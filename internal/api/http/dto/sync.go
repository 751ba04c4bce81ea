package dto

import (
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
)

type SessionsResponse struct {
	DeviceID int64                   `json:"device_id"`
	Service  routeros.Service        `json:"service"`
	Users    []statestore.UserRecord `json:"users"`
	Count    int                     `json:"count"`
}

type SyncResponse struct {
	DeviceID int64  `json:"device_id"`
	Service  string `json:"service,omitempty"`
	Message  string `json:"message"`
}

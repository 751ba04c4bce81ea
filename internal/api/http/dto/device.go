package dto

import "github.com/Butterfly-Student/MikroBill-API/internal/devices"

type CreateDeviceRequest struct {
	Name           string `json:"name" binding:"required,max=255"`
	Address        string `json:"address" binding:"required"`
	Port           int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds" binding:"omitempty,min=1,max=300"`
}

type UpdateCredentialsRequest struct {
	Address        string `json:"address" binding:"required"`
	Port           int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds" binding:"omitempty,min=1,max=300"`
}

type ListDevicesResponse struct {
	Devices []devices.Device `json:"devices"`
	Count   int              `json:"count"`
}

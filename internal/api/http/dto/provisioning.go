package dto

import "github.com/Butterfly-Student/MikroBill-API/internal/provisioning"

type EntityResponse struct {
	ID           int64                `json:"id"`
	DeviceID     int64                `json:"device_id"`
	Kind         provisioning.Kind    `json:"kind"`
	Name         string               `json:"name"`
	DeviceRef    string               `json:"device_ref,omitempty"`
	Synchronized bool                 `json:"synchronized"`
	Attributes   provisioning.Payload `json:"attributes"`
}

type UpdateEntityResponse struct {
	Entity EntityResponse            `json:"entity"`
	Device provisioning.DeviceResult `json:"device"`
}

type ListEntitiesResponse struct {
	Entities []EntityResponse `json:"entities"`
	Count    int              `json:"count"`
}

func NewEntityResponse(e *provisioning.Entity) EntityResponse {
	return EntityResponse{
		ID:           e.ID,
		DeviceID:     e.DeviceID,
		Kind:         e.Payload.Kind(),
		Name:         e.Payload.EntityName(),
		DeviceRef:    e.DeviceRef,
		Synchronized: e.Synchronized,
		Attributes:   e.Payload,
	}
}

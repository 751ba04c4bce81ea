package reconcile

import (
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
)

// JobUserEvent asks a worker to reconcile one user of one device. An event
// without a username re-derives only the active list.
const JobUserEvent = "user-event"

type UserEvent struct {
	DeviceID int64            `json:"device_id"`
	Service  routeros.Service `json:"service"`
	Username string           `json:"username"`
	// Name is the account name as the device reported it.
	Name string    `json:"name,omitempty"`
	At   time.Time `json:"at"`
}

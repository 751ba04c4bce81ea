package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
)

var (
	ErrRollback  = errors.New("compensating rollback failed")
	ErrDuplicate = errors.New("entity already exists on this device")
	ErrNotFound  = errors.New("entity not found")
)

// Sessions hands out device sessions. connection.Registry implements it.
type Sessions interface {
	Acquire(ctx context.Context, deviceID int64) (routeros.Session, error)
	Reconnect(ctx context.Context, deviceID int64) (routeros.Session, error)
}

// DriftRecorder notes that the device copy of an entity may differ from the
// local one until the next full sync.
type DriftRecorder interface {
	RecordDrift(ctx context.Context, deviceID int64, service routeros.Service, subject, reason string) error
}

// Rows persists entities of one kind locally.
type Rows interface {
	Insert(ctx context.Context, e *Entity) error
	Attach(ctx context.Context, e *Entity, ref string) error
	Update(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, e *Entity) error
}

type Entity struct {
	ID           int64
	DeviceID     int64
	Payload      Payload
	DeviceRef    string
	Synchronized bool
}

// DeviceResult is the outcome of a best-effort device write.
type DeviceResult struct {
	Attempted bool   `json:"attempted"`
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
}

// Coordinator writes the local database first and the device second,
// compensating locally when the device refuses.
type Coordinator struct {
	sessions Sessions
	drift    DriftRecorder
}

func NewCoordinator(sessions Sessions, drift DriftRecorder) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		drift:    drift,
	}
}

// Create inserts the local row, adds the entity on the device and marks the
// row synchronized. If the device step fails the row is deleted again.
func (c *Coordinator) Create(ctx context.Context, rows Rows, e *Entity) error {
	fields, err := e.Payload.Fields()
	if err != nil {
		return err
	}

	kind, name := e.Payload.Kind(), e.Payload.EntityName()
	e.DeviceRef = ""
	e.Synchronized = false

	if err := rows.Insert(ctx, e); err != nil {
		return fmt.Errorf("failed to insert %s %q: %w", kind, name, err)
	}

	ref, err := c.add(ctx, e, fields)
	if err != nil {
		return c.rollback(ctx, rows, e, err)
	}

	if err := rows.Attach(ctx, e, ref); err != nil {
		// The device now holds an item the database cannot point at.
		if _, rmErr := c.invoke(ctx, e.DeviceID, e.Payload.Menu()+"/remove", routeros.Attr(".id", ref)); rmErr != nil {
			slog.Error("Failed to remove device item after attach failure",
				"device_id", e.DeviceID, "kind", kind, "name", name, "device_ref", ref, "error", rmErr)
		}
		return c.rollback(ctx, rows, e, fmt.Errorf("failed to attach device id: %w", err))
	}

	e.DeviceRef = ref
	e.Synchronized = true
	slog.Info("Entity provisioned",
		"device_id", e.DeviceID,
		"kind", kind,
		"name", name,
		"device_ref", ref)
	return nil
}

func (c *Coordinator) add(ctx context.Context, e *Entity, fields map[string]string) (string, error) {
	menu := e.Payload.Menu()
	reply, err := c.invoke(ctx, e.DeviceID, menu+"/add", routeros.Attrs(fields)...)
	if err != nil {
		return "", err
	}
	if reply.Ret != "" {
		return reply.Ret, nil
	}

	lookup, err := c.invoke(ctx, e.DeviceID, menu+"/print", routeros.Where("name", e.Payload.EntityName()))
	if err != nil {
		return "", err
	}
	if len(lookup.Records) == 0 || lookup.Records[0].ID() == "" {
		return "", fmt.Errorf("%w: device did not report an id for %q", routeros.ErrRejected, e.Payload.EntityName())
	}
	return lookup.Records[0].ID(), nil
}

func (c *Coordinator) rollback(ctx context.Context, rows Rows, e *Entity, cause error) error {
	kind, name := e.Payload.Kind(), e.Payload.EntityName()
	if err := rows.Delete(context.WithoutCancel(ctx), e); err != nil {
		slog.Error("Compensating rollback failed, local row left unsynchronized",
			"device_id", e.DeviceID,
			"kind", kind,
			"name", name,
			"error", err)
		return errors.Join(
			fmt.Errorf("create %s %q on device %d: %w", kind, name, e.DeviceID, cause),
			fmt.Errorf("%w: %v", ErrRollback, err),
		)
	}

	slog.Warn("Device create failed, local row rolled back",
		"device_id", e.DeviceID,
		"kind", kind,
		"name", name,
		"error", cause)
	return fmt.Errorf("create %s %q on device %d: %w", kind, name, e.DeviceID, cause)
}

// Update pushes the change to the device when the entity is synchronized and
// then updates the local row regardless of the device outcome.
func (c *Coordinator) Update(ctx context.Context, rows Rows, e *Entity) (DeviceResult, error) {
	fields, err := e.Payload.Fields()
	if err != nil {
		return DeviceResult{}, err
	}

	var result DeviceResult
	if e.Synchronized {
		result.Attempted = true
		args := append([]string{routeros.Attr(".id", e.DeviceRef)}, routeros.Attrs(fields)...)
		if _, err := c.invoke(ctx, e.DeviceID, e.Payload.Menu()+"/set", args...); err != nil {
			result.Reason = err.Error()
			slog.Warn("Device update failed, updating local record only",
				"device_id", e.DeviceID,
				"kind", e.Payload.Kind(),
				"name", e.Payload.EntityName(),
				"error", err)
			c.recordDrift(ctx, e, err)
		} else {
			result.Applied = true
		}
	}

	if err := rows.Update(ctx, e); err != nil {
		return result, fmt.Errorf("failed to update %s %q: %w", e.Payload.Kind(), e.Payload.EntityName(), err)
	}
	return result, nil
}

func (c *Coordinator) recordDrift(ctx context.Context, e *Entity, cause error) {
	if c.drift == nil {
		return
	}
	subject := fmt.Sprintf("%s:%s", e.Payload.Kind(), e.Payload.EntityName())
	service := routeros.ServiceOf(e.Payload.Menu())
	if err := c.drift.RecordDrift(context.WithoutCancel(ctx), e.DeviceID, service, subject, cause.Error()); err != nil {
		slog.Warn("Failed to record drift", "device_id", e.DeviceID, "subject", subject, "error", err)
	}
}

// Delete removes the entity from the device, treating an already missing item
// as removed, and then deletes the local row.
func (c *Coordinator) Delete(ctx context.Context, rows Rows, e *Entity) error {
	if e.Synchronized {
		_, err := c.invoke(ctx, e.DeviceID, e.Payload.Menu()+"/remove", routeros.Attr(".id", e.DeviceRef))
		switch {
		case err == nil:
		case errors.Is(err, routeros.ErrNotFound):
			slog.Info("Entity already absent on device",
				"device_id", e.DeviceID,
				"kind", e.Payload.Kind(),
				"name", e.Payload.EntityName())
		default:
			return fmt.Errorf("remove %s %q from device %d: %w", e.Payload.Kind(), e.Payload.EntityName(), e.DeviceID, err)
		}
	}

	if err := rows.Delete(ctx, e); err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", e.Payload.Kind(), e.Payload.EntityName(), err)
	}
	slog.Info("Entity deleted",
		"device_id", e.DeviceID,
		"kind", e.Payload.Kind(),
		"name", e.Payload.EntityName())
	return nil
}

// invoke runs a command, retrying once on a fresh connection when the failure
// is a transport fault.
func (c *Coordinator) invoke(ctx context.Context, deviceID int64, command string, args ...string) (*routeros.Reply, error) {
	session, err := c.sessions.Acquire(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	reply, err := session.Invoke(ctx, command, args...)
	if err == nil || !routeros.IsRetryable(err) {
		return reply, err
	}

	slog.Warn("Device call failed, retrying on a new connection",
		"device_id", deviceID,
		"command", command,
		"error", err)

	session, rerr := c.sessions.Reconnect(ctx, deviceID)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return session.Invoke(ctx, command, args...)
}

package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/jackc/pgx/v5"
)

const statusActive = "active"

// EntityQueries is the subset of store.Queries backing profiles and users.
type EntityQueries interface {
	InsertEntity(ctx context.Context, arg store.InsertEntityParams) (store.ManagedEntity, error)
	AttachEntityRef(ctx context.Context, id int64, ref string) error
	UpdateEntity(ctx context.Context, arg store.UpdateEntityParams) (store.ManagedEntity, error)
	DeleteEntity(ctx context.Context, id int64) error
	GetEntity(ctx context.Context, id int64) (store.ManagedEntity, error)
	ListEntities(ctx context.Context, deviceID int64, kind string) ([]store.ManagedEntity, error)
}

// Service provisions PPP and hotspot profiles and accounts.
type Service struct {
	coordinator *Coordinator
	queries     EntityQueries
	rows        *entityRows
}

func NewService(coordinator *Coordinator, queries EntityQueries) *Service {
	return &Service{
		coordinator: coordinator,
		queries:     queries,
		rows:        &entityRows{queries: queries},
	}
}

func (s *Service) CreateProfile(ctx context.Context, deviceID int64, p ProfilePayload) (*Entity, error) {
	return s.create(ctx, deviceID, p)
}

func (s *Service) CreateUser(ctx context.Context, deviceID int64, p UserPayload) (*Entity, error) {
	return s.create(ctx, deviceID, p)
}

func (s *Service) create(ctx context.Context, deviceID int64, p Payload) (*Entity, error) {
	e := &Entity{DeviceID: deviceID, Payload: p}
	if err := s.coordinator.Create(ctx, s.rows, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, p ProfilePayload) (*Entity, DeviceResult, error) {
	return s.update(ctx, id, p)
}

func (s *Service) UpdateUser(ctx context.Context, id int64, p UserPayload) (*Entity, DeviceResult, error) {
	return s.update(ctx, id, p)
}

func (s *Service) update(ctx context.Context, id int64, p Payload) (*Entity, DeviceResult, error) {
	e, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, DeviceResult{}, err
	}
	if e.Payload.Kind() != p.Kind() {
		return nil, DeviceResult{}, fmt.Errorf("%w: entity %d is a %s, not a %s", ErrInvalidPayload, id, e.Payload.Kind(), p.Kind())
	}

	e.Payload = p
	result, err := s.coordinator.Update(ctx, s.rows, e)
	if err != nil {
		return nil, result, err
	}
	return e, result, nil
}

func (s *Service) DeleteEntity(ctx context.Context, id int64) error {
	e, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	return s.coordinator.Delete(ctx, s.rows, e)
}

func (s *Service) GetEntity(ctx context.Context, id int64) (*Entity, error) {
	row, err := s.queries.GetEntity(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entityFromRow(row)
}

func (s *Service) ListEntities(ctx context.Context, deviceID int64, kind Kind) ([]*Entity, error) {
	rows, err := s.queries.ListEntities(ctx, deviceID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	result := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := entityFromRow(row)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func entityFromRow(row store.ManagedEntity) (*Entity, error) {
	var payload Payload
	switch Kind(row.Kind) {
	case KindPPPProfile, KindHotspotProfile:
		var p ProfilePayload
		if err := json.Unmarshal(row.Attributes, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s %d: %w", row.Kind, row.ID, err)
		}
		payload = p
	case KindPPPSecret, KindHotspotUser:
		var p UserPayload
		if err := json.Unmarshal(row.Attributes, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s %d: %w", row.Kind, row.ID, err)
		}
		payload = p
	default:
		return nil, fmt.Errorf("unknown entity kind %q", row.Kind)
	}

	return &Entity{
		ID:           row.ID,
		DeviceID:     row.DeviceID,
		Payload:      payload,
		DeviceRef:    row.DeviceRef.String,
		Synchronized: row.Synchronized,
	}, nil
}

type entityRows struct {
	queries EntityQueries
}

func (r *entityRows) Insert(ctx context.Context, e *Entity) error {
	attrs, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	row, err := r.queries.InsertEntity(ctx, store.InsertEntityParams{
		DeviceID:   e.DeviceID,
		Kind:       string(e.Payload.Kind()),
		Name:       e.Payload.EntityName(),
		Attributes: attrs,
		Status:     statusActive,
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return ErrDuplicate
		}
		return err
	}
	e.ID = row.ID
	return nil
}

func (r *entityRows) Attach(ctx context.Context, e *Entity, ref string) error {
	return r.queries.AttachEntityRef(ctx, e.ID, ref)
}

func (r *entityRows) Update(ctx context.Context, e *Entity) error {
	attrs, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = r.queries.UpdateEntity(ctx, store.UpdateEntityParams{
		ID:         e.ID,
		Name:       e.Payload.EntityName(),
		Attributes: attrs,
		Status:     statusActive,
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		return ErrDuplicate
	}
	return err
}

func (r *entityRows) Delete(ctx context.Context, e *Entity) error {
	return r.queries.DeleteEntity(ctx, e.ID)
}

package voucher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/events"
	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrVoucherNotFound  = errors.New("voucher not found")
	ErrBatchNotFound    = errors.New("voucher batch not found")
	ErrVoucherExists    = errors.New("voucher code already exists on this device")
	ErrProfileNotFound  = errors.New("hotspot profile not found")
	ErrInvalidRequest   = errors.New("invalid voucher request")
	ErrCodesExhausted   = errors.New("no unused voucher code found")
	ErrSequentialExists = errors.New("sequential voucher code already exists")
)

const (
	batchAttempts  = 10
	singleAttempts = 100
	MaxBatchSize   = 1000
)

// Queries is the subset of store.Queries used by vouchers.
type Queries interface {
	InsertVoucher(ctx context.Context, arg store.InsertVoucherParams) (store.Voucher, error)
	AttachVoucherRef(ctx context.Context, id int64, ref string) error
	UpdateVoucher(ctx context.Context, arg store.UpdateVoucherParams) error
	DeleteVoucher(ctx context.Context, id int64) error
	GetVoucher(ctx context.Context, id int64) (store.Voucher, error)
	GetVoucherByUsername(ctx context.Context, deviceID int64, username string) (store.Voucher, error)
	VoucherExists(ctx context.Context, deviceID int64, username string) (bool, error)
	ActivateVoucher(ctx context.Context, id int64, startAt, endAt time.Time) (store.Voucher, error)
	ExpireVoucher(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkVoucherUsed(ctx context.Context, arg store.MarkVoucherUsedParams) (store.Voucher, error)
	TouchVoucherChecks(ctx context.Context, ids []int64, at time.Time) error
	VoucherStatuses(ctx context.Context, ids []int64) ([]store.VoucherStatusRow, error)
	ListActiveVouchers(ctx context.Context) ([]store.Voucher, error)
	ListBatchVouchers(ctx context.Context, batchID int64) ([]store.Voucher, error)
	ListVouchersByStatus(ctx context.Context, deviceID int64, status string) ([]store.Voucher, error)
	CountVouchersByStatus(ctx context.Context, deviceID int64) ([]store.VoucherStatusCount, error)

	InsertBatch(ctx context.Context, arg store.InsertBatchParams) (store.VoucherBatch, error)
	SetBatchTotal(ctx context.Context, id int64, total int32) (store.VoucherBatch, error)
	GetBatch(ctx context.Context, id int64) (store.VoucherBatch, error)
	DeleteBatch(ctx context.Context, id int64) error

	GetEntity(ctx context.Context, id int64) (store.ManagedEntity, error)
}

// DeviceChecker reports whether a device exists and is enabled.
type DeviceChecker interface {
	IsActive(ctx context.Context, id int64) (bool, error)
}

type CreateVoucherRequest struct {
	// Code is used verbatim when set; otherwise one is generated from Policy.
	Code      string `json:"code,omitempty"`
	Policy    Policy `json:"policy"`
	ProfileID int64  `json:"profile_id,omitempty"`
	Server    string `json:"server,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Validity  string `json:"validity,omitempty"`
}

type CreateBatchRequest struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Policy    Policy `json:"policy"`
	ProfileID int64  `json:"profile_id,omitempty"`
	Server    string `json:"server,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Validity  string `json:"validity,omitempty"`
}

type BatchFailure struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type BatchResult struct {
	Batch   *Batch         `json:"batch"`
	Created []*Voucher     `json:"created"`
	Failed  []BatchFailure `json:"failed"`
}

type CleanupResult struct {
	Removed int            `json:"removed"`
	Failed  []BatchFailure `json:"failed"`
}

// Service issues hotspot vouchers, alone or in batches, through the
// provisioning coordinator.
type Service struct {
	coordinator *provisioning.Coordinator
	queries     Queries
	devices     DeviceChecker
	publisher   events.Publisher
	now         func() time.Time
}

func NewService(coordinator *provisioning.Coordinator, queries Queries, deviceChecker DeviceChecker, publisher events.Publisher) *Service {
	return &Service{
		coordinator: coordinator,
		queries:     queries,
		devices:     deviceChecker,
		publisher:   publisher,
		now:         time.Now,
	}
}

type profileRef struct {
	id   pgtype.Int8
	name string
}

// item carries what every voucher of one request shares.
type item struct {
	batchID  pgtype.Int8
	profile  profileRef
	server   string
	comment  string
	validity string
}

func (s *Service) CreateVoucher(ctx context.Context, deviceID int64, req CreateVoucherRequest) (*Voucher, error) {
	policy := req.Policy.withDefaults()
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if req.Code == "" && policy.Mode == ModeSequential {
		return nil, fmt.Errorf("%w: sequential generation applies to batches only", ErrInvalidRequest)
	}
	if err := validateValidity(req.Validity); err != nil {
		return nil, err
	}
	if err := s.checkDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	profile, err := s.resolveProfile(ctx, deviceID, req.ProfileID)
	if err != nil {
		return nil, err
	}

	code := req.Code
	if code != "" {
		exists, err := s.queries.VoucherExists(ctx, deviceID, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check voucher code: %w", err)
		}
		if exists {
			return nil, ErrVoucherExists
		}
	} else {
		code, err = s.nextCode(ctx, deviceID, policy, 0, singleAttempts, nil)
		if err != nil {
			return nil, err
		}
	}

	password, err := GeneratePassword(policy, code)
	if err != nil {
		return nil, err
	}

	v, err := s.provision(ctx, deviceID, code, password, item{
		profile:  profile,
		server:   req.Server,
		comment:  req.Comment,
		validity: req.Validity,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Voucher created", "device_id", deviceID, "username", v.Username)
	return v, nil
}

// CreateBatch issues req.Quantity vouchers under one batch. Items the device
// refuses are reported in Failed and the loop moves on; a fatal error stops
// it, and removes the batch when nothing was created.
func (s *Service) CreateBatch(ctx context.Context, deviceID int64, req CreateBatchRequest) (*BatchResult, error) {
	if req.Quantity < 1 || req.Quantity > MaxBatchSize {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidRequest, MaxBatchSize)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: batch name is required", ErrInvalidRequest)
	}
	policy := req.Policy.withDefaults()
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if err := validateValidity(req.Validity); err != nil {
		return nil, err
	}
	if err := s.checkDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	profile, err := s.resolveProfile(ctx, deviceID, req.ProfileID)
	if err != nil {
		return nil, err
	}

	comment := req.Comment
	if comment == "" {
		comment = fmt.Sprintf("Batch: %s - %s", req.Name, s.now().UTC().Format(time.RFC3339))
	}

	batch, err := s.queries.InsertBatch(ctx, store.InsertBatchParams{
		DeviceID:       deviceID,
		ProfileID:      profile.id,
		Name:           req.Name,
		Charset:        policy.Charset,
		Length:         int32(policy.Length),
		Prefix:         policy.Prefix,
		Suffix:         policy.Suffix,
		GenerationMode: string(policy.Mode),
		PasswordMode:   string(policy.PasswordMode),
		Requested:      int32(req.Quantity),
		Comment:        comment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create voucher batch: %w", err)
	}

	shared := item{
		batchID:  pgtype.Int8{Int64: batch.ID, Valid: true},
		profile:  profile,
		server:   req.Server,
		comment:  comment,
		validity: req.Validity,
	}

	result := &BatchResult{Created: []*Voucher{}, Failed: []BatchFailure{}}
	taken := make(map[string]struct{}, req.Quantity)
	var fatal error
	for i := 0; i < req.Quantity && fatal == nil; i++ {
		if err := ctx.Err(); err != nil {
			fatal = err
			result.Failed = append(result.Failed, notAttempted(i, req.Quantity, err)...)
			break
		}

		code, err := s.nextCode(ctx, deviceID, policy, i+1, batchAttempts, taken)
		switch {
		case errors.Is(err, ErrSequentialExists):
			result.Failed = append(result.Failed, BatchFailure{Code: code, Error: err.Error()})
			continue
		case errors.Is(err, ErrCodesExhausted):
			result.Failed = append(result.Failed, BatchFailure{Code: fmt.Sprintf("attempt-%d", i+1), Error: err.Error()})
			continue
		case err != nil:
			fatal = err
			result.Failed = append(result.Failed, notAttempted(i, req.Quantity, err)...)
			continue
		}
		taken[code] = struct{}{}

		password, err := GeneratePassword(policy, code)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Code: fmt.Sprintf("voucher-%d", i+1), Error: err.Error()})
			continue
		}

		v, err := s.provision(ctx, deviceID, code, password, shared)
		if err != nil {
			if itemFailure(err) {
				result.Failed = append(result.Failed, BatchFailure{Code: code, Error: err.Error()})
				continue
			}
			fatal = err
			result.Failed = append(result.Failed, notAttempted(i, req.Quantity, err)...)
			continue
		}
		result.Created = append(result.Created, v)
	}

	cleanup := context.WithoutCancel(ctx)
	if fatal != nil && len(result.Created) == 0 {
		if err := s.queries.DeleteBatch(cleanup, batch.ID); err != nil {
			slog.Error("Failed to remove empty voucher batch", "batch_id", batch.ID, "error", err)
		}
		slog.Error("Voucher batch aborted", "device_id", deviceID, "batch", req.Name, "error", fatal)
		return nil, fmt.Errorf("voucher batch %q aborted: %w", req.Name, fatal)
	}

	batch, err = s.queries.SetBatchTotal(cleanup, batch.ID, int32(len(result.Created)))
	if err != nil {
		return nil, fmt.Errorf("failed to update voucher batch total: %w", err)
	}
	result.Batch = batchFromRow(batch)

	if fatal != nil {
		slog.Warn("Voucher batch stopped early",
			"device_id", deviceID,
			"batch_id", batch.ID,
			"created", len(result.Created),
			"error", fatal)
	}
	slog.Info("Voucher batch created",
		"device_id", deviceID,
		"batch_id", batch.ID,
		"requested", req.Quantity,
		"created", len(result.Created),
		"failed", len(result.Failed))

	events.Emit(cleanup, s.publisher, events.Event{
		Type:     events.VoucherBatchCreated,
		DeviceID: deviceID,
		Subject:  req.Name,
		Payload: map[string]interface{}{
			"batch_id": batch.ID,
			"created":  len(result.Created),
			"failed":   len(result.Failed),
		},
		At: s.now(),
	})
	return result, nil
}

func notAttempted(from, quantity int, cause error) []BatchFailure {
	out := make([]BatchFailure, 0, quantity-from)
	for j := from; j < quantity; j++ {
		out = append(out, BatchFailure{
			Code:  fmt.Sprintf("voucher-%d", j+1),
			Error: fmt.Sprintf("not created: %v", cause),
		})
	}
	return out
}

// itemFailure reports whether err concerns only the voucher being created.
func itemFailure(err error) bool {
	if errors.Is(err, provisioning.ErrRollback) {
		return false
	}
	return errors.Is(err, routeros.ErrRejected) ||
		errors.Is(err, ErrVoucherExists) ||
		errors.Is(err, provisioning.ErrInvalidPayload)
}

// nextCode draws codes until one is unused on the device and not already
// taken in this batch. Sequential codes get a single attempt.
func (s *Service) nextCode(ctx context.Context, deviceID int64, p Policy, seq, attempts int, taken map[string]struct{}) (string, error) {
	if p.Mode == ModeSequential {
		code, err := GenerateCode(p, seq)
		if err != nil {
			return "", err
		}
		exists, err := s.queries.VoucherExists(ctx, deviceID, code)
		if err != nil {
			return "", fmt.Errorf("failed to check voucher code: %w", err)
		}
		if _, dup := taken[code]; dup || exists {
			return code, ErrSequentialExists
		}
		return code, nil
	}

	for a := 0; a < attempts; a++ {
		code, err := GenerateCode(p, seq)
		if err != nil {
			return "", err
		}
		if _, dup := taken[code]; dup {
			continue
		}
		exists, err := s.queries.VoucherExists(ctx, deviceID, code)
		if err != nil {
			return "", fmt.Errorf("failed to check voucher code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodesExhausted, attempts)
}

func (s *Service) provision(ctx context.Context, deviceID int64, code, password string, it item) (*Voucher, error) {
	rows := &voucherRows{queries: s.queries, item: it}
	e := &provisioning.Entity{
		DeviceID: deviceID,
		Payload: provisioning.VoucherPayload{
			Name:     code,
			Password: password,
			Profile:  it.profile.name,
			Server:   it.server,
			Comment:  it.comment,
		},
	}
	if err := s.coordinator.Create(ctx, rows, e); err != nil {
		return nil, err
	}

	row := rows.inserted
	row.DeviceRef = pgtype.Text{String: e.DeviceRef, Valid: true}
	row.Synchronized = e.Synchronized
	return voucherFromRow(row), nil
}

func (s *Service) GetVoucher(ctx context.Context, deviceID, id int64) (*Voucher, error) {
	row, err := s.getRow(ctx, deviceID, id)
	if err != nil {
		return nil, err
	}
	return voucherFromRow(row), nil
}

func (s *Service) getRow(ctx context.Context, deviceID, id int64) (store.Voucher, error) {
	row, err := s.queries.GetVoucher(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Voucher{}, ErrVoucherNotFound
		}
		return store.Voucher{}, fmt.Errorf("failed to get voucher: %w", err)
	}
	if row.DeviceID != deviceID {
		return store.Voucher{}, ErrVoucherNotFound
	}
	return row, nil
}

// DeleteVoucher removes the voucher from the device first, then locally.
func (s *Service) DeleteVoucher(ctx context.Context, deviceID, id int64) error {
	row, err := s.getRow(ctx, deviceID, id)
	if err != nil {
		return err
	}
	return s.coordinator.Delete(ctx, &voucherRows{queries: s.queries}, entityFromRow(row))
}

// DeleteBatch deletes every voucher of the batch and then the batch itself.
// The batch row stays when any voucher could not be removed.
func (s *Service) DeleteBatch(ctx context.Context, deviceID, batchID int64) error {
	batch, err := s.queries.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBatchNotFound
		}
		return fmt.Errorf("failed to get voucher batch: %w", err)
	}
	if batch.DeviceID != deviceID {
		return ErrBatchNotFound
	}

	list, err := s.queries.ListBatchVouchers(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list batch vouchers: %w", err)
	}

	rows := &voucherRows{queries: s.queries}
	var errs []error
	for _, row := range list {
		if err := s.coordinator.Delete(ctx, rows, entityFromRow(row)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := s.queries.DeleteBatch(ctx, batchID); err != nil {
		return fmt.Errorf("failed to delete voucher batch: %w", err)
	}
	slog.Info("Voucher batch deleted", "device_id", deviceID, "batch_id", batchID, "vouchers", len(list))
	return nil
}

// CleanupExpired removes expired vouchers from the device and the database.
func (s *Service) CleanupExpired(ctx context.Context, deviceID int64) (*CleanupResult, error) {
	list, err := s.queries.ListVouchersByStatus(ctx, deviceID, string(StatusExpired))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired vouchers: %w", err)
	}

	result := &CleanupResult{Failed: []BatchFailure{}}
	rows := &voucherRows{queries: s.queries}
	for _, row := range list {
		if err := s.coordinator.Delete(ctx, rows, entityFromRow(row)); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Code: row.Username, Error: err.Error()})
			continue
		}
		result.Removed++
	}
	slog.Info("Expired vouchers cleaned up", "device_id", deviceID, "removed", result.Removed, "failed", len(result.Failed))
	return result, nil
}

func (s *Service) Stats(ctx context.Context, deviceID int64) (*Stats, error) {
	counts, err := s.queries.CountVouchersByStatus(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count vouchers: %w", err)
	}
	st := &Stats{}
	for _, c := range counts {
		st.Total += c.Count
		switch Status(c.Status) {
		case StatusUnused:
			st.Unused = c.Count
		case StatusActive:
			st.Active = c.Count
		case StatusUsed:
			st.Used = c.Count
		case StatusExpired:
			st.Expired = c.Count
		}
	}
	return st, nil
}

func (s *Service) ListBatchVouchers(ctx context.Context, deviceID, batchID int64) ([]*Voucher, error) {
	batch, err := s.queries.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get voucher batch: %w", err)
	}
	if batch.DeviceID != deviceID {
		return nil, ErrBatchNotFound
	}

	list, err := s.queries.ListBatchVouchers(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch vouchers: %w", err)
	}
	out := make([]*Voucher, 0, len(list))
	for _, row := range list {
		out = append(out, voucherFromRow(row))
	}
	return out, nil
}

func (s *Service) checkDevice(ctx context.Context, deviceID int64) error {
	active, err := s.devices.IsActive(ctx, deviceID)
	if err != nil {
		return err
	}
	if !active {
		return devices.ErrDeviceInactive
	}
	return nil
}

func (s *Service) resolveProfile(ctx context.Context, deviceID, profileID int64) (profileRef, error) {
	if profileID == 0 {
		return profileRef{}, nil
	}
	p, err := loadProfile(ctx, s.queries, profileID)
	if err != nil {
		return profileRef{}, err
	}
	if p.deviceID != deviceID {
		return profileRef{}, ErrProfileNotFound
	}
	return profileRef{id: pgtype.Int8{Int64: profileID, Valid: true}, name: p.payload.Name}, nil
}

type hotspotProfile struct {
	deviceID int64
	payload  provisioning.ProfilePayload
}

func loadProfile(ctx context.Context, queries Queries, id int64) (hotspotProfile, error) {
	row, err := queries.GetEntity(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hotspotProfile{}, ErrProfileNotFound
		}
		return hotspotProfile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if provisioning.Kind(row.Kind) != provisioning.KindHotspotProfile {
		return hotspotProfile{}, ErrProfileNotFound
	}
	var p provisioning.ProfilePayload
	if err := json.Unmarshal(row.Attributes, &p); err != nil {
		return hotspotProfile{}, fmt.Errorf("failed to decode profile %d: %w", id, err)
	}
	return hotspotProfile{deviceID: row.DeviceID, payload: p}, nil
}

func validateValidity(v string) error {
	if v == "" {
		return nil
	}
	if _, err := ParseValidity(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func entityFromRow(row store.Voucher) *provisioning.Entity {
	return &provisioning.Entity{
		ID:       row.ID,
		DeviceID: row.DeviceID,
		Payload: provisioning.VoucherPayload{
			Name:     row.Username,
			Password: row.Password,
			Profile:  row.ProfileName,
			Server:   row.Server,
			Comment:  row.Comment,
		},
		DeviceRef:    row.DeviceRef.String,
		Synchronized: row.Synchronized,
	}
}

// voucherRows persists vouchers for the provisioning coordinator.
type voucherRows struct {
	queries  Queries
	item     item
	inserted store.Voucher
}

func (r *voucherRows) Insert(ctx context.Context, e *provisioning.Entity) error {
	p, ok := e.Payload.(provisioning.VoucherPayload)
	if !ok {
		return fmt.Errorf("%w: expected a voucher, got %s", provisioning.ErrInvalidPayload, e.Payload.Kind())
	}
	row, err := r.queries.InsertVoucher(ctx, store.InsertVoucherParams{
		DeviceID:    e.DeviceID,
		BatchID:     r.item.batchID,
		ProfileID:   r.item.profile.id,
		Username:    p.Name,
		Password:    p.Password,
		ProfileName: p.Profile,
		Server:      p.Server,
		Comment:     p.Comment,
		Validity:    r.item.validity,
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return ErrVoucherExists
		}
		return err
	}
	r.inserted = row
	e.ID = row.ID
	return nil
}

func (r *voucherRows) Attach(ctx context.Context, e *provisioning.Entity, ref string) error {
	return r.queries.AttachVoucherRef(ctx, e.ID, ref)
}

func (r *voucherRows) Update(ctx context.Context, e *provisioning.Entity) error {
	p, ok := e.Payload.(provisioning.VoucherPayload)
	if !ok {
		return fmt.Errorf("%w: expected a voucher, got %s", provisioning.ErrInvalidPayload, e.Payload.Kind())
	}
	return r.queries.UpdateVoucher(ctx, store.UpdateVoucherParams{
		ID:          e.ID,
		Password:    p.Password,
		ProfileName: p.Profile,
		Server:      p.Server,
		Comment:     p.Comment,
		Validity:    r.item.validity,
	})
}

func (r *voucherRows) Delete(ctx context.Context, e *provisioning.Entity) error {
	return r.queries.DeleteVoucher(ctx, e.ID)
}

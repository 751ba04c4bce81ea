package voucher

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// memQueries is an in-memory stand-in for store.Queries with the same
// status guards and unique index.
type memQueries struct {
	mu       sync.Mutex
	nextID   int64
	vouchers map[int64]store.Voucher
	batches  map[int64]store.VoucherBatch
	entities map[int64]store.ManagedEntity

	insertErr error
	expireErr error
}

func newMemQueries() *memQueries {
	return &memQueries{
		vouchers: make(map[int64]store.Voucher),
		batches:  make(map[int64]store.VoucherBatch),
		entities: make(map[int64]store.ManagedEntity),
	}
}

func ts(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func (m *memQueries) addProfile(deviceID int64, p provisioning.ProfilePayload) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, _ := json.Marshal(p)
	m.nextID++
	m.entities[m.nextID] = store.ManagedEntity{
		ID:         m.nextID,
		DeviceID:   deviceID,
		Kind:       string(p.Kind()),
		Name:       p.Name,
		Attributes: attrs,
	}
	return m.nextID
}

func (m *memQueries) seed(v store.Voucher) store.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	v.ID = m.nextID
	if v.Status == "" {
		v.Status = string(StatusUnused)
	}
	m.vouchers[v.ID] = v
	return v
}

func (m *memQueries) voucher(id int64) (store.Voucher, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	return v, ok
}

func (m *memQueries) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vouchers)
}

func (m *memQueries) InsertVoucher(ctx context.Context, arg store.InsertVoucherParams) (store.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return store.Voucher{}, m.insertErr
	}
	for _, v := range m.vouchers {
		if v.DeviceID == arg.DeviceID && v.Username == arg.Username {
			return store.Voucher{}, errors.Join(store.ErrUniqueViolation, errors.New("duplicate key"))
		}
	}
	m.nextID++
	v := store.Voucher{
		ID:          m.nextID,
		DeviceID:    arg.DeviceID,
		BatchID:     arg.BatchID,
		ProfileID:   arg.ProfileID,
		Username:    arg.Username,
		Password:    arg.Password,
		ProfileName: arg.ProfileName,
		Server:      arg.Server,
		Comment:     arg.Comment,
		Validity:    arg.Validity,
		Status:      string(StatusUnused),
		CreatedAt:   ts(time.Now()),
	}
	m.vouchers[v.ID] = v
	return v, nil
}

func (m *memQueries) AttachVoucherRef(ctx context.Context, id int64, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vouchers[id]
	v.DeviceRef = pgtype.Text{String: ref, Valid: true}
	v.Synchronized = true
	m.vouchers[id] = v
	return nil
}

func (m *memQueries) UpdateVoucher(ctx context.Context, arg store.UpdateVoucherParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vouchers[arg.ID]
	v.Password, v.ProfileName, v.Server, v.Comment, v.Validity = arg.Password, arg.ProfileName, arg.Server, arg.Comment, arg.Validity
	m.vouchers[arg.ID] = v
	return nil
}

func (m *memQueries) DeleteVoucher(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vouchers, id)
	return nil
}

func (m *memQueries) GetVoucher(ctx context.Context, id int64) (store.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return store.Voucher{}, pgx.ErrNoRows
	}
	return v, nil
}

func (m *memQueries) GetVoucherByUsername(ctx context.Context, deviceID int64, username string) (store.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if v.DeviceID == deviceID && v.Username == username {
			return v, nil
		}
	}
	return store.Voucher{}, pgx.ErrNoRows
}

func (m *memQueries) VoucherExists(ctx context.Context, deviceID int64, username string) (bool, error) {
	_, err := m.GetVoucherByUsername(ctx, deviceID, username)
	return err == nil, nil
}

func (m *memQueries) ActivateVoucher(ctx context.Context, id int64, startAt, endAt time.Time) (store.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok || v.Status != string(StatusUnused) {
		return store.Voucher{}, pgx.ErrNoRows
	}
	v.Status = string(StatusActive)
	v.StartAt, v.EndAt, v.LastCheckedAt = ts(startAt), ts(endAt), ts(startAt)
	v.Sessions++
	m.vouchers[id] = v
	return v, nil
}

func (m *memQueries) ExpireVoucher(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expireErr != nil {
		return false, m.expireErr
	}
	v, ok := m.vouchers[id]
	if !ok || v.Status != string(StatusActive) {
		return false, nil
	}
	v.Status = string(StatusExpired)
	v.LastCheckedAt = ts(at)
	m.vouchers[id] = v
	return true, nil
}

func (m *memQueries) MarkVoucherUsed(ctx context.Context, arg store.MarkVoucherUsedParams) (store.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[arg.ID]
	if !ok || v.Status != string(StatusActive) {
		return store.Voucher{}, pgx.ErrNoRows
	}
	v.Status = string(StatusUsed)
	v.LastCheckedAt = ts(arg.At)
	v.BytesIn += arg.BytesIn
	v.BytesOut += arg.BytesOut
	v.UptimeSeconds += arg.UptimeSeconds
	m.vouchers[arg.ID] = v
	return v, nil
}

func (m *memQueries) TouchVoucherChecks(ctx context.Context, ids []int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if v, ok := m.vouchers[id]; ok && v.Status == string(StatusActive) {
			v.LastCheckedAt = ts(at)
			m.vouchers[id] = v
		}
	}
	return nil
}

func (m *memQueries) VoucherStatuses(ctx context.Context, ids []int64) ([]store.VoucherStatusRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.VoucherStatusRow
	for _, id := range ids {
		if v, ok := m.vouchers[id]; ok {
			out = append(out, store.VoucherStatusRow{ID: id, Status: v.Status})
		}
	}
	return out, nil
}

func (m *memQueries) filter(keep func(store.Voucher) bool) []store.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Voucher
	for _, v := range m.vouchers {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memQueries) ListActiveVouchers(ctx context.Context) ([]store.Voucher, error) {
	return m.filter(func(v store.Voucher) bool { return v.Status == string(StatusActive) }), nil
}

func (m *memQueries) ListBatchVouchers(ctx context.Context, batchID int64) ([]store.Voucher, error) {
	return m.filter(func(v store.Voucher) bool { return v.BatchID.Valid && v.BatchID.Int64 == batchID }), nil
}

func (m *memQueries) ListVouchersByStatus(ctx context.Context, deviceID int64, status string) ([]store.Voucher, error) {
	return m.filter(func(v store.Voucher) bool { return v.DeviceID == deviceID && v.Status == status }), nil
}

func (m *memQueries) CountVouchersByStatus(ctx context.Context, deviceID int64) ([]store.VoucherStatusCount, error) {
	counts := map[string]int64{}
	for _, v := range m.filter(func(v store.Voucher) bool { return v.DeviceID == deviceID }) {
		counts[v.Status]++
	}
	var out []store.VoucherStatusCount
	for status, n := range counts {
		out = append(out, store.VoucherStatusCount{Status: status, Count: n})
	}
	return out, nil
}

func (m *memQueries) InsertBatch(ctx context.Context, arg store.InsertBatchParams) (store.VoucherBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b := store.VoucherBatch{
		ID:             m.nextID,
		DeviceID:       arg.DeviceID,
		ProfileID:      arg.ProfileID,
		Name:           arg.Name,
		Charset:        arg.Charset,
		Length:         arg.Length,
		Prefix:         arg.Prefix,
		Suffix:         arg.Suffix,
		GenerationMode: arg.GenerationMode,
		PasswordMode:   arg.PasswordMode,
		Requested:      arg.Requested,
		Comment:        arg.Comment,
		CreatedAt:      ts(time.Now()),
	}
	m.batches[b.ID] = b
	return b, nil
}

func (m *memQueries) SetBatchTotal(ctx context.Context, id int64, total int32) (store.VoucherBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return store.VoucherBatch{}, pgx.ErrNoRows
	}
	b.TotalGenerated = total
	m.batches[id] = b
	return b, nil
}

func (m *memQueries) GetBatch(ctx context.Context, id int64) (store.VoucherBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return store.VoucherBatch{}, pgx.ErrNoRows
	}
	return b, nil
}

func (m *memQueries) DeleteBatch(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, id)
	return nil
}

func (m *memQueries) GetEntity(ctx context.Context, id int64) (store.ManagedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return store.ManagedEntity{}, pgx.ErrNoRows
	}
	return e, nil
}

func storeVoucher(deviceID int64, username string) store.Voucher {
	return store.Voucher{DeviceID: deviceID, Username: username, Password: username}
}

func (m *memQueries) setStatus(id int64, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.vouchers[id]
	v.Status = string(status)
	m.vouchers[id] = v
}

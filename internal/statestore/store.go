package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/redis/go-redis/v9"
)

var (
	ErrCache    = errors.New("statestore: cache unavailable")
	ErrNotFound = errors.New("statestore: user not cached")
)

const (
	DefaultKeyPrefix = "mikrobill"

	statsLastFullSync = "last_full_sync"
	statsLastEvent    = "last_event"
	statsCachedUsers  = "cached_users"
	statsActiveUsers  = "active_users"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store mirrors device state in Redis. Every write that touches more than one
// key goes through MULTI/EXEC so readers never observe a half-applied update.
type Store struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(svc routeros.Service, kind string, deviceID int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", s.prefix, svc, kind, deviceID)
}

func (s *Store) secretsKey(dev int64, svc routeros.Service) string  { return s.key(svc, "secrets", dev) }
func (s *Store) activeKey(dev int64, svc routeros.Service) string   { return s.key(svc, "active", dev) }
func (s *Store) sessionsKey(dev int64, svc routeros.Service) string { return s.key(svc, "sessions", dev) }
func (s *Store) statsKey(dev int64, svc routeros.Service) string    { return s.key(svc, "stats", dev) }
func (s *Store) syncKey(dev int64, svc routeros.Service) string     { return s.key(svc, "sync", dev) }
func (s *Store) lockKey(dev int64, svc routeros.Service) string     { return s.key(svc, "lock", dev) }

func (s *Store) userKey(dev int64, svc routeros.Service, username string) string {
	return s.key(svc, "user", dev) + ":" + username
}

func (s *Store) driftKey(dev int64, svc routeros.Service) string { return s.key(svc, "drift", dev) }

func cacheErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCache, op, err)
}

// ReplaceAll swaps the whole mirror of one device and service for snap and
// clears recorded drift.
func (s *Store) ReplaceAll(ctx context.Context, dev int64, svc routeros.Service, snap Snapshot) error {
	secrets := make(map[string]interface{}, len(snap.Secrets))
	for _, rec := range snap.Secrets {
		name := rec.Username()
		if name == "" {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		secrets[name] = data
	}

	sessions, members, err := encodeSessions(snap.Sessions)
	if err != nil {
		return err
	}

	at := snap.At.UnixMilli()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.secretsKey(dev, svc), s.activeKey(dev, svc), s.sessionsKey(dev, svc), s.driftKey(dev, svc))
	if len(secrets) > 0 {
		pipe.HSet(ctx, s.secretsKey(dev, svc), secrets)
	}
	if len(members) > 0 {
		pipe.ZAdd(ctx, s.activeKey(dev, svc), members...)
	}
	if len(sessions) > 0 {
		pipe.HSet(ctx, s.sessionsKey(dev, svc), sessions)
	}
	pipe.HSet(ctx, s.statsKey(dev, svc), map[string]interface{}{
		statsCachedUsers:  len(secrets),
		statsActiveUsers:  len(members),
		statsLastFullSync: at,
	})
	pipe.Set(ctx, s.syncKey(dev, svc), at, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to replace device mirror", "device_id", dev, "service", svc, "error", err)
		return cacheErr("replace all", err)
	}

	slog.Debug("Device mirror replaced",
		"device_id", dev,
		"service", svc,
		"secrets", len(secrets),
		"active", len(members))
	return nil
}

// ApplyUserEvent installs a freshly read active list and the current device
// record of one user. A nil secret means the device confirmed the user is gone
// and removes it from the snapshot.
func (s *Store) ApplyUserEvent(ctx context.Context, dev int64, svc routeros.Service, username string,
	secret routeros.Record, active []ActiveSession, at time.Time) error {
	sessions, members, err := encodeSessions(active)
	if err != nil {
		return err
	}

	isActive := false
	for _, a := range active {
		if a.Username == username {
			isActive = true
			break
		}
	}

	doc := userDoc{Username: username, IsActive: isActive, Updated: at}
	if isActive {
		doc.LastSeen = at
	} else if prev, err := s.userDoc(ctx, dev, svc, username); err == nil {
		doc.LastSeen = prev.LastSeen
	}
	docData, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	s.writeActive(ctx, pipe, dev, svc, sessions, members, at)
	if secret != nil {
		data, err := json.Marshal(secret)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.secretsKey(dev, svc), username, data)
	} else {
		pipe.HDel(ctx, s.secretsKey(dev, svc), username)
	}
	pipe.Set(ctx, s.userKey(dev, svc, username), docData, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to apply user event", "device_id", dev, "service", svc, "username", username, "error", err)
		return cacheErr("apply user event", err)
	}
	return nil
}

// ReplaceActive installs a freshly read active list without touching any
// user record.
func (s *Store) ReplaceActive(ctx context.Context, dev int64, svc routeros.Service, active []ActiveSession, at time.Time) error {
	sessions, members, err := encodeSessions(active)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	s.writeActive(ctx, pipe, dev, svc, sessions, members, at)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to replace active list", "device_id", dev, "service", svc, "error", err)
		return cacheErr("replace active", err)
	}
	return nil
}

func (s *Store) writeActive(ctx context.Context, pipe redis.Pipeliner, dev int64, svc routeros.Service,
	sessions map[string]interface{}, members []redis.Z, at time.Time) {
	pipe.Del(ctx, s.activeKey(dev, svc), s.sessionsKey(dev, svc))
	if len(members) > 0 {
		pipe.ZAdd(ctx, s.activeKey(dev, svc), members...)
	}
	if len(sessions) > 0 {
		pipe.HSet(ctx, s.sessionsKey(dev, svc), sessions)
	}
	pipe.HSet(ctx, s.statsKey(dev, svc), map[string]interface{}{
		statsActiveUsers: len(members),
		statsLastEvent:   at.UnixMilli(),
	})
}

// SessionOwner returns the user of a mirrored session, or ok=false when the
// session id is not known.
func (s *Store) SessionOwner(ctx context.Context, dev int64, svc routeros.Service, sessionID string) (string, bool, error) {
	data, err := s.client.HGet(ctx, s.sessionsKey(dev, svc), sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cacheErr("session owner", err)
	}
	var sess ActiveSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return "", false, err
	}
	return sess.Username, sess.Username != "", nil
}

func encodeSessions(active []ActiveSession) (map[string]interface{}, []redis.Z, error) {
	sessions := make(map[string]interface{}, len(active))
	seen := make(map[string]bool, len(active))
	members := make([]redis.Z, 0, len(active))
	for _, a := range active {
		if a.Username == "" || a.Status == SessionTerminated {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return nil, nil, err
		}
		sessions[a.ID] = data
		if !seen[a.Username] {
			seen[a.Username] = true
			members = append(members, redis.Z{Score: float64(a.ObservedAt.UnixMilli()), Member: a.Username})
		}
	}
	return sessions, members, nil
}

func (s *Store) userDoc(ctx context.Context, dev int64, svc routeros.Service, username string) (userDoc, error) {
	var doc userDoc
	data, err := s.client.Get(ctx, s.userKey(dev, svc, username)).Bytes()
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(data, &doc)
	return doc, err
}

// LastSync returns the time of the last full sync, or ok=false when the device
// has never been synced.
func (s *Store) LastSync(ctx context.Context, dev int64, svc routeros.Service) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, s.syncKey(dev, svc)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, cacheErr("last sync", err)
	}
	return time.UnixMilli(ms), true, nil
}

// ActiveUsernames returns the active set in observation order.
func (s *Store) ActiveUsernames(ctx context.Context, dev int64, svc routeros.Service) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.activeKey(dev, svc), 0, -1).Result()
	if err != nil {
		return nil, cacheErr("active usernames", err)
	}
	return names, nil
}

func (s *Store) IsUserActive(ctx context.Context, dev int64, svc routeros.Service, username string) (bool, error) {
	_, err := s.client.ZScore(ctx, s.activeKey(dev, svc), routeros.NormalizeUsername(username)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, cacheErr("is user active", err)
	}
	return true, nil
}

// SearchActive returns active users whose name contains term, case
// insensitively, skipping accounts disabled on the device.
func (s *Store) SearchActive(ctx context.Context, dev int64, svc routeros.Service, term string, limit int) ([]UserRecord, error) {
	names, err := s.ActiveUsernames(ctx, dev, svc)
	if err != nil {
		return nil, err
	}
	names = filterNames(names, term)
	sort.Strings(names)
	if len(names) == 0 {
		return []UserRecord{}, nil
	}

	secrets, err := s.secrets(ctx, dev, svc, names)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessionsByUser(ctx, dev, svc)
	if err != nil {
		return nil, err
	}

	result := make([]UserRecord, 0, len(names))
	for _, name := range names {
		rec := toUserRecord(name, secrets[name])
		if rec.Disabled {
			continue
		}
		rec.Active = true
		if sess, ok := sessions[name]; ok {
			rec.Session = &sess
			seen := sess.ObservedAt
			rec.LastSeen = &seen
		}
		result = append(result, rec)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// SearchInactive returns cached users that are not in the active set.
func (s *Store) SearchInactive(ctx context.Context, dev int64, svc routeros.Service, term string, limit int) ([]UserRecord, error) {
	all, err := s.client.HGetAll(ctx, s.secretsKey(dev, svc)).Result()
	if err != nil {
		return nil, cacheErr("search inactive", err)
	}
	active, err := s.ActiveUsernames(ctx, dev, svc)
	if err != nil {
		return nil, err
	}
	activeSet := make(map[string]bool, len(active))
	for _, name := range active {
		activeSet[name] = true
	}

	names := make([]string, 0, len(all))
	for name := range all {
		if !activeSet[name] {
			names = append(names, name)
		}
	}
	names = filterNames(names, term)
	sort.Strings(names)

	result := make([]UserRecord, 0, len(names))
	for _, name := range names {
		rec := toUserRecord(name, decodeSecret(all[name]))
		if rec.Disabled {
			continue
		}
		if doc, err := s.userDoc(ctx, dev, svc, name); err == nil && !doc.LastSeen.IsZero() {
			seen := doc.LastSeen
			rec.LastSeen = &seen
		}
		result = append(result, rec)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// UserDetails returns the cached view of one account.
func (s *Store) UserDetails(ctx context.Context, dev int64, svc routeros.Service, username string) (*UserRecord, error) {
	username = routeros.NormalizeUsername(username)
	secrets, err := s.secrets(ctx, dev, svc, []string{username})
	if err != nil {
		return nil, err
	}
	active, err := s.IsUserActive(ctx, dev, svc, username)
	if err != nil {
		return nil, err
	}
	if secrets[username] == nil && !active {
		return nil, ErrNotFound
	}

	rec := toUserRecord(username, secrets[username])
	rec.Active = active
	if active {
		sessions, err := s.sessionsByUser(ctx, dev, svc)
		if err != nil {
			return nil, err
		}
		if sess, ok := sessions[username]; ok {
			rec.Session = &sess
		}
	}
	if doc, err := s.userDoc(ctx, dev, svc, username); err == nil && !doc.LastSeen.IsZero() {
		seen := doc.LastSeen
		rec.LastSeen = &seen
	}
	return &rec, nil
}

func (s *Store) secrets(ctx context.Context, dev int64, svc routeros.Service, names []string) (map[string]routeros.Record, error) {
	values, err := s.client.HMGet(ctx, s.secretsKey(dev, svc), names...).Result()
	if err != nil {
		return nil, cacheErr("secrets", err)
	}
	out := make(map[string]routeros.Record, len(names))
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[names[i]] = decodeSecret(str)
		}
	}
	return out, nil
}

func (s *Store) sessionsByUser(ctx context.Context, dev int64, svc routeros.Service) (map[string]ActiveSession, error) {
	all, err := s.client.HGetAll(ctx, s.sessionsKey(dev, svc)).Result()
	if err != nil {
		return nil, cacheErr("sessions", err)
	}
	out := make(map[string]ActiveSession, len(all))
	for _, v := range all {
		var sess ActiveSession
		if err := json.Unmarshal([]byte(v), &sess); err != nil {
			continue
		}
		out[sess.Username] = sess
	}
	return out, nil
}

func decodeSecret(v string) routeros.Record {
	var rec routeros.Record
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil
	}
	return rec
}

func toUserRecord(name string, secret routeros.Record) UserRecord {
	return UserRecord{
		Username:   name,
		Profile:    secret["profile"],
		Disabled:   secret.Bool("disabled"),
		Attributes: secret,
	}
}

func filterNames(names []string, term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return names
	}
	out := names[:0:0]
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), term) {
			out = append(out, name)
		}
	}
	return out
}

func (s *Store) Stats(ctx context.Context, dev int64, svc routeros.Service) (Stats, error) {
	pipe := s.client.Pipeline()
	cached := pipe.HLen(ctx, s.secretsKey(dev, svc))
	active := pipe.ZCard(ctx, s.activeKey(dev, svc))
	fields := pipe.HMGet(ctx, s.statsKey(dev, svc), statsLastFullSync, statsLastEvent)
	drift := pipe.HLen(ctx, s.driftKey(dev, svc))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, cacheErr("stats", err)
	}

	st := Stats{
		CachedUserCount: cached.Val(),
		ActiveUserCount: active.Val(),
		DriftCount:      drift.Val(),
	}
	st.InactiveUserCount = st.CachedUserCount - st.ActiveUserCount
	if st.InactiveUserCount < 0 {
		st.InactiveUserCount = 0
	}

	vals := fields.Val()
	if len(vals) == 2 {
		st.LastFullSyncTime = parseMillis(vals[0])
		st.LastEventTime = parseMillis(vals[1])
	}
	return st, nil
}

func parseMillis(v interface{}) *time.Time {
	str, ok := v.(string)
	if !ok {
		return nil
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

// RecordDrift notes a local change the device did not accept. It is cleared
// by the next full sync of the same service.
func (s *Store) RecordDrift(ctx context.Context, dev int64, svc routeros.Service, subject, reason string) error {
	if err := s.client.HSet(ctx, s.driftKey(dev, svc), subject, reason).Err(); err != nil {
		return cacheErr("record drift", err)
	}
	return nil
}

// AcquireSyncLock takes the per device and service full-sync lease.
func (s *Store) AcquireSyncLock(ctx context.Context, dev int64, svc routeros.Service, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(dev, svc), owner, ttl).Result()
	if err != nil {
		return false, cacheErr("acquire sync lock", err)
	}
	return ok, nil
}

// ReleaseSyncLock drops the lease only if owner still holds it.
func (s *Store) ReleaseSyncLock(ctx context.Context, dev int64, svc routeros.Service, owner string) error {
	if err := releaseLockScript.Run(ctx, s.client, []string{s.lockKey(dev, svc)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return cacheErr("release sync lock", err)
	}
	return nil
}

// Clear removes every key held for one device and service.
func (s *Store) Clear(ctx context.Context, dev int64, svc routeros.Service) error {
	keys := []string{
		s.secretsKey(dev, svc), s.activeKey(dev, svc), s.sessionsKey(dev, svc),
		s.statsKey(dev, svc), s.syncKey(dev, svc), s.lockKey(dev, svc), s.driftKey(dev, svc),
	}
	iter := s.client.Scan(ctx, 0, s.key(svc, "user", dev)+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return cacheErr("clear", err)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return cacheErr("clear", err)
	}
	slog.Info("Device mirror cleared", "device_id", dev, "service", svc)
	return nil
}

package statestore

import (
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
)

type SessionStatus string

const (
	SessionConnecting    SessionStatus = "connecting"
	SessionActive        SessionStatus = "active"
	SessionIdle          SessionStatus = "idle"
	SessionDisconnecting SessionStatus = "disconnecting"
	SessionTerminated    SessionStatus = "terminated"
)

// IdleAfter is the device-reported idle time past which a session counts as
// idle rather than active.
const IdleAfter = 5 * time.Minute

type ActiveSession struct {
	ID         string        `json:"id"`
	Username   string        `json:"username"`
	Status     SessionStatus `json:"status"`
	Address    string        `json:"address,omitempty"`
	CallerID   string        `json:"caller_id,omitempty"`
	MacAddress string        `json:"mac_address,omitempty"`
	Uptime     string        `json:"uptime,omitempty"`
	BytesIn    int64         `json:"bytes_in"`
	BytesOut   int64         `json:"bytes_out"`
	PacketsIn  int64         `json:"packets_in"`
	PacketsOut int64         `json:"packets_out"`
	ObservedAt time.Time     `json:"observed_at"`
}

// SessionFromRecord normalizes an active-list record of either service.
func SessionFromRecord(rec routeros.Record, at time.Time) ActiveSession {
	s := ActiveSession{
		ID:         rec.ID(),
		Username:   rec.Username(),
		Address:    rec["address"],
		CallerID:   rec["caller-id"],
		MacAddress: rec["mac-address"],
		Uptime:     rec["uptime"],
		BytesIn:    rec.Int("bytes-in"),
		BytesOut:   rec.Int("bytes-out"),
		PacketsIn:  rec.Int("packets-in"),
		PacketsOut: rec.Int("packets-out"),
		ObservedAt: at,
	}
	if s.ID == "" {
		s.ID = s.Username
	}

	switch {
	case rec.Dead():
		s.Status = SessionTerminated
	case s.Address == "":
		// PPP sessions report no address until IPCP completes.
		s.Status = SessionConnecting
	case idleFor(rec["idle-time"]) >= IdleAfter:
		s.Status = SessionIdle
	default:
		s.Status = SessionActive
	}
	return s
}

// idleFor parses RouterOS durations such as "1w2d3h4m5s".
func idleFor(v string) time.Duration {
	var total, n time.Duration
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + time.Duration(r-'0')
		case r == 'w':
			total += n * 7 * 24 * time.Hour
			n = 0
		case r == 'd':
			total += n * 24 * time.Hour
			n = 0
		case r == 'h':
			total += n * time.Hour
			n = 0
		case r == 'm':
			total += n * time.Minute
			n = 0
		case r == 's':
			total += n * time.Second
			n = 0
		default:
			return 0
		}
	}
	return total
}

// Snapshot is the complete device state captured by a full sync.
type Snapshot struct {
	Secrets  []routeros.Record
	Sessions []ActiveSession
	At       time.Time
}

// UserRecord is a cached account as served by the read path.
type UserRecord struct {
	Username   string            `json:"username"`
	Profile    string            `json:"profile,omitempty"`
	Disabled   bool              `json:"disabled"`
	Active     bool              `json:"active"`
	LastSeen   *time.Time        `json:"last_seen,omitempty"`
	Session    *ActiveSession    `json:"session,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type userDoc struct {
	Username string    `json:"username"`
	IsActive bool      `json:"is_active"`
	LastSeen time.Time `json:"last_seen"`
	Updated  time.Time `json:"updated"`
}

type Stats struct {
	CachedUserCount   int64      `json:"cached_user_count"`
	ActiveUserCount   int64      `json:"active_user_count"`
	InactiveUserCount int64      `json:"inactive_user_count"`
	LastFullSyncTime  *time.Time `json:"last_full_sync_time,omitempty"`
	LastEventTime     *time.Time `json:"last_event_time,omitempty"`
	DriftCount        int64      `json:"drift_count"`
}

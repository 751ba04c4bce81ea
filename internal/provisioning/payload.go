package provisioning

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
)

var ErrInvalidPayload = errors.New("invalid payload")

type Kind string

const (
	KindPPPProfile     Kind = "ppp_profile"
	KindHotspotProfile Kind = "hotspot_profile"
	KindPPPSecret      Kind = "ppp_secret"
	KindHotspotUser    Kind = "hotspot_user"
	KindVoucher        Kind = "voucher"
)

// Payload is the device-facing description of one managed entity. Fields maps
// it onto RouterOS attribute names and rejects values the device would refuse.
type Payload interface {
	Kind() Kind
	Menu() string
	EntityName() string
	Fields() (map[string]string, error)
}

var (
	rateLimitPattern = regexp.MustCompile(`^\d+[kKmMgG]?(/\d+[kKmMgG]?)?(\s+\S+)*$`)
	durationPattern  = regexp.MustCompile(`^((\d+w)?(\d+d)?(\d+h)?(\d+m)?(\d+s)?|\d{1,2}:\d{2}:\d{2}|none)$`)
	poolNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	validityPattern  = regexp.MustCompile(`^\d+[dhm]$`)
)

type ProfilePayload struct {
	Service        routeros.Service `json:"service"`
	Name           string           `json:"name"`
	RateLimit      string           `json:"rate_limit,omitempty"`
	LocalAddress   string           `json:"local_address,omitempty"`
	RemoteAddress  string           `json:"remote_address,omitempty"`
	SessionTimeout string           `json:"session_timeout,omitempty"`
	IdleTimeout    string           `json:"idle_timeout,omitempty"`
	SharedUsers    int              `json:"shared_users,omitempty"`
	// Validity is kept locally for vouchers issued from a hotspot profile.
	Validity string `json:"validity,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

func (p ProfilePayload) Kind() Kind {
	if p.Service == routeros.ServiceHotspot {
		return KindHotspotProfile
	}
	return KindPPPProfile
}

func (p ProfilePayload) Menu() string       { return p.Service.ProfileMenu() }
func (p ProfilePayload) EntityName() string { return p.Name }

func (p ProfilePayload) Fields() (map[string]string, error) {
	if err := validateName(p.Name); err != nil {
		return nil, err
	}
	if p.RateLimit != "" && !rateLimitPattern.MatchString(p.RateLimit) {
		return nil, invalid("rate_limit", p.RateLimit)
	}
	if err := validateDuration("session_timeout", p.SessionTimeout); err != nil {
		return nil, err
	}
	if err := validateDuration("idle_timeout", p.IdleTimeout); err != nil {
		return nil, err
	}
	if p.Validity != "" && !validityPattern.MatchString(p.Validity) {
		return nil, invalid("validity", p.Validity)
	}
	if p.SharedUsers < 0 {
		return nil, invalid("shared_users", strconv.Itoa(p.SharedUsers))
	}

	fields := map[string]string{"name": p.Name}
	setIf(fields, "rate-limit", p.RateLimit)
	setIf(fields, "session-timeout", p.SessionTimeout)
	setIf(fields, "idle-timeout", p.IdleTimeout)

	switch p.Service {
	case routeros.ServiceHotspot:
		if p.LocalAddress != "" || p.RemoteAddress != "" {
			return nil, fmt.Errorf("%w: hotspot profiles take no addresses", ErrInvalidPayload)
		}
		if p.SharedUsers > 0 {
			fields["shared-users"] = strconv.Itoa(p.SharedUsers)
		}
	default:
		if err := validateAddressOrPool("local_address", p.LocalAddress); err != nil {
			return nil, err
		}
		if err := validateAddressOrPool("remote_address", p.RemoteAddress); err != nil {
			return nil, err
		}
		if p.SharedUsers > 0 {
			return nil, fmt.Errorf("%w: shared_users applies to hotspot profiles only", ErrInvalidPayload)
		}
		setIf(fields, "local-address", p.LocalAddress)
		setIf(fields, "remote-address", p.RemoteAddress)
		setIf(fields, "comment", p.Comment)
	}
	return fields, nil
}

type UserPayload struct {
	Service       routeros.Service `json:"service"`
	Name          string           `json:"name"`
	Password      string           `json:"password"`
	Profile       string           `json:"profile,omitempty"`
	Server        string           `json:"server,omitempty"`
	CallerID      string           `json:"caller_id,omitempty"`
	RemoteAddress string           `json:"remote_address,omitempty"`
	MacAddress    string           `json:"mac_address,omitempty"`
	LimitUptime   string           `json:"limit_uptime,omitempty"`
	Disabled      bool             `json:"disabled"`
	Comment       string           `json:"comment,omitempty"`
}

func (p UserPayload) Kind() Kind {
	if p.Service == routeros.ServiceHotspot {
		return KindHotspotUser
	}
	return KindPPPSecret
}

func (p UserPayload) Menu() string       { return p.Service.UserMenu() }
func (p UserPayload) EntityName() string { return p.Name }

func (p UserPayload) Fields() (map[string]string, error) {
	if err := validateName(p.Name); err != nil {
		return nil, err
	}
	if p.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidPayload)
	}

	fields := map[string]string{
		"name":     p.Name,
		"password": p.Password,
		"disabled": yesNo(p.Disabled),
	}
	setIf(fields, "profile", p.Profile)
	setIf(fields, "comment", p.Comment)

	switch p.Service {
	case routeros.ServiceHotspot:
		if p.CallerID != "" || p.RemoteAddress != "" {
			return nil, fmt.Errorf("%w: caller_id and remote_address apply to PPP secrets only", ErrInvalidPayload)
		}
		if p.MacAddress != "" {
			if _, err := net.ParseMAC(p.MacAddress); err != nil {
				return nil, invalid("mac_address", p.MacAddress)
			}
		}
		if err := validateDuration("limit_uptime", p.LimitUptime); err != nil {
			return nil, err
		}
		setIf(fields, "server", p.Server)
		setIf(fields, "mac-address", p.MacAddress)
		setIf(fields, "limit-uptime", p.LimitUptime)
	default:
		if p.Server != "" || p.MacAddress != "" || p.LimitUptime != "" {
			return nil, fmt.Errorf("%w: server, mac_address and limit_uptime apply to hotspot users only", ErrInvalidPayload)
		}
		if p.RemoteAddress != "" {
			if _, err := netip.ParseAddr(p.RemoteAddress); err != nil {
				return nil, invalid("remote_address", p.RemoteAddress)
			}
		}
		fields["service"] = "pppoe"
		setIf(fields, "caller-id", p.CallerID)
		setIf(fields, "remote-address", p.RemoteAddress)
	}
	return fields, nil
}

// VoucherPayload is a hotspot user issued as a voucher.
type VoucherPayload struct {
	Name        string `json:"name"`
	Password    string `json:"password"`
	Profile     string `json:"profile,omitempty"`
	Server      string `json:"server,omitempty"`
	LimitUptime string `json:"limit_uptime,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

func (p VoucherPayload) Kind() Kind         { return KindVoucher }
func (p VoucherPayload) Menu() string       { return routeros.ServiceHotspot.UserMenu() }
func (p VoucherPayload) EntityName() string { return p.Name }

func (p VoucherPayload) Fields() (map[string]string, error) {
	if err := validateName(p.Name); err != nil {
		return nil, err
	}
	if p.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidPayload)
	}
	if err := validateDuration("limit_uptime", p.LimitUptime); err != nil {
		return nil, err
	}

	fields := map[string]string{
		"name":     p.Name,
		"password": p.Password,
	}
	setIf(fields, "profile", p.Profile)
	setIf(fields, "server", p.Server)
	setIf(fields, "limit-uptime", p.LimitUptime)
	setIf(fields, "comment", p.Comment)
	return fields, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPayload)
	}
	if name != strings.TrimSpace(name) {
		return invalid("name", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return invalid("name", name)
		}
	}
	return nil
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if !durationPattern.MatchString(value) {
		return invalid(field, value)
	}
	return nil
}

func validateAddressOrPool(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := netip.ParseAddr(value); err == nil {
		return nil
	}
	if poolNamePattern.MatchString(value) {
		return nil
	}
	return invalid(field, value)
}

func invalid(field, value string) error {
	return fmt.Errorf("%w: %s %q", ErrInvalidPayload, field, value)
}

func setIf(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

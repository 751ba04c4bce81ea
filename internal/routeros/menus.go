package routeros

import (
	"fmt"
	"strings"
)

// Service selects the access service whose menus are addressed.
type Service string

const (
	ServicePPPoE   Service = "pppoe"
	ServiceHotspot Service = "hotspot"
)

func ParseService(s string) (Service, error) {
	switch Service(s) {
	case ServicePPPoE, ServiceHotspot:
		return Service(s), nil
	case "":
		return ServicePPPoE, nil
	}
	return "", fmt.Errorf("unknown service %q (valid: pppoe, hotspot)", s)
}

// UserMenu is where accounts live: PPP secrets or hotspot users.
func (s Service) UserMenu() string {
	if s == ServiceHotspot {
		return "/ip/hotspot/user"
	}
	return "/ppp/secret"
}

func (s Service) ActiveMenu() string {
	if s == ServiceHotspot {
		return "/ip/hotspot/active"
	}
	return "/ppp/active"
}

func (s Service) ProfileMenu() string {
	if s == ServiceHotspot {
		return "/ip/hotspot/user/profile"
	}
	return "/ppp/profile"
}

// ServiceOf reports which service a menu path belongs to.
func ServiceOf(menu string) Service {
	if strings.HasPrefix(menu, "/ip/hotspot/") {
		return ServiceHotspot
	}
	return ServicePPPoE
}

package micro

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// This file contains the convention for naming service addresses.
//
// The ServiceAddress convention is as follows:
// <region>.<realm>.<organization>.<project>.<service_id>.<endpoint>
//
// <realm> is one of the following:
// - internal: Reserved for internal services
// - world: Publicly reachable services such as the room directory
//
// <endpoint> is an arbitrary token that identifies specific functionality within a service.
// An endpoint can contain . as a delimiter to leverage NATS routing.
//
// Examples:
// - local.world.argus.launcher.rooms.room.join-random
// - us-west-2.world.argus.launcher.rooms.query.list

// Realm represents the access scope of the service.
type Realm uint8

const (
	RealmUnspecified Realm = iota // Should not be used
	RealmInternal                 // Reserved for internal services
	RealmWorld                    // Publicly reachable services
)

func (r Realm) String() string {
	switch r {
	case RealmInternal:
		return "internal"
	case RealmWorld:
		return "world"
	case RealmUnspecified:
		return "unspecified"
	default:
		return "unspecified"
	}
}

func parseRealm(s string) Realm {
	switch strings.ToLower(s) {
	case "internal":
		return RealmInternal
	case "world":
		return RealmWorld
	default:
		return RealmUnspecified
	}
}

var (
	ErrInvalidAddress = eris.New("invalid service address format")
)

// ServiceAddress identifies a service instance on the NATS network.
type ServiceAddress struct {
	Region       string `json:"region"`
	Realm        Realm  `json:"realm"`
	Organization string `json:"organization"`
	Project      string `json:"project"`
	ServiceID    string `json:"service_id"`
}

// String returns the string representation of a ServiceAddress without the endpoint.
func String(s *ServiceAddress) string {
	return fmt.Sprintf("%s.%s.%s.%s.%s", s.Region, s.Realm, s.Organization, s.Project, s.ServiceID)
}

// Endpoint returns the full subject of an endpoint on the given service.
func Endpoint(s *ServiceAddress, endpoint string) string {
	return fmt.Sprintf("%s.%s", String(s), endpoint)
}

// ParseAddress parses a string into a ServiceAddress.
// The format should be "<region>.<realm>.<organization>.<project>.<service_id>".
func ParseAddress(address string) (*ServiceAddress, error) {
	parts := strings.Split(address, ".")
	if len(parts) != 5 {
		return nil, eris.Wrapf(ErrInvalidAddress, "address must have 5 parts but got %d", len(parts))
	}

	for i, part := range parts {
		if part == "" {
			return nil, eris.Wrapf(ErrInvalidAddress, "part %d is empty", i)
		}
	}

	realm := parseRealm(parts[1])
	if realm == RealmUnspecified {
		return nil, eris.Wrapf(ErrInvalidAddress, "unknown realm '%s'", parts[1])
	}

	return &ServiceAddress{
		Region:       parts[0],
		Realm:        realm,
		Organization: parts[2],
		Project:      parts[3],
		ServiceID:    parts[4],
	}, nil
}

// GetAddress creates a new ServiceAddress with the given realm, organization, project, and service ID.
func GetAddress(region string, realm Realm, organization, project, serviceID string) *ServiceAddress {
	return &ServiceAddress{
		Region:       region,
		Realm:        realm,
		Organization: organization,
		Project:      project,
		ServiceID:    serviceID,
	}
}

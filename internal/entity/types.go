package entity

import (
	"fmt"
	"strconv"
	"time"
)

// CurrentConfigVersion is the server entry format written by this build.
//
// Version history:
//   - 1: unique id derived from the host only
//   - 2: unique id is "openrgb_<host>_<port>"
const CurrentConfigVersion = 2

// IDPrefix starts every unique id the bridge hands out.
const IDPrefix = "openrgb"

// Kind distinguishes whole-device entities from single-LED entities.
type Kind string

// Entity kinds.
const (
	KindDevice Kind = "device"
	KindLED    Kind = "led"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDevice || k == KindLED
}

// Server is one configured OpenRGB SDK endpoint.
type Server struct {
	ID            string    `json:"id"`
	UniqueID      string    `json:"unique_id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	ClientName    string    `json:"client_name"`
	AddLEDs       bool      `json:"add_leds"`
	ConfigVersion int       `json:"config_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Entity is one light entity announced to the host.
//
// Key is the stable device or LED key; DeviceRef is the OpenRGB entity id
// ("<slug(name)>_<index>") of the controller the entity belongs to.
type Entity struct {
	Key       string    `json:"key"`
	UniqueID  string    `json:"unique_id"`
	Kind      Kind      `json:"kind"`
	DeviceRef string    `json:"device_ref"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the entity.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// Validate checks the fields the registry relies on.
func (e *Entity) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidEntity)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, e.Kind)
	}
	if e.DeviceRef == "" {
		return fmt.Errorf("%w: device_ref is required", ErrInvalidEntity)
	}
	return nil
}

// ServerUniqueID returns "openrgb_<host>_<port>".
func ServerUniqueID(host string, port int) string {
	return IDPrefix + "_" + host + "_" + strconv.Itoa(port)
}

// EntityUniqueID returns "<server unique id>_<key>".
func EntityUniqueID(serverUniqueID, key string) string {
	return serverUniqueID + "_" + key
}

// Migrate upgrades s to CurrentConfigVersion in place.
//
// Returns:
//   - bool: true if s was changed and needs saving
//   - error: ErrUnsupportedVersion if s was written by a newer build
func Migrate(s *Server) (bool, error) {
	switch {
	case s.ConfigVersion > CurrentConfigVersion:
		return false, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.ConfigVersion)
	case s.ConfigVersion == CurrentConfigVersion:
		return false, nil
	}

	// Version 0 never shipped; treat it as 1.
	s.UniqueID = ServerUniqueID(s.Host, s.Port)
	s.ConfigVersion = CurrentConfigVersion
	return true, nil
}

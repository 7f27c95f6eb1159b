package openrgb

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/openrgb-bridge/internal/color"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// Light state payload values (Home Assistant JSON schema).
const (
	StateOn  = "ON"
	StateOff = "OFF"

	// ColorModeHS is the only color mode OpenRGB lights report.
	ColorModeHS = "hs"
)

// Effect names with special meaning to the turn on/off logic.
const (
	EffectOff    = "Off"
	EffectStatic = "Static"
	EffectDirect = "Direct"
)

// Service names.
const (
	ServiceForceUpdate = "force_update"
	ServicePullDevices = "pull_devices"
)

// StateMessage is published (retained) on a light's state topic.
//
// Example:
//
//	{"state":"ON","brightness":128,"color_mode":"hs","color":{"h":120,"s":100},"effect":"Static"}
type StateMessage struct {
	State      string    `json:"state"`
	Brightness int       `json:"brightness"`
	ColorMode  string    `json:"color_mode"`
	Color      *color.HS `json:"color,omitempty"`
	Effect     string    `json:"effect,omitempty"`
}

// NewStateMessage builds the state payload for a light snapshot.
func NewStateMessage(s LightState) StateMessage {
	msg := StateMessage{
		State:      StateOff,
		Brightness: s.Brightness,
		ColorMode:  ColorModeHS,
		Effect:     s.Effect,
	}
	if s.On {
		msg.State = StateOn
	}
	hs := s.HS
	msg.Color = &hs
	return msg
}

// CommandMessage is received on a light's command topic.
//
// Only the fields present in the payload are requested; a bare
// {"state":"ON"} restores the light's previous brightness and color.
type CommandMessage struct {
	State      string    `json:"state"`
	Brightness *int      `json:"brightness,omitempty"`
	Color      *color.HS `json:"color,omitempty"`
	Effect     string    `json:"effect,omitempty"`
}

// ParseCommand decodes and validates a light command payload.
//
// Parameters:
//   - payload: Raw JSON from the command topic
//
// Returns:
//   - CommandMessage: Decoded command with State normalised to ON/OFF
//   - error: ErrInvalidCommand if the payload is malformed
func ParseCommand(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	cmd.State = strings.ToUpper(strings.TrimSpace(cmd.State))
	switch cmd.State {
	case StateOn, StateOff:
	case "":
		// Home Assistant omits state when only a color or effect changes.
		cmd.State = StateOn
	default:
		return cmd, fmt.Errorf("%w: state %q", ErrInvalidCommand, cmd.State)
	}

	if cmd.Brightness != nil && (*cmd.Brightness < 0 || *cmd.Brightness > 255) {
		return cmd, fmt.Errorf("%w: brightness %d out of range 0-255", ErrInvalidCommand, *cmd.Brightness)
	}
	return cmd, nil
}

// TurnOnParams converts the command into turn-on arguments.
func (c CommandMessage) TurnOnParams() TurnOnParams {
	return TurnOnParams{
		Brightness: c.Brightness,
		HS:         c.Color,
		Effect:     c.Effect,
	}
}

// DiscoveryMessage is the Home Assistant MQTT discovery config of a light
// (JSON schema).
type DiscoveryMessage struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	ObjectID            string          `json:"object_id"`
	Schema              string          `json:"schema"`
	StateTopic          string          `json:"state_topic"`
	CommandTopic        string          `json:"command_topic"`
	AvailabilityTopic   string          `json:"availability_topic"`
	Icon                string          `json:"icon,omitempty"`
	Brightness          bool            `json:"brightness"`
	SupportedColorModes []string        `json:"supported_color_modes"`
	Effect              bool            `json:"effect,omitempty"`
	EffectList          []string        `json:"effect_list,omitempty"`
	Device              DiscoveryDevice `json:"device"`
}

// DiscoveryDevice groups light entities under one Home Assistant device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// NewDiscoveryDevice describes an OpenRGB controller for discovery.
// Identifiers are "<server unique id>_<device key>".
func NewDiscoveryDevice(serverUniqueID string, d *sdk.Device) DiscoveryDevice {
	return DiscoveryDevice{
		Identifiers:  []string{serverUniqueID + "_" + d.UniqueKey()},
		Name:         d.Name,
		Manufacturer: d.Vendor,
		Model:        d.Description,
		SWVersion:    d.Version,
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but the OpenRGB server
	// or the broker is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published (retained) on the bridge health topic.
type HealthMessage struct {
	// Server is the OpenRGB server unique id (openrgb_<host>_<port>).
	Server string `json:"server"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	Status  HealthStatus `json:"status"`
	Version string       `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains OpenRGB connection details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of light entities.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the OpenRGB SDK connection.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the SDK server address (host:port).
	Address string `json:"address"`

	// ProtocolVersion is the negotiated SDK protocol version.
	ProtocolVersion uint32 `json:"protocol_version"`

	// LastActivity is when a packet was last exchanged.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"`
	Polls            uint64 `json:"polls"`
	PollFailures     uint64 `json:"poll_failures"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandErrors    uint64 `json:"command_errors"`
	Errors           uint64 `json:"errors"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(serverID, version string, status HealthStatus, conn ConnectionStatus, stats BridgeStatistics, deviceCount int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Server:         serverID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		Connection:     &conn,
		Statistics:     &stats,
		DevicesManaged: deviceCount,
	}
}

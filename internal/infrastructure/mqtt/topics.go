package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the bridge's MQTT topic tree.
//
// All bridge topics live under {base}/{node}, where node identifies one
// OpenRGB server (openrgb_<host>_<port>):
//
//	topics := mqtt.NewTopics("openrgb-bridge", "openrgb_10_0_0_5_6742")
//	topics.LightState("ABC123")
//	// Returns: "openrgb-bridge/openrgb_10_0_0_5_6742/light/ABC123/state"
type Topics struct {
	Base string
	Node string
}

// NewTopics returns a topic builder with both segments sanitised.
func NewTopics(base, node string) Topics {
	return Topics{Base: strings.TrimSuffix(base, "/"), Node: SanitiseSegment(node)}
}

func (t Topics) root() string {
	return fmt.Sprintf("%s/%s", t.Base, t.Node)
}

// Availability returns the retained online/offline topic (also the LWT).
//
// Example: openrgb-bridge/openrgb_localhost_6742/availability
func (t Topics) Availability() string {
	return t.root() + "/availability"
}

// Health returns the retained bridge health topic.
func (t Topics) Health() string {
	return t.root() + "/health"
}

// LightState returns the retained JSON state topic of one light entity.
func (t Topics) LightState(key string) string {
	return fmt.Sprintf("%s/light/%s/state", t.root(), SanitiseSegment(key))
}

// LightCommand returns the JSON command topic of one light entity.
func (t Topics) LightCommand(key string) string {
	return fmt.Sprintf("%s/light/%s/set", t.root(), SanitiseSegment(key))
}

// AllLightCommands is the wildcard subscription for every light command.
func (t Topics) AllLightCommands() string {
	return t.root() + "/light/+/set"
}

// Service returns the topic that triggers a named bridge service.
func (t Topics) Service(name string) string {
	return fmt.Sprintf("%s/service/%s", t.root(), name)
}

// AllServices is the wildcard subscription for service calls.
func (t Topics) AllServices() string {
	return t.root() + "/service/+"
}

// ParseLightCommand extracts the entity key from a light command topic.
// It returns false when topic does not belong to this node's command tree.
func (t Topics) ParseLightCommand(topic string) (string, bool) {
	prefix := t.root() + "/light/"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/set") {
		return "", false
	}
	key := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/set")
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// ParseService extracts the service name from a service topic.
func (t Topics) ParseService(topic string) (string, bool) {
	prefix := t.root() + "/service/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(topic, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// DiscoveryConfig returns the Home Assistant MQTT discovery topic for a
// light entity.
//
// Example: homeassistant/light/openrgb_localhost_6742/ABC123/config
func DiscoveryConfig(prefix, nodeID, objectID string) string {
	return fmt.Sprintf("%s/light/%s/%s/config",
		strings.TrimSuffix(prefix, "/"), SanitiseSegment(nodeID), SanitiseSegment(objectID))
}

// SanitiseSegment makes s safe as a single topic level. Home Assistant only
// accepts [a-zA-Z0-9_-] in discovery node and object ids; everything else
// (including the MQTT wildcards and level separator) becomes '_'.
func SanitiseSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

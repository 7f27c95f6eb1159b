// Package openrgb bridges one OpenRGB SDK server to light entities.
//
// The Bridge polls the server (every poll interval, on request, and when
// the server announces a device list change), records every controller and
// optionally every LED in the entity registry, and keeps one Light adapter
// per entity. Lights translate on/off, brightness, hue/saturation and
// effect requests into SDK writes and report their state back.
//
// Changes travel over the event bus as signals:
//
//	update         an entity (or all, with an empty key) should re-read its state
//	delete         an entity vanished from the server
//	discovery_new  entities were created
//	state          an entity's state after it changed
//	availability   the server went online or offline
//
// The bridge itself publishes those signals to MQTT using the Home
// Assistant JSON light schema:
//
//	<base>/<server>/light/<key>/state   retained state
//	<base>/<server>/light/<key>/set     commands
//	<base>/<server>/availability        online/offline (also the LWT)
//	<base>/<server>/service/<name>      force_update, pull_devices
//	<base>/<server>/health              retained health report
//	<prefix>/light/<server>/<key>/config  discovery
//
// A fetch or write that fails with a connection error marks the server
// offline; the next poll reconnects before fetching again.
package openrgb

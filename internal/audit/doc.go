// Package audit records and queries the bridge's activity history.
//
// Entries cover light commands (from MQTT or the HTTP API), service calls,
// and the lifecycle events the sync loop emits: entities added or removed
// and the OpenRGB connection being lost or restored. They are stored in
// the audit_logs table.
package audit

// Package entity keeps track of the light entities the bridge has
// announced for an OpenRGB server.
//
// Each controller is announced as one entity keyed by its serial (or its
// OpenRGB entity id when the serial is empty) and, optionally, one entity
// per LED keyed "<device key>_led_<n>". The Registry groups keys by the
// controller's OpenRGB entity id so a vanished controller removes its LED
// entities with it.
//
// Entities and the server entry are persisted in SQLite so entities that
// disappeared while the bridge was stopped are cleaned up on the next poll.
//
// Usage:
//
//	server, err := entity.EnsureServer(ctx, repo, entity.Server{Host: host, Port: port}, log)
//	reg := entity.NewRegistry(repo, *server)
//	if err := reg.Load(ctx); err != nil { ... }
//
//	diff, err := reg.Apply(ctx, groups)
//	for _, key := range diff.Removed { ... }
package entity

// Package openrgb is a client for the OpenRGB SDK server.
//
// The SDK protocol is a little-endian binary protocol over TCP. Every
// packet starts with a 16-byte header ("ORGB", device index, packet id,
// payload size). The client implements the subset needed to mirror
// controllers as lights: protocol version negotiation, client naming,
// reading controller data, setting LED colors and switching modes.
//
// Usage:
//
//	client := openrgb.New(openrgb.Config{Host: "localhost"})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	devices, err := client.Update(ctx)
//	...
//	err = client.SetDeviceColor(ctx, devices[0].ID, openrgb.Color{R: 255})
//
// The client does not reconnect by itself. Callers check
// IsConnectionError and call Connect again.
package openrgb

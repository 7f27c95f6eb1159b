package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLight  = "openrgb_light"
	MeasurementServer = "openrgb_server"
)

// LightMetric is one observation of a light entity.
type LightMetric struct {
	Server     string
	Key        string
	Kind       string
	On         bool
	Available  bool
	Brightness int
	Hue        float64
	Saturation float64
	R, G, B    uint8
	Time       time.Time
}

// NewLightPoint converts a light observation into a point.
// A zero Time is stamped with the current time.
func NewLightPoint(m LightMetric) *write.Point {
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		MeasurementLight,
		map[string]string{
			"server": m.Server,
			"key":    m.Key,
			"kind":   m.Kind,
		},
		map[string]interface{}{
			"on":         m.On,
			"available":  m.Available,
			"brightness": m.Brightness,
			"hue":        m.Hue,
			"saturation": m.Saturation,
			"red":        int(m.R),
			"green":      int(m.G),
			"blue":       int(m.B),
		},
		ts,
	)
}

// WriteLightState records a light observation.
func (c *Client) WriteLightState(m LightMetric) {
	c.write(NewLightPoint(m))
}

// WriteAvailability records an OpenRGB server going online or offline.
func (c *Client) WriteAvailability(server string, online bool) {
	c.write(write.NewPoint(
		MeasurementServer,
		map[string]string{"server": server},
		map[string]interface{}{"online": online},
		time.Now(),
	))
}

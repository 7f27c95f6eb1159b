// Package color converts between the RGB values the OpenRGB server
// reports and the hue/saturation/value triples light entities use.
//
// Scales follow the home-automation convention: hue 0-360 degrees,
// saturation and value 0-100 percent.
package color

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// HS is a hue/saturation pair as carried by light state.
type HS struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
}

// RGBToHSV converts an 8-bit RGB color to hue (0-360), saturation (0-100)
// and value (0-100), each rounded to three decimals.
func RGBToHSV(c openrgb.Color) (h, s, v float64) {
	col := colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}
	h, s, v = col.Hsv()
	return round3(h), round3(s * 100), round3(v * 100)
}

// HSVToRGB converts hue (0-360), saturation (0-100) and value (0-100) to
// an 8-bit RGB color. Out-of-range inputs are clamped.
func HSVToRGB(h, s, v float64) openrgb.Color {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	col := colorful.Hsv(h, clamp(s, 0, 100)/100, clamp(v, 0, 100)/100).Clamped()
	r, g, b := col.RGB255()
	return openrgb.Color{R: r, G: g, B: b}
}

// BrightnessFromValue maps value (0-100) to brightness (0-255).
func BrightnessFromValue(v float64) int {
	return int(math.Round(255 * clamp(v, 0, 100) / 100))
}

// ValueFromBrightness maps brightness (0-255) to value (0-100).
func ValueFromBrightness(brightness int) float64 {
	return 100 * float64(min(max(brightness, 0), 255)) / 255
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

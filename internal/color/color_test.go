package color

import (
	"math"
	"testing"

	"github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

func TestRGBToHSV(t *testing.T) {
	tests := []struct {
		name    string
		in      openrgb.Color
		h, s, v float64
	}{
		{"black", openrgb.Color{}, 0, 0, 0},
		{"white", openrgb.Color{R: 255, G: 255, B: 255}, 0, 0, 100},
		{"red", openrgb.Color{R: 255}, 0, 100, 100},
		{"green", openrgb.Color{G: 255}, 120, 100, 100},
		{"blue", openrgb.Color{B: 255}, 240, 100, 100},
		{"half red", openrgb.Color{R: 128}, 0, 100, 50.196},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := RGBToHSV(tt.in)
			if math.Abs(h-tt.h) > 0.01 || math.Abs(s-tt.s) > 0.01 || math.Abs(v-tt.v) > 0.01 {
				t.Errorf("RGBToHSV(%v) = (%v, %v, %v), want (%v, %v, %v)", tt.in, h, s, v, tt.h, tt.s, tt.v)
			}
		})
	}
}

func TestHSVToRGB(t *testing.T) {
	tests := []struct {
		name    string
		h, s, v float64
		want    openrgb.Color
	}{
		{"red", 0, 100, 100, openrgb.Color{R: 255}},
		{"yellow", 60, 100, 100, openrgb.Color{R: 255, G: 255}},
		{"cyan", 180, 100, 100, openrgb.Color{G: 255, B: 255}},
		{"white", 0, 0, 100, openrgb.Color{R: 255, G: 255, B: 255}},
		{"off", 200, 50, 0, openrgb.Color{}},
		{"hue wraps", 360, 100, 100, openrgb.Color{R: 255}},
		{"negative hue wraps", -120, 100, 100, openrgb.Color{B: 255}},
		{"clamped value", 0, 100, 250, openrgb.Color{R: 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HSVToRGB(tt.h, tt.s, tt.v); got != tt.want {
				t.Errorf("HSVToRGB(%v, %v, %v) = %v, want %v", tt.h, tt.s, tt.v, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	within := func(a, b uint8) bool {
		d := int(a) - int(b)
		return d >= -1 && d <= 1
	}
	for r := 0; r < 256; r += 15 {
		for g := 0; g < 256; g += 17 {
			for b := 0; b < 256; b += 51 {
				in := openrgb.Color{R: uint8(r), G: uint8(g), B: uint8(b)}
				h, s, v := RGBToHSV(in)
				out := HSVToRGB(h, s, v)
				if !within(in.R, out.R) || !within(in.G, out.G) || !within(in.B, out.B) {
					t.Errorf("round trip %v -> (%v, %v, %v) -> %v", in, h, s, v, out)
				}
			}
		}
	}
}

func TestBrightnessScale(t *testing.T) {
	if got := BrightnessFromValue(100); got != 255 {
		t.Errorf("BrightnessFromValue(100) = %d, want 255", got)
	}
	if got := BrightnessFromValue(0); got != 0 {
		t.Errorf("BrightnessFromValue(0) = %d, want 0", got)
	}
	if got := ValueFromBrightness(255); got != 100 {
		t.Errorf("ValueFromBrightness(255) = %v, want 100", got)
	}
	for b := 0; b <= 255; b++ {
		if got := BrightnessFromValue(ValueFromBrightness(b)); got != b {
			t.Errorf("brightness %d round-trips to %d", b, got)
		}
	}
}

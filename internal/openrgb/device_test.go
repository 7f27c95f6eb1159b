package openrgb

import (
	"errors"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Desk Strip", "desk_strip"},
		{"ASUS ROG STRIX Z690-E", "asus_rog_strix_z690_e"},
		{"  Corsair -- K95  ", "corsair_k95"},
		{"Lüfter", "lüfter"},
		{"***", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeviceKeys(t *testing.T) {
	strip := testStrip()
	strip.ID = 2

	if got := strip.EntityID(); got != "desk_strip_2" {
		t.Errorf("EntityID() = %q, want desk_strip_2", got)
	}
	if got := strip.UniqueKey(); got != "SN-001" {
		t.Errorf("UniqueKey() = %q, want SN-001", got)
	}
	if got := strip.LEDKey(1); got != "SN-001_led_1" {
		t.Errorf("LEDKey(1) = %q, want SN-001_led_1", got)
	}
	if got := strip.DisplayName(); got != "Desk Strip 2" {
		t.Errorf("DisplayName() = %q", got)
	}
	if got := strip.LEDDisplayName(0); got != "Desk Strip 2 LED 0" {
		t.Errorf("LEDDisplayName(0) = %q", got)
	}

	kb := testKeyboard()
	kb.ID = 1
	if got := kb.UniqueKey(); got != "gaming_keyboard_1" {
		t.Errorf("UniqueKey() without serial = %q, want gaming_keyboard_1", got)
	}
}

func TestDeviceTypeIcon(t *testing.T) {
	tests := []struct {
		typ  DeviceType
		icon string
		name string
	}{
		{DeviceTypeMotherboard, "mdi:developer-board", "motherboard"},
		{DeviceTypeCooler, "mdi:fan", "cooler"},
		{DeviceTypeKeyboard, "mdi:keyboard", "keyboard"},
		{DeviceTypeUnknown, "mdi:crosshairs-question", "unknown"},
		{DeviceType(42), "mdi:crosshairs-question", "unknown"},
		{DeviceType(-1), "mdi:crosshairs-question", "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.Icon(); got != tt.icon {
			t.Errorf("DeviceType(%d).Icon() = %q, want %q", tt.typ, got, tt.icon)
		}
		if got := tt.typ.String(); got != tt.name {
			t.Errorf("DeviceType(%d).String() = %q, want %q", tt.typ, got, tt.name)
		}
	}
}

func TestDeviceModes(t *testing.T) {
	d := testStrip()

	if m, ok := d.FindMode("OFF"); !ok || m.Name != "Off" {
		t.Errorf("FindMode(OFF) = %+v, %v", m, ok)
	}
	if _, ok := d.FindMode("Rainbow"); ok {
		t.Error("FindMode(Rainbow) found a mode")
	}

	d.ActiveMode = 9
	if got := d.ActiveModeName(); got != "" {
		t.Errorf("ActiveModeName() out of range = %q, want empty", got)
	}

	names := d.ModeNames()
	if len(names) != 4 || names[3] != "Off" {
		t.Errorf("ModeNames() = %v", names)
	}
}

func TestDeviceClone(t *testing.T) {
	orig := testKeyboard()
	cp := orig.Clone()

	cp.Colors[0] = Color{}
	cp.Modes[0].Name = "changed"
	cp.Zones[0].Matrix[0][0] = 99
	cp.LEDs[0].Name = "changed"

	if orig.Colors[0] != (Color{R: 10, G: 20, B: 30}) {
		t.Error("Clone shares Colors")
	}
	if orig.Modes[0].Name != "Direct" {
		t.Error("Clone shares Modes")
	}
	if orig.Zones[0].Matrix[0][0] != 0 {
		t.Error("Clone shares zone matrix")
	}
	if orig.LEDs[0].Name != "Key: A" {
		t.Error("Clone shares LEDs")
	}

	var nilDevice *Device
	if nilDevice.Clone() != nil {
		t.Error("nil Clone() != nil")
	}
}

func TestColorHelpers(t *testing.T) {
	d := &Device{}
	if d.PrimaryColor() != Black {
		t.Error("PrimaryColor() of colorless device is not black")
	}
	if _, ok := d.LEDColor(0); ok {
		t.Error("LEDColor(0) ok on colorless device")
	}
	if got := (Color{R: 255, G: 16, B: 1}).String(); got != "#ff1001" {
		t.Errorf("String() = %q, want #ff1001", got)
	}
}

func TestParseDeviceTruncated(t *testing.T) {
	data := encodeControllerData(testStrip(), 3)

	for _, cut := range []int{3, 10, len(data) / 2, len(data) - 1} {
		if _, err := parseDevice(0, data[:cut], 3); !errors.Is(err, ErrProtocol) {
			t.Errorf("parseDevice(truncated to %d) error = %v, want ErrProtocol", cut, err)
		}
	}
}

func TestParseDeviceVersionLayouts(t *testing.T) {
	for _, v := range []uint32{0, 1, 2, 3} {
		d, err := parseDevice(4, encodeControllerData(testStrip(), v), v)
		if err != nil {
			t.Fatalf("parseDevice(v%d) error: %v", v, err)
		}
		if d.ID != 4 || d.Name != "Desk Strip" || len(d.Colors) != 3 {
			t.Errorf("parseDevice(v%d) = %+v", v, d)
		}
		wantBrightness := uint32(0)
		if v >= 3 {
			wantBrightness = 80
		}
		if d.Modes[2].Brightness != wantBrightness {
			t.Errorf("v%d breathing brightness = %d, want %d", v, d.Modes[2].Brightness, wantBrightness)
		}
	}
}

// zonePayload builds a controller payload with one zone whose matrix
// header is matrixLen, h and w followed by cells u32 values.
func zonePayload(matrixLen uint16, h, w uint32, cells int) []byte {
	wr := &writer{}
	wr.i32(int32(DeviceTypeKeyboard))
	for range 5 {
		wr.str("x")
	}
	wr.u16(0) // modes
	wr.i32(0) // active mode
	wr.u16(1) // zones
	wr.str("Keys")
	wr.i32(2)
	wr.u32(4)
	wr.u32(4)
	wr.u32(4)
	wr.u16(matrixLen)
	wr.u32(h)
	wr.u32(w)
	for range cells {
		wr.u32(0)
	}
	wr.u16(0) // LEDs
	wr.u16(0) // colors
	return wr.sized()
}

func TestParseDeviceBadMatrix(t *testing.T) {
	tests := []struct {
		name      string
		matrixLen uint16
		h, w      uint32
	}{
		{"too short for 2x2", 12, 2, 2},
		{"zero width huge height", 8, 0x7FFFFFFF, 0},
		{"zero height huge width", 8, 0, 0x7FFFFFFF},
		{"product overflows int32", 8, 0x10000, 0x10000},
		{"length not a cell multiple", 10, 0, 0},
		{"length below header", 4, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDevice(0, zonePayload(tt.matrixLen, tt.h, tt.w, 0), 0)
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("parseDevice() error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestParseDeviceMatrix(t *testing.T) {
	d, err := parseDevice(0, zonePayload(8+4*6, 2, 3, 6), 0)
	if err != nil {
		t.Fatalf("parseDevice() error = %v", err)
	}
	if len(d.Zones) != 1 || len(d.Zones[0].Matrix) != 2 || len(d.Zones[0].Matrix[1]) != 3 {
		t.Errorf("zones = %+v, want one 2x3 matrix", d.Zones)
	}
}

func TestMatrixFits(t *testing.T) {
	tests := []struct {
		h, w      uint32
		matrixLen uint16
		want      bool
	}{
		{0, 0, 8, true},
		{2, 3, 32, true},
		{2, 3, 28, false},
		{1, maxMatrixDim, 8 + 4*maxMatrixDim, true},
		{maxMatrixDim + 1, 0, 8, false},
		{0xFFFFFFFF, 0xFFFFFFFF, 8, false},
	}
	for _, tt := range tests {
		if got := matrixFits(tt.h, tt.w, tt.matrixLen); got != tt.want {
			t.Errorf("matrixFits(%d, %d, %d) = %v, want %v", tt.h, tt.w, tt.matrixLen, got, tt.want)
		}
	}
}

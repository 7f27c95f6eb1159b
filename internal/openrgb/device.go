package openrgb

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Color is one RGB value as the SDK transmits it.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// String formats the color as #rrggbb.
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Black is the color pushed when a light without an "Off" mode is turned off.
var Black = Color{}

// DeviceType classifies a controller as reported by the server.
type DeviceType int32

// Device types in server order.
const (
	DeviceTypeMotherboard DeviceType = iota
	DeviceTypeDRAM
	DeviceTypeGPU
	DeviceTypeCooler
	DeviceTypeLEDStrip
	DeviceTypeKeyboard
	DeviceTypeMouse
	DeviceTypeMouseMat
	DeviceTypeHeadset
	DeviceTypeHeadsetStand
	DeviceTypeGamepad
	DeviceTypeLight
	DeviceTypeSpeaker
	DeviceTypeVirtual
	DeviceTypeStorage
	DeviceTypeCase
	DeviceTypeMicrophone
	DeviceTypeAccessory
	DeviceTypeKeypad
	DeviceTypeUnknown
)

var deviceTypeNames = [...]string{
	"motherboard", "dram", "gpu", "cooler", "ledstrip", "keyboard", "mouse",
	"mousemat", "headset", "headset_stand", "gamepad", "light", "speaker",
	"virtual", "storage", "case", "microphone", "accessory", "keypad", "unknown",
}

var deviceTypeIcons = [...]string{
	"mdi:developer-board",
	"mdi:memory",
	"mdi:expansion-card",
	"mdi:fan",
	"mdi:led-strip",
	"mdi:keyboard",
	"mdi:mouse",
	"mdi:rug",
	"mdi:headset",
	"mdi:headphones-box",
	"mdi:gamepad-variant",
	"mdi:lightbulb",
	"mdi:speaker",
	"mdi:led-strip-variant",
	"mdi:harddisk",
	"mdi:desktop-tower",
	"mdi:microphone",
	"mdi:puzzle",
	"mdi:dialpad",
	"mdi:crosshairs-question",
}

// String returns the lower-case type name.
func (t DeviceType) String() string {
	if t < 0 || int(t) >= len(deviceTypeNames) {
		return deviceTypeNames[DeviceTypeUnknown]
	}
	return deviceTypeNames[t]
}

// Icon returns the Material Design icon used for entities of this type.
// Types the server adds later map to the unknown icon.
func (t DeviceType) Icon() string {
	if t < 0 || int(t) >= len(deviceTypeIcons) {
		return deviceTypeIcons[DeviceTypeUnknown]
	}
	return deviceTypeIcons[t]
}

// Mode is one lighting mode (effect) of a device.
type Mode struct {
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	Value         int32   `json:"value"`
	Flags         uint32  `json:"flags"`
	SpeedMin      uint32  `json:"speed_min"`
	SpeedMax      uint32  `json:"speed_max"`
	BrightnessMin uint32  `json:"brightness_min"`
	BrightnessMax uint32  `json:"brightness_max"`
	ColorsMin     uint32  `json:"colors_min"`
	ColorsMax     uint32  `json:"colors_max"`
	Speed         uint32  `json:"speed"`
	Brightness    uint32  `json:"brightness"`
	Direction     uint32  `json:"direction"`
	ColorMode     uint32  `json:"color_mode"`
	Colors        []Color `json:"colors,omitempty"`
}

// Zone is a group of LEDs on a device.
type Zone struct {
	Name     string     `json:"name"`
	Type     int32      `json:"type"`
	LEDsMin  uint32     `json:"leds_min"`
	LEDsMax  uint32     `json:"leds_max"`
	LEDCount uint32     `json:"led_count"`
	Matrix   [][]uint32 `json:"matrix,omitempty"`
}

// LED is a single addressable LED.
type LED struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

// Device is one controller as last reported by the server.
//
// Colors holds one entry per LED; devices with no LEDs still report
// colors for their zones, so Colors may be longer than LEDs.
type Device struct {
	ID          int        `json:"id"`
	Type        DeviceType `json:"type"`
	Name        string     `json:"name"`
	Vendor      string     `json:"vendor"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Serial      string     `json:"serial"`
	Location    string     `json:"location"`
	Modes       []Mode     `json:"modes"`
	ActiveMode  int        `json:"active_mode"`
	Zones       []Zone     `json:"zones"`
	LEDs        []LED      `json:"leds"`
	Colors      []Color    `json:"colors"`
}

// EntityID returns the server-local identifier "<slug(name)>_<index>".
// It changes when controllers are re-enumerated in a different order.
func (d *Device) EntityID() string {
	return Slugify(d.Name) + "_" + strconv.Itoa(d.ID)
}

// UniqueKey returns the stable identifier for the device: its serial
// when the server reports one, otherwise EntityID.
func (d *Device) UniqueKey() string {
	if s := strings.TrimSpace(d.Serial); s != "" {
		return s
	}
	return d.EntityID()
}

// LEDKey returns the stable identifier of LED i on this device.
func (d *Device) LEDKey(i int) string {
	return LEDKey(d.UniqueKey(), i)
}

// LEDKey builds the stable LED identifier from a device key.
func LEDKey(deviceKey string, i int) string {
	return deviceKey + "_led_" + strconv.Itoa(i)
}

// DisplayName returns "<name> <index>".
func (d *Device) DisplayName() string {
	return d.Name + " " + strconv.Itoa(d.ID)
}

// LEDDisplayName returns "<name> <index> LED <led>".
func (d *Device) LEDDisplayName(i int) string {
	return d.DisplayName() + " LED " + strconv.Itoa(i)
}

// ActiveModeName returns the name of the active mode, or "" when the
// active index is out of range.
func (d *Device) ActiveModeName() string {
	if d.ActiveMode < 0 || d.ActiveMode >= len(d.Modes) {
		return ""
	}
	return d.Modes[d.ActiveMode].Name
}

// FindMode returns the mode whose name matches case-insensitively.
func (d *Device) FindMode(name string) (Mode, bool) {
	for _, m := range d.Modes {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Mode{}, false
}

// ModeNames lists mode names in server order.
func (d *Device) ModeNames() []string {
	names := make([]string, len(d.Modes))
	for i, m := range d.Modes {
		names[i] = m.Name
	}
	return names
}

// PrimaryColor returns the device's first color, black if it reports none.
func (d *Device) PrimaryColor() Color {
	if len(d.Colors) == 0 {
		return Black
	}
	return d.Colors[0]
}

// LEDColor returns the color of LED i.
func (d *Device) LEDColor(i int) (Color, bool) {
	if i < 0 || i >= len(d.Colors) {
		return Color{}, false
	}
	return d.Colors[i], true
}

// Clone returns a deep copy so callers can hold a device without
// racing the client's cache.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Modes = make([]Mode, len(d.Modes))
	for i, m := range d.Modes {
		m.Colors = append([]Color(nil), m.Colors...)
		cp.Modes[i] = m
	}
	cp.Zones = make([]Zone, len(d.Zones))
	for i, z := range d.Zones {
		if z.Matrix != nil {
			rows := make([][]uint32, len(z.Matrix))
			for r, row := range z.Matrix {
				rows[r] = append([]uint32(nil), row...)
			}
			z.Matrix = rows
		}
		cp.Zones[i] = z
	}
	cp.LEDs = append([]LED(nil), d.LEDs...)
	cp.Colors = append([]Color(nil), d.Colors...)
	return &cp
}

// Slugify lower-cases s and collapses every run of non-alphanumeric
// characters into a single underscore.
func Slugify(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// parseDevice decodes a CONTROLLER_DATA payload for the given protocol version.
func parseDevice(id int, payload []byte, version uint32) (*Device, error) {
	r := &reader{buf: payload}
	r.u32() // data size, redundant with the header

	d := &Device{ID: id}
	d.Type = DeviceType(r.i32())
	d.Name = r.str()
	if version >= 1 {
		d.Vendor = r.str()
	}
	d.Description = r.str()
	d.Version = r.str()
	d.Serial = r.str()
	d.Location = r.str()

	numModes := int(r.u16())
	d.ActiveMode = int(r.i32())
	d.Modes = make([]Mode, 0, numModes)
	for i := 0; i < numModes && r.err == nil; i++ {
		m := Mode{Index: i}
		m.Name = r.str()
		m.Value = r.i32()
		m.Flags = r.u32()
		m.SpeedMin = r.u32()
		m.SpeedMax = r.u32()
		if version >= 3 {
			m.BrightnessMin = r.u32()
			m.BrightnessMax = r.u32()
		}
		m.ColorsMin = r.u32()
		m.ColorsMax = r.u32()
		m.Speed = r.u32()
		if version >= 3 {
			m.Brightness = r.u32()
		}
		m.Direction = r.u32()
		m.ColorMode = r.u32()
		m.Colors = r.colors()
		d.Modes = append(d.Modes, m)
	}

	numZones := int(r.u16())
	d.Zones = make([]Zone, 0, numZones)
	for i := 0; i < numZones && r.err == nil; i++ {
		z := Zone{}
		z.Name = r.str()
		z.Type = r.i32()
		z.LEDsMin = r.u32()
		z.LEDsMax = r.u32()
		z.LEDCount = r.u32()
		if matrixLen := r.u16(); matrixLen > 0 {
			h := r.u32()
			w := r.u32()
			if r.err != nil {
				break
			}
			if !matrixFits(h, w, matrixLen) {
				return nil, fmt.Errorf("%w: zone %q matrix %dx%d does not fit %d bytes", ErrProtocol, z.Name, h, w, matrixLen)
			}
			z.Matrix = make([][]uint32, 0, h)
			for range h {
				row := make([]uint32, w)
				for c := range row {
					row[c] = r.u32()
				}
				z.Matrix = append(z.Matrix, row)
			}
		}
		d.Zones = append(d.Zones, z)
	}

	numLEDs := int(r.u16())
	d.LEDs = make([]LED, 0, numLEDs)
	for i := 0; i < numLEDs && r.err == nil; i++ {
		d.LEDs = append(d.LEDs, LED{Index: i, Name: r.str(), Value: r.u32()})
	}

	d.Colors = r.colors()

	if r.err != nil {
		return nil, fmt.Errorf("parsing controller %d: %w", id, r.err)
	}
	return d, nil
}

// maxMatrixDim bounds each matrix dimension by what a u16 matrix length
// can describe, so a zero width cannot smuggle in a huge height.
const maxMatrixDim = (1<<16 - 1 - 8) / 4

// matrixFits reports whether an h x w matrix of u32 cells plus its 8-byte
// size header is exactly matrixLen bytes.
func matrixFits(h, w uint32, matrixLen uint16) bool {
	if h > maxMatrixDim || w > maxMatrixDim || matrixLen < 8 || (matrixLen-8)%4 != 0 {
		return false
	}
	return uint64(h)*uint64(w) == uint64(matrixLen-8)/4
}

// encodeMode builds the UPDATEMODE payload for m.
func encodeMode(m Mode, version uint32) []byte {
	w := &writer{}
	w.i32(int32(m.Index))
	w.str(m.Name)
	w.i32(m.Value)
	w.u32(m.Flags)
	w.u32(m.SpeedMin)
	w.u32(m.SpeedMax)
	if version >= 3 {
		w.u32(m.BrightnessMin)
		w.u32(m.BrightnessMax)
	}
	w.u32(m.ColorsMin)
	w.u32(m.ColorsMax)
	w.u32(m.Speed)
	if version >= 3 {
		w.u32(m.Brightness)
	}
	w.u32(m.Direction)
	w.u32(m.ColorMode)
	w.u16(uint16(len(m.Colors)))
	for _, c := range m.Colors {
		w.color(c)
	}
	return w.sized()
}

// encodeDeviceColors builds the UPDATELEDS payload setting n LEDs to c.
func encodeDeviceColors(c Color, n int) []byte {
	w := &writer{}
	w.u16(uint16(n))
	for range n {
		w.color(c)
	}
	return w.sized()
}

// encodeSingleLED builds the UPDATESINGLELED payload.
func encodeSingleLED(led int, c Color) []byte {
	w := &writer{}
	w.i32(int32(led))
	w.color(c)
	return w.buf
}

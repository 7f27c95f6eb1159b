package openrgb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nerrad567/openrgb-bridge/internal/color"
	"github.com/nerrad567/openrgb-bridge/internal/entity"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// maxBrightness is the top of the light brightness scale.
const maxBrightness = 255

// LightState is a snapshot of one light entity.
type LightState struct {
	Key          string      `json:"key"`
	UniqueID     string      `json:"unique_id"`
	Name         string      `json:"name"`
	Kind         entity.Kind `json:"kind"`
	On           bool        `json:"on"`
	Brightness   int         `json:"brightness"`
	HS           color.HS    `json:"hs"`
	RGB          string      `json:"rgb"`
	Effect       string      `json:"effect,omitempty"`
	EffectList   []string    `json:"effect_list,omitempty"`
	AssumedState bool        `json:"assumed_state"`
	Available    bool        `json:"available"`
}

// TurnOnParams are the optional arguments of a turn-on request.
// Nil pointers and an empty effect mean "not requested".
type TurnOnParams struct {
	Brightness *int
	HS         *color.HS
	Effect     string
}

func (p TurnOnParams) empty() bool {
	return p.Brightness == nil && p.HS == nil && p.Effect == ""
}

// Details returns the set parameters as audit details, or nil when none are set.
func (p TurnOnParams) Details() map[string]any {
	if p.empty() {
		return nil
	}
	d := make(map[string]any, 3)
	if p.Brightness != nil {
		d["brightness"] = *p.Brightness
	}
	if p.HS != nil {
		d["hs_color"] = []float64{p.HS.H, p.HS.S}
	}
	if p.Effect != "" {
		d["effect"] = p.Effect
	}
	return d
}

// lightTarget identifies what a light entity controls.
type lightTarget struct {
	key       string
	uniqueID  string
	name      string
	kind      entity.Kind
	deviceKey string
	led       int // -1 for a whole device
}

// Light adapts one OpenRGB device, or one LED of a device, to a light
// entity with on/off, brightness, hue/saturation and (devices only)
// effects.
//
// A light never holds on to a device value: every read and write looks the
// device up by its stable key in the client's last device list, so a
// re-enumerated controller keeps working under its new index.
//
// Thread Safety: All methods are safe for concurrent use. Writes to one
// light are serialised.
type Light struct {
	target  lightTarget
	client  sdk.Connector
	conn    *Connection
	limiter *rate.Limiter

	mu           sync.Mutex
	name         string
	on           bool
	brightness   int
	hs           color.HS
	rgb          sdk.Color
	effect       string
	effectList   []string
	assumedState bool

	prevBrightness int
	prevHS         color.HS
	prevEffect     string

	logger Logger
}

// newLight creates a light in its initial assumed state: on, full
// brightness, white. A device light remembers activeMode as the effect
// to restore on the first plain turn-on.
func newLight(t lightTarget, activeMode string, client sdk.Connector, conn *Connection, limiter *rate.Limiter, logger Logger) *Light {
	return &Light{
		target:         t,
		client:         client,
		conn:           conn,
		limiter:        limiter,
		name:           t.name,
		on:             true,
		brightness:     maxBrightness,
		prevBrightness: maxBrightness,
		rgb:            sdk.Color{R: 255, G: 255, B: 255},
		prevEffect:     activeMode,
		assumedState:   true,
		logger:         logger,
	}
}

// Key returns the light's stable entity key.
func (l *Light) Key() string {
	return l.target.key
}

// Kind returns whether the light is a whole device or a single LED.
func (l *Light) Kind() entity.Kind {
	return l.target.kind
}

// DeviceKey returns the key of the device the light belongs to.
func (l *Light) DeviceKey() string {
	return l.target.deviceKey
}

// State returns a snapshot of the light. available is filled in by the
// caller from the connection state.
func (l *Light) State(available bool) LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LightState{
		Key:          l.target.key,
		UniqueID:     l.target.uniqueID,
		Name:         l.name,
		Kind:         l.target.kind,
		On:           l.on,
		Brightness:   l.brightness,
		HS:           l.hs,
		RGB:          l.rgb.String(),
		Effect:       l.effect,
		EffectList:   slices.Clone(l.effectList),
		AssumedState: l.assumedState,
		Available:    available,
	}
}

// Device returns a copy of the device the light belongs to, as of the
// last poll.
func (l *Light) Device() (*sdk.Device, error) {
	for _, d := range l.client.Devices() {
		if d.UniqueKey() == l.target.deviceKey {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLightUnavailable, l.target.key)
}

// Update re-reads the light's state from the last device list.
//
// The reported RGB becomes hue/saturation and a brightness of
// 255*value/100; the light is on when that brightness is above zero.
// Device lights also take the active mode as their effect and are off
// whenever that mode is "Off".
func (l *Light) Update() error {
	dev, err := l.Device()
	if err != nil {
		return err
	}

	rgb := dev.PrimaryColor()
	name := dev.DisplayName()
	if l.target.kind == entity.KindLED {
		c, ok := dev.LEDColor(l.target.led)
		if !ok {
			return fmt.Errorf("%w: %s", ErrLightUnavailable, l.target.key)
		}
		rgb = c
		name = dev.LEDDisplayName(l.target.led)
	}
	h, s, v := color.RGBToHSV(rgb)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.name = name
	l.rgb = rgb
	l.hs = color.HS{H: h, S: s}
	l.brightness = color.BrightnessFromValue(v)
	l.on = l.brightness > 0
	l.assumedState = false

	if l.target.kind == entity.KindDevice {
		l.effect = dev.ActiveModeName()
		l.effectList = l.effectList[:0]
		for _, m := range dev.ModeNames() {
			if !isOff(m) {
				l.effectList = append(l.effectList, m)
			}
		}
		if isOff(l.effect) {
			l.on = false
		}
	}
	return nil
}

// TurnOn switches the light on.
//
// Requested brightness and color are applied as given. With no arguments
// at all the light restores its previous brightness (full brightness if
// that was zero) and previous color. Device lights then select an
// effect: the requested one, else the previous one unless it was "Off";
// an "Off" effect falls back to "Static", then "Direct". An effect the
// device does not support is logged and skipped, and the color is still
// written. LED lights have no effects: a requested one is logged and the
// request is handled as if it carried none.
//
// Parameters:
//   - ctx: Context for the SDK writes
//   - p: Requested brightness, color and effect (all optional)
//
// Returns:
//   - error: ErrLightUnavailable, or the write error (connection errors
//     also mark the server offline)
func (l *Light) TurnOn(ctx context.Context, p TurnOnParams) error {
	err := l.turnOn(ctx, p)
	l.checkConnection(err)
	return err
}

func (l *Light) turnOn(ctx context.Context, p TurnOnParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dev, err := l.Device()
	if err != nil {
		return err
	}

	// Single LEDs have no modes.
	if l.target.kind == entity.KindLED && p.Effect != "" {
		l.logWarn("unsupported effect", "light", l.name, "effect", p.Effect)
		p.Effect = ""
	}

	if p.HS != nil {
		l.hs = *p.HS
	}
	if p.Brightness != nil {
		l.brightness = min(max(*p.Brightness, 0), maxBrightness)
	}
	if p.empty() {
		l.brightness = l.prevBrightness
		if l.brightness == 0 {
			l.brightness = maxBrightness
		}
		l.hs = l.prevHS
	}

	var errs []error
	if l.target.kind == entity.KindDevice {
		if err := l.applyTurnOnEffect(ctx, dev, p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.pushColor(ctx, dev); err != nil {
		errs = append(errs, err)
	}
	l.on = true
	return errors.Join(errs...)
}

// applyTurnOnEffect runs the effect step of TurnOn. Caller holds mu.
func (l *Light) applyTurnOnEffect(ctx context.Context, dev *sdk.Device, p TurnOnParams) error {
	effect := l.effect
	if p.Effect != "" {
		effect = p.Effect
	} else {
		if p.empty() && !isOff(l.prevEffect) && l.prevEffect != "" {
			effect = l.prevEffect
		}
		if isOff(effect) || effect == "" {
			switch {
			case hasMode(dev, EffectStatic):
				effect = EffectStatic
			case hasMode(dev, EffectDirect):
				effect = EffectDirect
			default:
				l.logWarn("light cannot be turned on: no Static or Direct effect",
					"light", l.name)
				return nil
			}
		}
	}
	return l.setEffect(ctx, dev, effect)
}

// TurnOff switches the light off. It is a no-op when the light is already
// off, so repeated calls never overwrite the state a later TurnOn restores.
//
// A device light remembers its brightness, color and effect, then selects
// the "Off" effect when the device has one and otherwise writes black. An
// LED light remembers brightness and color and writes black.
func (l *Light) TurnOff(ctx context.Context) error {
	err := l.turnOff(ctx)
	l.checkConnection(err)
	return err
}

func (l *Light) turnOff(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.on {
		return nil
	}
	dev, err := l.Device()
	if err != nil {
		return err
	}

	var werr error
	switch l.target.kind {
	case entity.KindDevice:
		if !isOff(l.effect) {
			l.prevBrightness = l.brightness
			l.prevHS = l.hs
			l.prevEffect = l.effect
			if hasMode(dev, EffectOff) {
				werr = l.setEffect(ctx, dev, EffectOff)
			} else {
				l.brightness = 0
				werr = l.pushColor(ctx, dev)
			}
		}
	case entity.KindLED:
		if l.brightness != 0 {
			l.prevBrightness = l.brightness
			l.prevHS = l.hs
			l.brightness = 0
			werr = l.pushColor(ctx, dev)
		}
	}
	l.on = false
	return werr
}

// setEffect activates a mode by name. Caller holds mu.
func (l *Light) setEffect(ctx context.Context, dev *sdk.Device, effect string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	err := l.client.SetMode(ctx, dev.ID, effect)
	switch {
	case err == nil:
		l.effect = effect
		return nil
	case errors.Is(err, sdk.ErrModeNotFound):
		l.logWarn("unsupported effect", "light", l.name, "effect", effect)
		return nil
	default:
		return fmt.Errorf("set effect %q: %w", effect, err)
	}
}

// pushColor writes HSV(hs, 100*brightness/255) to the device or LED.
// Caller holds mu.
func (l *Light) pushColor(ctx context.Context, dev *sdk.Device) error {
	rgb := color.HSVToRGB(l.hs.H, l.hs.S, color.ValueFromBrightness(l.brightness))
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	var err error
	if l.target.kind == entity.KindLED {
		err = l.client.SetLEDColor(ctx, dev.ID, l.target.led, rgb)
	} else {
		err = l.client.SetDeviceColor(ctx, dev.ID, rgb)
	}
	if err != nil {
		return fmt.Errorf("set color %s: %w", rgb, err)
	}
	l.rgb = rgb
	l.assumedState = false
	return nil
}

// checkConnection marks the server offline after a connection error. It
// runs without mu held, since Failed waits for the event bus and bus
// handlers take mu.
func (l *Light) checkConnection(err error) {
	if err != nil && sdk.IsConnectionError(err) {
		l.conn.Failed(err)
	}
}

func (l *Light) logWarn(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, keysAndValues...)
	}
}

func isOff(effect string) bool {
	return strings.EqualFold(effect, EffectOff)
}

func hasMode(dev *sdk.Device, name string) bool {
	_, ok := dev.FindMode(name)
	return ok
}

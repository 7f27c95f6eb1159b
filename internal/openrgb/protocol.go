package openrgb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Packet ids of the OpenRGB SDK protocol used by this client.
const (
	PacketRequestControllerCount uint32 = 0
	PacketRequestControllerData  uint32 = 1
	PacketRequestProtocolVersion uint32 = 40
	PacketSetClientName          uint32 = 50
	PacketDeviceListUpdated      uint32 = 100
	PacketUpdateLEDs             uint32 = 1050
	PacketUpdateSingleLED        uint32 = 1052
	PacketUpdateMode             uint32 = 1101
)

const (
	// headerSize is magic(4) + device index(4) + packet id(4) + payload size(4).
	headerSize = 16

	// MaxProtocolVersion is the highest protocol version this client speaks.
	// Versions 1-3 only change the controller data layout (vendor string,
	// mode brightness); later versions add segments we do not parse.
	MaxProtocolVersion uint32 = 3

	// maxPayloadSize guards against a desynchronised stream.
	maxPayloadSize = 16 << 20
)

var magic = [4]byte{'O', 'R', 'G', 'B'}

// header is the fixed prefix of every packet.
type header struct {
	DeviceIndex uint32
	PacketID    uint32
	Size        uint32
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.DeviceIndex)
	binary.LittleEndian.PutUint32(buf[8:12], h.PacketID)
	binary.LittleEndian.PutUint32(buf[12:16], h.Size)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("%w: short header (%d bytes)", ErrProtocol, len(buf))
	}
	if [4]byte(buf[0:4]) != magic {
		return header{}, fmt.Errorf("%w: bad magic %q", ErrProtocol, buf[0:4])
	}
	h := header{
		DeviceIndex: binary.LittleEndian.Uint32(buf[4:8]),
		PacketID:    binary.LittleEndian.Uint32(buf[8:12]),
		Size:        binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.Size > maxPayloadSize {
		return header{}, fmt.Errorf("%w: payload size %d exceeds %d", ErrProtocol, h.Size, maxPayloadSize)
	}
	return h, nil
}

// encodePacket frames payload for the given device and packet id.
func encodePacket(deviceIndex, packetID uint32, payload []byte) []byte {
	buf := encodeHeader(header{DeviceIndex: deviceIndex, PacketID: packetID, Size: uint32(len(payload))})
	return append(buf, payload...)
}

// reader walks a little-endian payload. The first short read sets err and
// every later call returns zero values, so parsers check err once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrProtocol, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}

// str reads a u16 length (including the trailing NUL) and the bytes.
func (r *reader) str() string {
	n := int(r.u16())
	b := r.take(n)
	if len(b) == 0 {
		return ""
	}
	if b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

func (r *reader) color() Color {
	b := r.take(4)
	if b == nil {
		return Color{}
	}
	return Color{R: b[0], G: b[1], B: b[2]}
}

func (r *reader) colors() []Color {
	n := int(r.u16())
	if r.err != nil {
		return nil
	}
	out := make([]Color, 0, n)
	for range n {
		out = append(out, r.color())
	}
	return out
}

// writer builds a little-endian payload.
type writer struct {
	buf []byte
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }

func (w *writer) str(s string) {
	n := len(s) + 1
	if n > math.MaxUint16 {
		s = s[:math.MaxUint16-1]
		n = math.MaxUint16
	}
	w.u16(uint16(n))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *writer) color(c Color) {
	w.buf = append(w.buf, c.R, c.G, c.B, 0)
}

// sized prefixes the payload with its total length (including the u32 size
// field itself), the layout UPDATELEDS and UPDATEMODE expect.
func (w *writer) sized() []byte {
	out := make([]byte, 4, 4+len(w.buf))
	binary.LittleEndian.PutUint32(out, uint32(4+len(w.buf)))
	return append(out, w.buf...)
}

// nulString encodes the payload of SET_CLIENT_NAME.
func nulString(s string) []byte {
	return append([]byte(s), 0)
}

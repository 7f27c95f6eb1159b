package openrgb

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// receivedPacket is one packet recorded by MockSDKServer.
type receivedPacket struct {
	DeviceIndex uint32
	PacketID    uint32
	Payload     []byte
}

// MockSDKServer simulates an OpenRGB SDK server for testing.
type MockSDKServer struct {
	listener net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	received []receivedPacket
	devices  []*Device

	// version is the protocol version the server reports; a negative
	// value means the server ignores PROTOCOL_VERSION like pre-1 servers.
	version int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMockSDKServer creates a mock server that serves devices.
func NewMockSDKServer(t *testing.T, version int, devices ...*Device) *MockSDKServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	s := &MockSDKServer{
		listener: listener,
		devices:  devices,
		version:  version,
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *MockSDKServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *MockSDKServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	hdr := make([]byte, headerSize)
	var negotiated uint32
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		h, err := decodeHeader(hdr)
		if err != nil {
			return
		}
		payload := make([]byte, h.Size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, receivedPacket{DeviceIndex: h.DeviceIndex, PacketID: h.PacketID, Payload: payload})
		version := s.version
		devices := s.devices
		s.mu.Unlock()

		switch h.PacketID {
		case PacketRequestProtocolVersion:
			if version < 0 {
				continue
			}
			client := binary.LittleEndian.Uint32(payload)
			negotiated = min(client, uint32(version))
			conn.Write(encodePacket(0, PacketRequestProtocolVersion, le32(uint32(version))))
		case PacketRequestControllerCount:
			conn.Write(encodePacket(0, PacketRequestControllerCount, le32(uint32(len(devices)))))
		case PacketRequestControllerData:
			if int(h.DeviceIndex) >= len(devices) {
				continue
			}
			v := uint32(0)
			if len(payload) >= 4 {
				v = min(binary.LittleEndian.Uint32(payload), negotiated)
			}
			data := encodeControllerData(devices[h.DeviceIndex], v)
			conn.Write(encodePacket(h.DeviceIndex, PacketRequestControllerData, data))
		}
	}
}

// Address returns the listener's host and port.
func (s *MockSDKServer) Address() (string, int) {
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Config returns a client config pointing at the server.
func (s *MockSDKServer) Config() Config {
	host, port := s.Address()
	return Config{
		Host:           host,
		Port:           port,
		ClientName:     "Test Client",
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: time.Second,
	}
}

// SetDevices replaces the served device list.
func (s *MockSDKServer) SetDevices(devices ...*Device) {
	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
}

// Received returns the packets recorded so far.
func (s *MockSDKServer) Received() []receivedPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]receivedPacket(nil), s.received...)
}

// WaitFor polls until a packet with the given id has been received.
func (s *MockSDKServer) WaitFor(t *testing.T, packetID uint32) receivedPacket {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range s.Received() {
			if p.PacketID == packetID {
				return p
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("packet %d not received", packetID)
	return receivedPacket{}
}

// NotifyDeviceListUpdated sends DEVICE_LIST_UPDATED on every connection.
func (s *MockSDKServer) NotifyDeviceListUpdated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Write(encodePacket(0, PacketDeviceListUpdated, nil))
	}
}

// DropConnections closes every accepted connection, simulating a restart.
func (s *MockSDKServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close stops the server.
func (s *MockSDKServer) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// encodeControllerData is the server side of parseDevice.
func encodeControllerData(d *Device, version uint32) []byte {
	w := &writer{}
	w.i32(int32(d.Type))
	w.str(d.Name)
	if version >= 1 {
		w.str(d.Vendor)
	}
	w.str(d.Description)
	w.str(d.Version)
	w.str(d.Serial)
	w.str(d.Location)

	w.u16(uint16(len(d.Modes)))
	w.i32(int32(d.ActiveMode))
	for _, m := range d.Modes {
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
	}

	w.u16(uint16(len(d.Zones)))
	for _, z := range d.Zones {
		w.str(z.Name)
		w.i32(z.Type)
		w.u32(z.LEDsMin)
		w.u32(z.LEDsMax)
		w.u32(z.LEDCount)
		if len(z.Matrix) == 0 {
			w.u16(0)
			continue
		}
		h, width := len(z.Matrix), len(z.Matrix[0])
		w.u16(uint16(8 + 4*h*width))
		w.u32(uint32(h))
		w.u32(uint32(width))
		for _, row := range z.Matrix {
			for _, v := range row {
				w.u32(v)
			}
		}
	}

	w.u16(uint16(len(d.LEDs)))
	for _, l := range d.LEDs {
		w.str(l.Name)
		w.u32(l.Value)
	}

	w.u16(uint16(len(d.Colors)))
	for _, c := range d.Colors {
		w.color(c)
	}
	return w.sized()
}

// testStrip returns a three-LED strip with Direct, Static, Breathing and Off modes.
func testStrip() *Device {
	return &Device{
		Type:        DeviceTypeLEDStrip,
		Name:        "Desk Strip",
		Vendor:      "Acme",
		Description: "ARGB strip",
		Version:     "1.2",
		Serial:      "SN-001",
		Location:    "HID: /dev/hidraw0",
		Modes: []Mode{
			{Name: "Direct", Value: 0, Flags: 1 << 5},
			{Name: "Static", Value: 1, ColorsMin: 1, ColorsMax: 1, Colors: []Color{{R: 255}}},
			{Name: "Breathing", Value: 2, SpeedMin: 1, SpeedMax: 5, Speed: 3, BrightnessMax: 100, Brightness: 80},
			{Name: "Off", Value: 3},
		},
		ActiveMode: 1,
		Zones: []Zone{
			{Name: "Strip", Type: 1, LEDsMin: 3, LEDsMax: 3, LEDCount: 3},
		},
		LEDs: []LED{
			{Name: "LED 1", Value: 0},
			{Name: "LED 2", Value: 1},
			{Name: "LED 3", Value: 2},
		},
		Colors: []Color{{R: 255}, {G: 255}, {B: 255}},
	}
}

// testKeyboard returns a keyboard without a serial and with a 2x2 matrix zone.
func testKeyboard() *Device {
	return &Device{
		Type:   DeviceTypeKeyboard,
		Name:   "Gaming Keyboard",
		Vendor: "KeyCo",
		Modes: []Mode{
			{Name: "Direct"},
			{Name: "Wave", Direction: 1},
		},
		ActiveMode: 0,
		Zones: []Zone{
			{Name: "Keys", Type: 2, LEDsMin: 4, LEDsMax: 4, LEDCount: 4, Matrix: [][]uint32{{0, 1}, {2, 3}}},
		},
		LEDs: []LED{
			{Name: "Key: A"}, {Name: "Key: B", Value: 1}, {Name: "Key: C", Value: 2}, {Name: "Key: D", Value: 3},
		},
		Colors: []Color{{R: 10, G: 20, B: 30}, {}, {}, {}},
	}
}

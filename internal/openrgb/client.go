package openrgb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts for SDK communication.
const (
	// DefaultPort is the OpenRGB SDK server's default TCP port.
	DefaultPort = 6742

	// DefaultClientName is the name shown in the server's client list.
	DefaultClientName = "Home Assistant"

	// defaultConnectTimeout bounds dialing plus the handshake.
	defaultConnectTimeout = 5 * time.Second

	// defaultRequestTimeout bounds one request/response exchange.
	defaultRequestTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single socket write.
	defaultWriteTimeout = 5 * time.Second

	// protocolVersionTimeout is how long to wait for a PROTOCOL_VERSION reply.
	// Servers older than protocol 1 never answer it.
	protocolVersionTimeout = time.Second

	// responseQueueSize buffers replies between the receive loop and request.
	responseQueueSize = 16
)

// Config holds SDK server connection settings.
type Config struct {
	// Host is the SDK server address.
	Host string

	// Port is the SDK server port. Default: 6742.
	Port int

	// ClientName is announced with SET_CLIENT_NAME. Default: "Home Assistant".
	ClientName string

	// ConnectTimeout bounds dialing and the handshake. Default: 5 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request/response exchange. Default: 5 seconds.
	RequestTimeout time.Duration
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Stats holds operational statistics.
type Stats struct {
	PacketsTx       uint64
	PacketsRx       uint64
	PacketsDropped  uint64 // Replies nobody was waiting for
	Notifications   uint64 // DEVICE_LIST_UPDATED packets received
	ErrorsTotal     uint64
	ConnectsTotal   uint64
	ProtocolVersion uint32
	Devices         int
	LastActivity    time.Time
	Connected       bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the subset of the client the bridge depends on.
// This allows mocking the SDK server in tests.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	Update(ctx context.Context) ([]*Device, error)
	Devices() []*Device
	SetDeviceColor(ctx context.Context, deviceID int, c Color) error
	SetLEDColor(ctx context.Context, deviceID, led int, c Color) error
	SetMode(ctx context.Context, deviceID int, mode string) error
	DeviceListUpdated() <-chan struct{}
	IsConnected() bool
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// packet is one framed message read from the server.
type packet struct {
	header
	payload []byte
}

// session is the state of one TCP connection. A new session is created on
// every Connect; a failed session is never reused.
type session struct {
	conn      net.Conn
	responses chan packet
	done      *closeOnce
	wg        sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func (s *session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.done.Close()
}

func (s *session) cause() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) alive() bool {
	select {
	case <-s.done.Done():
		return false
	default:
		return true
	}
}

func (s *session) close() {
	s.fail(net.ErrClosed)
	s.conn.Close()
	s.wg.Wait()
}

// Client talks to an OpenRGB SDK server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Requests are serialised; the SDK protocol has no request ids, so
//     only one exchange may be in flight per connection.
//
// Reconnection:
//   - The client does not reconnect on its own. Callers notice failures
//     through IsConnectionError and call Connect again.
type Client struct {
	cfg Config

	// reqMu serialises request/response exchanges.
	reqMu sync.Mutex

	// mu guards sess, devices and version.
	mu      sync.RWMutex
	sess    *session
	devices []*Device
	version uint32

	deviceListUpdated chan struct{}
	closed            *closeOnce

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	packetsTx      atomic.Uint64
	packetsRx      atomic.Uint64
	packetsDropped atomic.Uint64
	notifications  atomic.Uint64
	errorsTotal    atomic.Uint64
	connectsTotal  atomic.Uint64
	lastActivity   atomic.Int64 // Unix timestamp
}

// New creates a client for the given server. It does not connect.
//
// Parameters:
//   - cfg: Server address and timeouts; zero values take defaults
//
// Returns:
//   - *Client: Disconnected client, ready for Connect
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Client{
		cfg:               cfg,
		deviceListUpdated: make(chan struct{}, 1),
		closed:            newCloseOnce(),
	}
}

// Connect dials the server and performs the handshake: protocol version
// negotiation followed by SET_CLIENT_NAME. Any previous connection is
// dropped first, so Connect doubles as reconnect.
//
// Devices are not fetched; call Update afterwards.
//
// Parameters:
//   - ctx: Context for cancellation (bounded further by ConnectTimeout)
//
// Returns:
//   - error: ErrConnectionFailed (wrapped) if dialing or the handshake fails
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", c.cfg.Address())
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.cfg.Address(), err)
	}

	sess := &session{
		conn:      conn,
		responses: make(chan packet, responseQueueSize),
		done:      newCloseOnce(),
	}
	sess.wg.Add(1)
	go c.receiveLoop(sess)

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	version, err := c.negotiateVersion(connectCtx, sess)
	if err != nil {
		sess.close()
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}

	if err := c.send(connectCtx, sess, 0, PacketSetClientName, nulString(c.cfg.ClientName)); err != nil {
		sess.close()
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: set client name: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.sess = sess
	c.version = version
	c.mu.Unlock()

	c.connectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logInfo("connected to openrgb server",
		"address", c.cfg.Address(),
		"protocol_version", version,
	)
	return nil
}

// negotiateVersion announces MaxProtocolVersion and returns the lower of
// the two versions. A server that does not answer speaks version 0.
func (c *Client) negotiateVersion(ctx context.Context, sess *session) (uint32, error) {
	wait := protocolVersionTimeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < wait {
		wait = time.Until(d)
	}

	w := &writer{}
	w.u32(MaxProtocolVersion)
	reply, err := c.exchange(ctx, sess, 0, PacketRequestProtocolVersion, w.buf, wait)
	if errors.Is(err, ErrTimeout) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	r := &reader{buf: reply}
	server := r.u32()
	if r.err != nil {
		return 0, r.err
	}
	return min(server, MaxProtocolVersion), nil
}

// Disconnect closes the current connection, if any. The cached device
// list is kept so a failed reconnect does not lose the last known state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		c.logInfo("disconnected from openrgb server", "address", c.cfg.Address())
	}
}

// Close disconnects and makes every later call fail with ErrClosed.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.closed.Close()
	c.Disconnect()
	return nil
}

// receiveLoop reads packets until the connection fails or is closed.
// Reads block without a deadline: an idle server sends nothing.
func (c *Client) receiveLoop(sess *session) {
	defer sess.wg.Done()

	hdr := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(sess.conn, hdr); err != nil {
			c.handleReadError(sess, err)
			return
		}
		h, err := decodeHeader(hdr)
		if err != nil {
			// The stream cannot be re-framed after a bad header.
			c.handleReadError(sess, err)
			return
		}
		payload := make([]byte, h.Size)
		if _, err := io.ReadFull(sess.conn, payload); err != nil {
			c.handleReadError(sess, err)
			return
		}

		c.packetsRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		if h.PacketID == PacketDeviceListUpdated {
			c.notifications.Add(1)
			select {
			case c.deviceListUpdated <- struct{}{}:
			default:
			}
			continue
		}

		select {
		case sess.responses <- packet{header: h, payload: payload}:
		default:
			c.packetsDropped.Add(1)
		}
	}
}

// handleReadError ends the session. Errors after a local close are expected.
func (c *Client) handleReadError(sess *session, err error) {
	if !sess.alive() || errors.Is(err, net.ErrClosed) {
		sess.fail(err)
		return
	}
	c.errorsTotal.Add(1)
	c.logError("read failed, connection lost", err)
	sess.fail(err)
	sess.conn.Close()
}

// current returns the live session or ErrNotConnected.
func (c *Client) current() (*session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return nil, ErrNotConnected
	}
	if !sess.alive() {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, sess.cause())
	}
	return sess, nil
}

// send writes one packet. Caller holds reqMu.
func (c *Client) send(ctx context.Context, sess *session, deviceIndex, packetID uint32, payload []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := sess.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err)
	}

	if _, err := sess.conn.Write(encodePacket(deviceIndex, packetID, payload)); err != nil {
		c.errorsTotal.Add(1)
		sess.fail(err)
		sess.conn.Close()
		return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
	}

	c.packetsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// exchange sends a request and waits for the reply carrying the same
// packet id and device index. Caller holds reqMu.
func (c *Client) exchange(ctx context.Context, sess *session, deviceIndex, packetID uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	// Drop replies to earlier requests that timed out.
	for drained := false; !drained; {
		select {
		case <-sess.responses:
			c.packetsDropped.Add(1)
		default:
			drained = true
		}
	}

	if err := c.send(ctx, sess, deviceIndex, packetID, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case p := <-sess.responses:
			if p.PacketID != packetID || p.DeviceIndex != deviceIndex {
				c.packetsDropped.Add(1)
				continue
			}
			return p.payload, nil
		case <-sess.done.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectionLost, sess.cause())
		case <-timer.C:
			return nil, fmt.Errorf("%w: packet %d for device %d after %s", ErrTimeout, packetID, deviceIndex, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// request performs one exchange on the live session.
func (c *Client) request(ctx context.Context, deviceIndex, packetID uint32, payload []byte) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, sess, deviceIndex, packetID, payload, c.cfg.RequestTimeout)
}

// write sends a packet that has no reply on the live session.
func (c *Client) write(ctx context.Context, deviceIndex, packetID uint32, payload []byte) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	sess, err := c.current()
	if err != nil {
		return err
	}
	return c.send(ctx, sess, deviceIndex, packetID, payload)
}

// Update re-reads every controller from the server and replaces the
// cached device list.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - []*Device: Copies of the freshly read devices, in controller order
//   - error: Connection or protocol error; the cache is left untouched
func (c *Client) Update(ctx context.Context) ([]*Device, error) {
	reply, err := c.request(ctx, 0, PacketRequestControllerCount, nil)
	if err != nil {
		return nil, fmt.Errorf("controller count: %w", err)
	}
	if len(reply) < 4 {
		return nil, fmt.Errorf("%w: controller count reply is %d bytes", ErrProtocol, len(reply))
	}
	count := binary.LittleEndian.Uint32(reply)

	c.mu.RLock()
	version := c.version
	c.mu.RUnlock()

	var req []byte
	if version > 0 {
		w := &writer{}
		w.u32(version)
		req = w.buf
	}

	devices := make([]*Device, 0, count)
	for i := range count {
		data, err := c.request(ctx, i, PacketRequestControllerData, req)
		if err != nil {
			return nil, fmt.Errorf("controller %d: %w", i, err)
		}
		d, err := parseDevice(int(i), data, version)
		if err != nil {
			c.errorsTotal.Add(1)
			return nil, err
		}
		devices = append(devices, d)
	}

	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()

	out := make([]*Device, len(devices))
	for i, d := range devices {
		out[i] = d.Clone()
	}
	return out, nil
}

// Devices returns copies of the devices read by the last Update.
func (c *Client) Devices() []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = d.Clone()
	}
	return out
}

// device returns the cached device (not a copy). Caller must not mutate it
// without holding mu.
func (c *Client) device(id int) (*Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id < 0 || id >= len(c.devices) {
		return nil, fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}
	return c.devices[id], nil
}

// SetDeviceColor sets every LED of a device to one color.
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Controller index
//   - col: Color to apply
//
// Returns:
//   - error: ErrDeviceNotFound, or a connection error
func (c *Client) SetDeviceColor(ctx context.Context, deviceID int, col Color) error {
	d, err := c.device(deviceID)
	if err != nil {
		return err
	}
	c.mu.RLock()
	n := max(len(d.Colors), len(d.LEDs))
	c.mu.RUnlock()
	if n == 0 {
		return nil
	}

	if err := c.write(ctx, uint32(deviceID), PacketUpdateLEDs, encodeDeviceColors(col, n)); err != nil {
		return err
	}

	c.mu.Lock()
	d.Colors = make([]Color, n)
	for i := range d.Colors {
		d.Colors[i] = col
	}
	c.mu.Unlock()
	return nil
}

// SetLEDColor sets the color of one LED.
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Controller index
//   - led: LED index within the device
//   - col: Color to apply
//
// Returns:
//   - error: ErrDeviceNotFound, ErrLEDNotFound, or a connection error
func (c *Client) SetLEDColor(ctx context.Context, deviceID, led int, col Color) error {
	d, err := c.device(deviceID)
	if err != nil {
		return err
	}
	c.mu.RLock()
	n := len(d.LEDs)
	c.mu.RUnlock()
	if led < 0 || led >= n {
		return fmt.Errorf("%w: device %d led %d", ErrLEDNotFound, deviceID, led)
	}

	if err := c.write(ctx, uint32(deviceID), PacketUpdateSingleLED, encodeSingleLED(led, col)); err != nil {
		return err
	}

	c.mu.Lock()
	if led < len(d.Colors) {
		d.Colors[led] = col
	}
	c.mu.Unlock()
	return nil
}

// SetMode activates the mode with the given name (case-insensitive).
//
// Parameters:
//   - ctx: Context for cancellation
//   - deviceID: Controller index
//   - name: Mode name as listed in Device.Modes
//
// Returns:
//   - error: ErrDeviceNotFound, ErrModeNotFound, or a connection error
func (c *Client) SetMode(ctx context.Context, deviceID int, name string) error {
	d, err := c.device(deviceID)
	if err != nil {
		return err
	}
	c.mu.RLock()
	mode, ok := d.FindMode(name)
	version := c.version
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q on device %d", ErrModeNotFound, name, deviceID)
	}

	if err := c.write(ctx, uint32(deviceID), PacketUpdateMode, encodeMode(mode, version)); err != nil {
		return err
	}

	c.mu.Lock()
	d.ActiveMode = mode.Index
	c.mu.Unlock()
	return nil
}

// DeviceListUpdated signals when the server reports that its controller
// list changed. The channel holds at most one pending notification.
func (c *Client) DeviceListUpdated() <-chan struct{} {
	return c.deviceListUpdated
}

// ProtocolVersion returns the version negotiated by the last Connect.
func (c *Client) ProtocolVersion() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while the current connection is alive.
func (c *Client) IsConnected() bool {
	_, err := c.current()
	return err == nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	devices := len(c.devices)
	version := c.version
	c.mu.RUnlock()

	return Stats{
		PacketsTx:       c.packetsTx.Load(),
		PacketsRx:       c.packetsRx.Load(),
		PacketsDropped:  c.packetsDropped.Load(),
		Notifications:   c.notifications.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ConnectsTotal:   c.connectsTotal.Load(),
		ProtocolVersion: version,
		Devices:         devices,
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
	}
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck(_ context.Context) error {
	_, err := c.current()
	return err
}

// isClosed returns true if Close has been called.
func (c *Client) isClosed() bool {
	select {
	case <-c.closed.Done():
		return true
	default:
		return false
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

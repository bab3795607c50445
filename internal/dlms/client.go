// Package dlms implements a DLMS/COSEM session client over an HDLC-framed
// TCP transport: the SNRM/UA link handshake, AARQ/AARE association, and
// GET.request/response exchange for COSEM Register (class 3) attributes.
package dlms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dlmsbridge/bridge/internal/hdlc"
	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/obis"
)

// acseApplicationContext is the ACSE application-context OID for DLMS
// logical-name referencing (2.16.756.5.8.1.1) carried in the AARQ, encoded
// per ISO 8825 BER rules.
var acseApplicationContext = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x01}

// Config parameterizes a single DLMS session.
type Config struct {
	Host string
	Port int

	ClientSAP      int
	ServerLogical  int
	ServerPhysical int
	Password       []byte // LLS password, 1..16 bytes

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxInfoLength  int // 0 disables the HDLC parameter block in SNRM
}

// Client owns one TCP socket and its HDLC/DLMS session state. It is
// single-caller: concurrent operations on the same Client are forbidden and
// must be serialized by the caller (the worker's sequential loop).
type Client struct {
	cfg  Config
	conn net.Conn

	ns, nr     int
	invokeID   byte
	associated bool

	clientAddr []byte
	serverAddr []byte

	rxBuf []byte
}

// New constructs a Client bound to cfg. Connect must be called before use.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the meter, drains any peer debris, performs the HDLC SNRM/UA
// handshake, then the AARQ/AARE association. N(S)/N(R) are zeroed and
// invoke-ID set to 1 after UA; the AARQ/AARE exchange then advances both
// sequence counters to 1.
func (c *Client) Connect(ctx context.Context) error {
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dlms: dial %s: %w", addr, err)
	}
	c.conn = conn
	c.rxBuf = nil

	c.drainPreexisting()

	c.clientAddr = hdlc.EncodeAddress(uint32(c.cfg.ClientSAP))
	serverVal, err := hdlc.CombineServerAddress(c.cfg.ServerLogical, c.cfg.ServerPhysical)
	if err != nil {
		c.closeQuiet()
		return fmt.Errorf("dlms: server address: %w", err)
	}
	c.serverAddr = hdlc.EncodeAddress(serverVal)

	if err := c.handshake(ctx); err != nil {
		c.closeQuiet()
		return err
	}

	c.ns, c.nr = 0, 0
	c.invokeID = 1

	if err := c.associate(ctx); err != nil {
		c.closeQuiet()
		return err
	}

	logger.Info("dlms session established",
		"host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// drainPreexisting performs a short non-blocking read to discard any bytes
// the peer already queued from a prior, abandoned session.
func (c *Client) drainPreexisting() {
	_ = c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			logger.Debug("drained stale bytes", "count", n)
		}
		if err != nil {
			break
		}
	}
	_ = c.conn.SetReadDeadline(time.Time{})
}

func (c *Client) handshake(ctx context.Context) error {
	var info []byte
	if c.cfg.MaxInfoLength > 0 {
		info = snrmParameterBlock(c.cfg.MaxInfoLength)
	}

	frame := hdlc.Encode(hdlc.ControlSNRM, c.serverAddr, c.clientAddr, info)
	if err := c.write(frame); err != nil {
		return err
	}

	f, err := c.readFrame(ctx)
	if err != nil {
		return fmt.Errorf("dlms: snrm/ua handshake: %w", err)
	}
	if f.Control != hdlc.ControlUA {
		return fmt.Errorf("dlms: expected UA, got control 0x%02X: %w", f.Control, ErrBadHandshake)
	}
	return nil
}

// snrmParameterBlock builds the optional HDLC negotiation info field:
// max-info-field-length TX/RX and window sizes TX/RX=1.
func snrmParameterBlock(maxInfo int) []byte {
	return []byte{
		0x81, 0x80, 0x14, // format identifier, group id, group length
		0x05, 0x02, byte(maxInfo >> 8), byte(maxInfo),
		0x06, 0x02, byte(maxInfo >> 8), byte(maxInfo),
		0x07, 0x04, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x04, 0x00, 0x00, 0x00, 0x01,
	}
}

func (c *Client) associate(ctx context.Context) error {
	aarq := buildAARQ(c.cfg.Password)
	if err := c.sendI(ctx, aarq); err != nil {
		return fmt.Errorf("dlms: aarq: %w", err)
	}

	payload, err := c.recvI(ctx)
	if err != nil {
		return fmt.Errorf("dlms: aare: %w", err)
	}

	result, ok := parseAssociationResult(payload)
	if !ok {
		return fmt.Errorf("dlms: aare missing association-result: %w", ErrBadHandshake)
	}
	if result != 0x00 {
		return &AssociationRejectedError{Code: result}
	}

	c.associated = true
	return nil
}

// buildAARQ assembles a minimal AARQ APDU: application context
// 2.16.756.5.8.1.1, LLS authentication value, empty user-information.
func buildAARQ(password []byte) []byte {
	out := []byte{0x60} // AARQ tag
	body := []byte{}
	body = append(body, 0xA1, byte(len(acseApplicationContext)+2), 0x06, byte(len(acseApplicationContext)))
	body = append(body, acseApplicationContext...)
	// sender-ACSE-requirements + authentication-mechanism-name (LLS = 1)
	body = append(body, 0x8A, 0x02, 0x07, 0x80)
	body = append(body, 0x8B, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x02, 0x01)
	// authentication-value: graphic-string holding the password
	body = append(body, 0xAC, byte(len(password)+2), 0x80, byte(len(password)))
	body = append(body, password...)

	out = append(out, byte(len(body)))
	out = append(out, body...)
	return out
}

// parseAssociationResult scans an AARE APDU for the association-result TLV
// `A2 03 02 01 rr` per spec.md §4.2.
func parseAssociationResult(aare []byte) (byte, bool) {
	for i := 0; i+4 < len(aare); i++ {
		if aare[i] == 0xA2 && aare[i+1] == 0x03 && aare[i+2] == 0x02 && aare[i+3] == 0x01 {
			return aare[i+4], true
		}
	}
	return 0, false
}

// GetRegister reads one attribute of a COSEM Register (class 3) object
// addressed by code, returning the decoded value.
func (c *Client) GetRegister(ctx context.Context, code obis.Code, attr byte) (Value, error) {
	if !c.associated {
		return Value{}, ErrConnectionClosed
	}

	invoke := c.invokeID
	ln := code.Bytes()
	apdu := []byte{0xC0, 0x01, invoke, 0x00, 0x03}
	apdu = append(apdu, ln[:]...)
	apdu = append(apdu, attr, 0x00)

	if err := c.sendI(ctx, apdu); err != nil {
		return Value{}, fmt.Errorf("dlms: get.request: %w", err)
	}

	resp, err := c.recvI(ctx)
	if err != nil {
		return Value{}, fmt.Errorf("dlms: get.response: %w", err)
	}

	c.invokeID++
	if c.invokeID == 0 {
		c.invokeID = 1
	}

	return parseGetResponse(invoke, resp)
}

// parseGetResponse expects `C4 01 {invoke} {result} ...`; on result=0 the
// data payload follows.
func parseGetResponse(wantInvoke byte, apdu []byte) (Value, error) {
	if len(apdu) < 4 || apdu[0] != 0xC4 || apdu[1] != 0x01 {
		return Value{}, fmt.Errorf("dlms: malformed get.response: %w", ErrUnsupportedDtype)
	}
	gotInvoke := apdu[2]
	if gotInvoke != wantInvoke {
		return Value{}, fmt.Errorf("dlms: invoke-id %d != %d: %w", gotInvoke, wantInvoke, ErrInvokeIDMismatch)
	}
	result := apdu[3]
	if result != 0x00 {
		return Value{}, &GetErrorError{Code: result}
	}
	if len(apdu) < 5 {
		return Value{}, fmt.Errorf("dlms: get.response missing data: %w", ErrUnsupportedDtype)
	}
	v, _, err := Decode(apdu[4:])
	return v, err
}

// sendI wraps body in an I-frame using the current N(S) and advances it
// immediately after the write, per the session invariant that N(S) must not
// be observed stale by a concurrent cancellation.
func (c *Client) sendI(ctx context.Context, body []byte) error {
	control := hdlc.IControl(c.ns, c.nr, true)
	frame := hdlc.Encode(control, c.serverAddr, c.clientAddr, body)
	if err := c.write(frame); err != nil {
		return err
	}
	c.ns = (c.ns + 1) % 8
	return nil
}

// recvI reads the next I-frame, validates its N(R) against the expected
// post-increment N(S), and updates the local N(R) from the peer's N(S).
func (c *Client) recvI(ctx context.Context) ([]byte, error) {
	f, err := c.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	ctrl := hdlc.Control(f.Control)
	if ctrl.Kind() != hdlc.IFrame {
		return nil, fmt.Errorf("dlms: expected I-frame, got %s: %w", ctrl.Kind(), ErrSequenceMismatch)
	}
	if ctrl.NR() != c.ns {
		return nil, fmt.Errorf("dlms: peer N(R)=%d, want %d: %w", ctrl.NR(), c.ns, ErrSequenceMismatch)
	}
	c.nr = (ctrl.NS() + 1) % 8
	return f.Info, nil
}

// Disconnect emits DISC and waits briefly for UA, ignoring failures, then
// closes the TCP connection.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	frame := hdlc.Encode(hdlc.ControlDISC, c.serverAddr, c.clientAddr, nil)
	_ = c.write(frame)
	_, _ = c.readFrame(ctx)
	c.associated = false
	return c.closeQuiet()
}

// ForceClose sets SO_LINGER to force a TCP RST on close, clearing any
// server-side HDLC session state that a clean FIN would leave behind. Used
// by the robust wrapper before a reconnect attempt.
func (c *Client) ForceClose() error {
	if c.conn == nil {
		return nil
	}
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	c.associated = false
	return c.closeQuiet()
}

func (c *Client) closeQuiet() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) write(frame []byte) error {
	if c.conn == nil {
		return ErrConnectionClosed
	}
	_, err := c.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("dlms: write: %w", ErrConnectionClosed)
	}
	return nil
}

// readFrame reads from the socket until a complete flag-delimited frame is
// available in rxBuf, decodes it, and leaves any surplus bytes buffered for
// the next call.
func (c *Client) readFrame(ctx context.Context) (hdlc.Frame, error) {
	readTimeout := c.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}

	for {
		if body, rest, ok := hdlc.Split(c.rxBuf); ok {
			c.rxBuf = rest
			return hdlc.Decode(body)
		}

		if dl, hasDeadline := ctx.Deadline(); hasDeadline {
			_ = c.conn.SetReadDeadline(dl)
		} else {
			_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		buf := make([]byte, 512)
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.rxBuf = append(c.rxBuf, buf[:n]...)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return hdlc.Frame{}, ErrTimeout
			}
			return hdlc.Frame{}, fmt.Errorf("dlms: read: %w", ErrConnectionClosed)
		}
	}
}

// isHDLCFrameError classifies errors bubbled up from internal/hdlc as
// belonging to the watchdog's HDLC category.
func isHDLCFrameError(err error) bool {
	return errors.Is(err, hdlc.ErrInvalidFrameBoundary) ||
		errors.Is(err, hdlc.ErrAddressNotTerminated) ||
		errors.Is(err, hdlc.ErrTooShort) ||
		errors.Is(err, hdlc.ErrBadHCS) ||
		errors.Is(err, hdlc.ErrBadFCS) ||
		errors.Is(err, hdlc.ErrUnsupportedControl)
}

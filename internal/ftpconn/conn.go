// Package ftpconn speaks the FTP control and data protocols for a single
// connection: reply parsing, command/response exchange, explicit AUTH TLS
// upgrade, passive data connections and streaming transfers.
//
// A Conn is not safe for concurrent use. FTP allows one outstanding command
// per control connection; callers serialize access themselves. The one
// exception is Abort, which may be called from any goroutine.
package ftpconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gonzalop/ftpsession/internal/ratelimit"
)

// Conn is an FTP control connection together with the state needed to open
// data connections for it.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	host    string
	timeout time.Duration
	dialer  *net.Dialer
	logger  *zap.Logger

	// tlsConfig is non-nil once the control connection has been upgraded.
	// Data connections are protected with the same configuration.
	tlsConfig *tls.Config

	// passive is false until SetPassive selects the data connection mode.
	passive     bool
	disableEPSV bool

	limiter     *ratelimit.Limiter
	currentType string

	// raw is the TCP control connection under any TLS layer. It and the
	// fields below are what Abort touches.
	raw     net.Conn
	abortMu sync.Mutex
	data    net.Conn
	aborted bool
}

// errAborted is returned when a data connection is requested after Abort.
var errAborted = errors.New("ftp: connection aborted")

// Option configures a Conn at dial time.
type Option func(*Conn)

// WithTimeout bounds the dial and every subsequent read or write on the
// control and data connections. Zero disables deadlines.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithLogger sets the logger used for protocol tracing at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer sets the dialer used for the control and data connections.
func WithDialer(d *net.Dialer) Option {
	return func(c *Conn) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithBandwidthLimit caps data connection throughput in bytes per second.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Conn) {
		c.limiter = ratelimit.New(bytesPerSecond)
	}
}

// Dial opens the control connection to addr ("host:port") and consumes the
// server greeting. The connection is plaintext until UpgradeTLS is called.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	c := &Conn{
		host:    host,
		timeout: 30 * time.Second,
		dialer:  &net.Dialer{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer.Timeout == 0 {
		c.dialer.Timeout = c.timeout
	}

	c.logger.Debug("dialing ftp server", zap.String("addr", addr))
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conn = conn
	c.raw = conn
	c.reader = bufio.NewReader(conn)

	greeting, err := c.readReply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	if greeting.Code != 220 {
		conn.Close()
		return nil, newProtocolError("CONNECT", greeting)
	}
	return c, nil
}

// UpgradeTLS negotiates explicit FTPS on the open control connection:
// AUTH TLS, the TLS handshake, then PBSZ 0 and PROT P so that every later
// data connection is protected as well.
func (c *Conn) UpgradeTLS(config *tls.Config) error {
	if config == nil {
		config = &tls.Config{}
	}
	if config.ClientSessionCache == nil {
		// Servers such as vsftpd demand that data connections resume the
		// control connection's TLS session.
		config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}

	if _, err := c.expect(234, "AUTH", "TLS"); err != nil {
		return err
	}

	c.logger.Debug("starting tls handshake", zap.String("host", c.host))
	tlsConn := tls.Client(c.conn, config)
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("set handshake deadline: %w", err)
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	state := tlsConn.ConnectionState()
	c.logger.Debug("tls handshake complete",
		zap.String("version", tls.VersionName(state.Version)),
		zap.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
	)

	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.tlsConfig = config

	if _, err := c.expect(200, "PBSZ", "0"); err != nil {
		return err
	}
	if _, err := c.expect(200, "PROT", "P"); err != nil {
		return err
	}
	return nil
}

// Secure reports whether the control connection has been upgraded to TLS.
func (c *Conn) Secure() bool {
	return c.tlsConfig != nil
}

// Login sends USER and, when the server asks for it, PASS.
func (c *Conn) Login(user, password string) error {
	resp, err := c.cmd("USER", user)
	if err != nil {
		return err
	}
	switch resp.Code {
	case 230:
		return nil
	case 331, 332:
	default:
		return newProtocolError("USER", resp)
	}

	_, err = c.expect(230, "PASS", password)
	return err
}

// SetPassive selects passive data connections. With extended set the client
// tries EPSV first and falls back to PASV when the server does not
// implement it; otherwise PASV is always used. Active mode is not supported.
func (c *Conn) SetPassive(extended bool) {
	c.passive = true
	c.disableEPSV = !extended
}

// Type sets the representation type ("I" for binary, "A" for ASCII),
// skipping the command when the type is already in effect.
func (c *Conn) Type(t string) error {
	if c.currentType == t {
		return nil
	}
	if _, err := c.expect(200, "TYPE", t); err != nil {
		return err
	}
	c.currentType = t
	return nil
}

// Quit sends QUIT and closes the control connection. The QUIT reply is not
// awaited past the configured timeout and its failure is ignored.
func (c *Conn) Quit() error {
	if c.conn == nil {
		return nil
	}
	_, _ = c.cmd("QUIT")
	return c.Close()
}

// Close closes the control connection without saying goodbye.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Abort closes the control connection and any open data connection without
// waiting for the goroutine using the Conn. Blocked reads and writes fail
// at once and every later command fails. Abort is safe to call
// concurrently with other methods and more than once.
func (c *Conn) Abort() {
	c.abortMu.Lock()
	defer c.abortMu.Unlock()
	if c.aborted {
		return
	}
	c.aborted = true
	if c.data != nil {
		_ = c.data.Close()
	}
	if c.raw != nil {
		_ = c.raw.Close()
	}
	c.logger.Debug("connection aborted", zap.String("host", c.host))
}

// trackData records raw as the open data connection so Abort can reach it.
// It fails when the Conn was already aborted.
func (c *Conn) trackData(raw net.Conn) error {
	c.abortMu.Lock()
	defer c.abortMu.Unlock()
	if c.aborted {
		return errAborted
	}
	c.data = raw
	return nil
}

func (c *Conn) untrackData() {
	c.abortMu.Lock()
	c.data = nil
	c.abortMu.Unlock()
}

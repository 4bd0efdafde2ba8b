package ftpconn

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrModeNotSelected is returned by data transfers attempted before
// SetPassive.
var ErrModeNotSelected = errors.New("ftp: data connection mode not selected")

var (
	// 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvPattern = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

	// 229 Entering Extended Passive Mode (|||port|)
	epsvPattern = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV extracts "host:port" from a 227 reply.
func parsePASV(reply string) (string, error) {
	m := pasvPattern.FindStringSubmatch(reply)
	if len(m) != 7 {
		return "", fmt.Errorf("malformed PASV reply: %s", reply)
	}

	var n [6]int
	for i := range n {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v < 0 || v > 255 {
			return "", fmt.Errorf("malformed PASV field %q", m[i+1])
		}
		n[i] = v
	}

	host := fmt.Sprintf("%d.%d.%d.%d", n[0], n[1], n[2], n[3])
	port := n[4]<<8 | n[5]
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV extracts the port from a 229 reply.
func parseEPSV(reply string) (string, error) {
	m := epsvPattern.FindStringSubmatch(reply)
	if len(m) != 2 {
		return "", fmt.Errorf("malformed EPSV reply: %s", reply)
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("malformed EPSV port %q", m[1])
	}
	return m[1], nil
}

// pasvTarget substitutes the control host when the server advertises an
// unroutable 0.0.0.0 address.
func pasvTarget(addr, controlHost string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return addr
}

// dataConn is one data connection. Every Read and Write pushes the
// deadline forward by the configured timeout.
type dataConn struct {
	net.Conn
	timeout time.Duration
}

func (d *dataConn) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.Conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Read(p)
}

func (d *dataConn) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.Conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Write(p)
}

// Close finishes the TLS handshake if no byte ever crossed the connection
// (an empty upload), then closes it. Only a failed handshake is reported;
// the server's completion reply decides whether the transfer succeeded.
func (d *dataConn) Close() error {
	if tc, ok := d.Conn.(*tls.Conn); ok {
		if d.timeout > 0 {
			_ = tc.SetDeadline(time.Now().Add(d.timeout))
		}
		if err := tc.Handshake(); err != nil {
			tc.Close()
			return fmt.Errorf("data connection tls handshake: %w", err)
		}
	}
	_ = d.Conn.Close()
	return nil
}

// openDataConn negotiates a passive data connection and dials it.
//
// The TLS handshake on a protected data connection is left to the first
// Read or Write: the server only accepts the connection once it has seen
// the transfer command.
func (c *Conn) openDataConn() (*dataConn, error) {
	if !c.passive {
		return nil, ErrModeNotSelected
	}

	var addr string
	if !c.disableEPSV {
		resp, err := c.cmd("EPSV")
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Positive():
			if port, perr := parseEPSV(resp.String()); perr == nil {
				addr = net.JoinHostPort(c.host, port)
			}
		case resp.Code == 500 || resp.Code == 502:
			c.logger.Debug("server lacks EPSV, falling back to PASV")
			c.disableEPSV = true
		}
	}

	if addr == "" {
		resp, err := c.expectPositive("PASV")
		if err != nil {
			return nil, err
		}
		target, err := parsePASV(resp.String())
		if err != nil {
			return nil, err
		}
		addr = pasvTarget(target, c.host)
	}

	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial data connection %s: %w", addr, err)
	}
	if err := c.trackData(conn); err != nil {
		conn.Close()
		return nil, err
	}
	c.logger.Debug("data connection open", zap.String("addr", addr))

	if c.tlsConfig != nil {
		conn = tls.Client(conn, c.tlsConfig)
	}
	return &dataConn{Conn: conn, timeout: c.timeout}, nil
}

// transferCmd opens a data connection and issues a command that uses it.
// The server must answer with a 1xx preliminary reply; the caller then
// drains or fills the connection and calls finishTransfer.
func (c *Conn) transferCmd(command string, args ...string) (*dataConn, error) {
	dc, err := c.openDataConn()
	if err != nil {
		return nil, err
	}

	resp, err := c.cmd(command, args...)
	if err != nil {
		c.untrackData()
		dc.Conn.Close()
		return nil, err
	}
	if !resp.Preliminary() {
		c.untrackData()
		dc.Conn.Close()
		return nil, newProtocolError(command, resp)
	}
	return dc, nil
}

// finishTransfer closes the data connection and reads the completion reply.
func (c *Conn) finishTransfer(command string, dc *dataConn) error {
	closeErr := dc.Close()
	c.untrackData()

	resp, err := c.readReply()
	if err != nil {
		return fmt.Errorf("read %s completion: %w", command, err)
	}
	if !resp.Positive() {
		return newProtocolError(command, resp)
	}
	if closeErr != nil {
		return closeErr
	}
	c.logger.Debug("data connection closed", zap.String("cmd", command), zap.Int("code", resp.Code))
	return nil
}

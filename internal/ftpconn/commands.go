package ftpconn

import (
	"strconv"
	"strings"
)

// CurrentDir returns the working directory reported by PWD.
func (c *Conn) CurrentDir() (string, error) {
	resp, err := c.expect(257, "PWD")
	if err != nil {
		return "", err
	}
	return parsePWD(resp.Message), nil
}

// parsePWD extracts the quoted path of a 257 reply. Embedded quotes are
// doubled on the wire: `"/a ""b"" c" is current directory`.
func parsePWD(msg string) string {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return strings.TrimSpace(msg)
	}

	var b strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			b.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String()
	}
	return b.String()
}

// ChangeDir issues CWD.
func (c *Conn) ChangeDir(path string) error {
	_, err := c.expectPositive("CWD", path)
	return err
}

// MakeDir issues MKD. Any 2xx reply is accepted; RFC 959 specifies 257
// but some servers answer 250.
func (c *Conn) MakeDir(path string) error {
	_, err := c.expectPositive("MKD", path)
	return err
}

// RemoveDir issues RMD. The directory must be empty on most servers.
func (c *Conn) RemoveDir(path string) error {
	_, err := c.expectPositive("RMD", path)
	return err
}

// Delete issues DELE.
func (c *Conn) Delete(path string) error {
	_, err := c.expectPositive("DELE", path)
	return err
}

// Rename issues RNFR followed by RNTO.
func (c *Conn) Rename(from, to string) error {
	if _, err := c.expect(350, "RNFR", from); err != nil {
		return err
	}
	_, err := c.expectPositive("RNTO", to)
	return err
}

// Size issues SIZE in binary mode and returns the reported byte count.
func (c *Conn) Size(path string) (int64, error) {
	if err := c.Type("I"); err != nil {
		return 0, err
	}
	resp, err := c.expect(213, "SIZE", path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if err != nil {
		return 0, &ProtocolError{Command: "SIZE", Response: resp.Message, Code: resp.Code}
	}
	return n, nil
}

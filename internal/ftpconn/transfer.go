package ftpconn

import (
	"bufio"
	"io"
	"strings"

	"github.com/gonzalop/ftpsession/internal/ratelimit"
)

// List issues LIST for path (the working directory when empty) and returns
// the raw listing lines with line terminators stripped. Blank lines are
// dropped; no other interpretation is applied.
func (c *Conn) List(path string) ([]string, error) {
	if err := c.Type("A"); err != nil {
		return nil, err
	}

	var args []string
	if path != "" {
		args = append(args, path)
	}
	dc, err := c.transferCmd("LIST", args...)
	if err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(dc)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	scanErr := scanner.Err()

	if err := c.finishTransfer("LIST", dc); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return lines, nil
}

// Retrieve issues RETR in binary mode and returns the data stream. The
// caller must Close the stream before issuing another command; Close reads
// the server's completion reply and reports a failed transfer.
func (c *Conn) Retrieve(path string) (io.ReadCloser, error) {
	if err := c.Type("I"); err != nil {
		return nil, err
	}
	dc, err := c.transferCmd("RETR", path)
	if err != nil {
		return nil, err
	}
	return &retrieval{c: c, dc: dc, r: ratelimit.NewReader(dc, c.limiter)}, nil
}

type retrieval struct {
	c      *Conn
	dc     *dataConn
	r      io.Reader
	closed bool
}

func (r *retrieval) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *retrieval) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.c.finishTransfer("RETR", r.dc)
}

// Store issues STOR in binary mode and copies src to the data connection.
// It returns the number of bytes written.
func (c *Conn) Store(path string, src io.Reader) (int64, error) {
	if err := c.Type("I"); err != nil {
		return 0, err
	}
	dc, err := c.transferCmd("STOR", path)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(ratelimit.NewWriter(dc, c.limiter), src)
	if err := c.finishTransfer("STOR", dc); err != nil {
		return n, err
	}
	if copyErr != nil {
		return n, copyErr
	}
	return n, nil
}

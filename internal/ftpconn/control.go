package ftpconn

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Response is one complete reply read from the control connection.
type Response struct {
	// Code is the three-digit reply code (e.g. 226, 550).
	Code int

	// Message is the reply text. For multi-line replies the text of every
	// line is joined with "\n".
	Message string

	// Lines holds the raw reply lines, code prefixes included.
	Lines []string
}

// Positive reports whether the reply is a positive completion (2xx).
func (r *Response) Positive() bool {
	return r.Code >= 200 && r.Code < 300
}

// Preliminary reports whether the reply is a positive preliminary (1xx).
func (r *Response) Preliminary() bool {
	return r.Code >= 100 && r.Code < 200
}

// String returns the raw reply.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readResponse reads one reply. A reply ends on the first line that starts
// with the reply code followed by a space:
//
//	"150-Opening data connection\r\n"
//	"150 for file.bin (1024 bytes)\r\n"
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 {
		return nil, fmt.Errorf("malformed reply line: %q", line)
	}

	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return nil, fmt.Errorf("malformed reply code: %q", line[:3])
	}

	switch line[3] {
	case ' ':
		return &Response{Code: code, Message: line[4:], Lines: []string{line}}, nil
	case '-':
	default:
		return nil, fmt.Errorf("malformed reply separator: %q", line)
	}

	lines := []string{line}
	if err := readContinuation(r, line[:3], &lines); err != nil {
		return nil, err
	}

	text := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) >= 4 && l[:3] == line[:3] && (l[3] == ' ' || l[3] == '-') {
			l = l[4:]
		}
		text = append(text, strings.TrimLeft(l, " "))
	}
	return &Response{Code: code, Message: strings.Join(text, "\n"), Lines: lines}, nil
}

func readContinuation(r *bufio.Reader, code string, lines *[]string) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("connection closed inside multi-line reply")
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		// RFC 2389 feature lines start with a space.
		if strings.HasPrefix(line, " ") {
			*lines = append(*lines, line)
			continue
		}
		if len(line) < 4 || line[:3] != code {
			*lines = append(*lines, line)
			continue
		}

		*lines = append(*lines, line)
		if line[3] == ' ' {
			return nil
		}
	}
}

// cmd writes one command line and reads its reply.
func (c *Conn) cmd(command string, args ...string) (*Response, error) {
	line := command
	if len(args) > 0 {
		line = command + " " + strings.Join(args, " ")
	}

	logged := line
	if command == "PASS" {
		logged = "PASS ***"
	}
	c.logger.Debug("ftp command", zap.String("cmd", logged))

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", line); err != nil {
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	resp, err := c.readReply()
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", command, err)
	}
	return resp, nil
}

func (c *Conn) readReply() (*Response, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	resp, err := readResponse(c.reader)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("ftp reply", zap.Int("code", resp.Code), zap.String("message", resp.Message))
	return resp, nil
}

// expect sends a command and requires the exact reply code.
func (c *Conn) expect(code int, command string, args ...string) (*Response, error) {
	resp, err := c.cmd(command, args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != code {
		return resp, newProtocolError(command, resp)
	}
	return resp, nil
}

// expectPositive sends a command and requires a 2xx reply.
func (c *Conn) expectPositive(command string, args ...string) (*Response, error) {
	resp, err := c.cmd(command, args...)
	if err != nil {
		return nil, err
	}
	if !resp.Positive() {
		return resp, newProtocolError(command, resp)
	}
	return resp, nil
}

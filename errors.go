package ftpsession

import (
	"errors"
	"fmt"

	"github.com/gonzalop/ftpsession/internal/ftpconn"
)

var (
	// ErrNotConnected is returned by every operation that needs a session
	// when none is open.
	ErrNotConnected = errors.New("ftpsession: not connected")

	// ErrAlreadyConnected is returned by Connect when a session is open.
	// Disconnect first to switch servers.
	ErrAlreadyConnected = errors.New("ftpsession: already connected")
)

// ConnectionError reports a transport failure: the server was unreachable,
// the greeting never arrived, or the connection dropped during login.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TLSError reports a failed explicit TLS upgrade: AUTH TLS refused, the
// handshake failed (including an invalid handshake signature), or the data
// protection commands were rejected.
type TLSError struct {
	Host string
	Err  error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls negotiation with %s failed: %v", e.Host, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login as %q rejected: %v", e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// OperationError reports a command the server refused, or one that failed
// on the wire, for the simple verbs (CWD, PWD, LIST, DELE, RMD, RNFR/RNTO,
// MKD).
type OperationError struct {
	Op   string
	Path string
	Err  error
}

func (e *OperationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// ServerMessage returns the server's reply text verbatim when the server
// refused the command, otherwise the cause's message.
func (e *OperationError) ServerMessage() string {
	var perr *ftpconn.ProtocolError
	if errors.As(e.Err, &perr) {
		return perr.Response
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// TransferError reports an I/O or protocol fault while moving file data.
// After a TransferError the data channel state is undefined; reconnecting
// is the reliable recovery.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ReplyCode returns the FTP reply code carried by err, or 0 when err is not
// (and does not wrap) a server reply.
func ReplyCode(err error) int {
	var perr *ftpconn.ProtocolError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return 0
}

package ftpconn

import "fmt"

// ProtocolError is returned when the server answers a command with a reply
// code the caller did not expect. Response holds the server text verbatim.
type ProtocolError struct {
	// Command is the verb that was sent, e.g. "DELE" or "AUTH TLS".
	Command string

	// Response is the reply text without the leading code.
	Response string

	// Code is the three-digit reply code.
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %d %s", e.Command, e.Code, e.Response)
}

// Temporary reports whether the reply is a transient negative completion
// (4xx). Callers that want to retry can reissue the command.
func (e *ProtocolError) Temporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// Permanent reports whether the reply is a permanent negative completion (5xx).
func (e *ProtocolError) Permanent() bool {
	return e.Code >= 500 && e.Code < 600
}

func newProtocolError(command string, resp *Response) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Response: resp.Message,
		Code:     resp.Code,
	}
}

package ftpsession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gonzalop/ftpsession/internal/ftpconn"
)

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	ConnectedPlain
	ConnectedSecure
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ConnectedPlain:
		return "connected (plain)"
	case ConnectedSecure:
		return "connected (secure)"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns at most one FTP control connection.
//
// Every method holds the session lock for its whole duration, transfers
// included, so operations never interleave on the wire. Disconnect is the
// exception: when another operation holds the lock it tears the
// connections down first, so that operation fails instead of running to
// completion. The server's
// working directory is part of the session state and is not cached here:
// relative paths are resolved by the server against whatever directory the
// last CWD selected.
type Session struct {
	mu    sync.Mutex
	conn  *ftpconn.Conn
	state State
	host  string

	// live mirrors conn for Disconnect, which reads it without s.mu.
	live atomic.Pointer[ftpconn.Conn]

	logger      *zap.Logger
	timeout     time.Duration
	reporter    Reporter
	trust       TrustPolicy
	bandwidth   int64
	disableEPSV bool
	dialer      *net.Dialer
}

// New returns a disconnected Session.
func New(opts ...Option) (*Session, error) {
	s := &Session{
		logger:   zap.NewNop(),
		timeout:  30 * time.Second,
		reporter: nopReporter{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether a plain or secure session is open.
func (s *Session) IsConnected() bool {
	return s.State() != Disconnected
}

// Connect opens the control connection described by cfg, upgrades it with
// AUTH TLS when cfg.UseTLS is set, logs in and selects passive mode.
//
// ctx bounds the dial only. Connect fails with ErrAlreadyConnected when a
// session is open, and otherwise with a *ConnectionError, *TLSError or
// *AuthError describing which stage failed. On failure the session stays
// disconnected.
func (s *Session) Connect(ctx context.Context, cfg ConnectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Disconnected {
		return ErrAlreadyConnected
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid connection config: %w", err)
	}

	addr := cfg.Addr()
	opts := []ftpconn.Option{
		ftpconn.WithTimeout(s.timeout),
		ftpconn.WithLogger(s.logger.Named("ftpconn")),
		ftpconn.WithBandwidthLimit(s.bandwidth),
	}
	if s.dialer != nil {
		opts = append(opts, ftpconn.WithDialer(s.dialer))
	}

	conn, err := ftpconn.Dial(ctx, addr, opts...)
	if err != nil {
		return &ConnectionError{Addr: addr, Err: err}
	}

	state := ConnectedPlain
	if cfg.UseTLS {
		if err := conn.UpgradeTLS(s.trust.tlsConfig(cfg.Host)); err != nil {
			conn.Close()
			return &TLSError{Host: cfg.Host, Err: err}
		}
		state = ConnectedSecure
	}

	if err := conn.Login(cfg.Username, cfg.password()); err != nil {
		conn.Close()
		var perr *ftpconn.ProtocolError
		if errors.As(err, &perr) {
			return &AuthError{User: cfg.Username, Err: err}
		}
		return &ConnectionError{Addr: addr, Err: err}
	}
	conn.SetPassive(!s.disableEPSV)

	s.conn = conn
	s.live.Store(conn)
	s.state = state
	s.host = cfg.Host
	s.logger.Info("connected",
		zap.String("addr", addr),
		zap.String("user", cfg.Username),
		zap.Bool("tls", cfg.UseTLS),
	)
	return nil
}

// Disconnect sends QUIT, closes the connection and returns the session to
// Disconnected. Errors while saying goodbye are ignored. Disconnect fails
// with ErrNotConnected when no session is open.
//
// When another operation is in flight Disconnect aborts it: the control
// and data connections are closed underneath it, it fails (a transfer with
// a *TransferError), and Disconnect completes once it has returned.
func (s *Session) Disconnect() error {
	if !s.mu.TryLock() {
		if c := s.live.Load(); c != nil {
			s.logger.Info("aborting in-flight operation")
			c.Abort()
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return ErrNotConnected
	}
	if err := s.conn.Quit(); err != nil {
		s.logger.Debug("quit failed", zap.Error(err))
	}
	s.logger.Info("disconnected", zap.String("host", s.host), zap.Stringer("was", s.state))

	s.conn = nil
	s.live.Store(nil)
	s.state = Disconnected
	s.host = ""
	return nil
}

// connected is called with s.mu held.
func (s *Session) connected() error {
	if s.state == Disconnected {
		return ErrNotConnected
	}
	return nil
}

// ChangeDirectory changes the server's working directory.
func (s *Session) ChangeDirectory(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return err
	}
	if err := s.conn.ChangeDir(path); err != nil {
		return &OperationError{Op: "change directory", Path: path, Err: err}
	}
	return nil
}

// WorkingDirectory returns the server's working directory.
func (s *Session) WorkingDirectory() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return "", err
	}
	dir, err := s.conn.CurrentDir()
	if err != nil {
		return "", &OperationError{Op: "print working directory", Err: err}
	}
	return dir, nil
}

// ListDirectory lists a directory, directories first and then by name
// ignoring case. With a non-empty path the session first changes into it,
// so the working directory stays there afterwards. Lines that do not parse
// as UNIX listing entries are skipped.
func (s *Session) ListDirectory(path string) ([]RemoteEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return nil, err
	}

	if path != "" {
		if err := s.conn.ChangeDir(path); err != nil {
			return nil, &OperationError{Op: "change directory", Path: path, Err: err}
		}
	}
	lines, err := s.conn.List("")
	if err != nil {
		return nil, &OperationError{Op: "list", Path: path, Err: err}
	}

	entries := parseListing(lines)
	SortEntries(entries)
	s.logger.Debug("listed directory",
		zap.String("path", path),
		zap.Int("lines", len(lines)),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

// Size returns the size the server reports for path, or 0 when the server
// cannot or will not say. Only ErrNotConnected is reported as an error.
func (s *Session) Size(path string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return 0, err
	}
	return s.probeSize(path), nil
}

func (s *Session) probeSize(path string) uint64 {
	n, err := s.conn.Size(path)
	if err != nil || n < 0 {
		s.logger.Debug("size unavailable", zap.String("path", path), zap.Error(err))
		return 0
	}
	return uint64(n)
}

// DeleteFile removes a file.
func (s *Session) DeleteFile(path string) error {
	return s.simple("delete file", path, func(c *ftpconn.Conn) error {
		return c.Delete(path)
	})
}

// DeleteDirectory removes a directory. Most servers refuse when it is not
// empty; nothing is removed recursively.
func (s *Session) DeleteDirectory(path string) error {
	return s.simple("delete directory", path, func(c *ftpconn.Conn) error {
		return c.RemoveDir(path)
	})
}

// Rename renames or moves oldPath to newPath.
func (s *Session) Rename(oldPath, newPath string) error {
	return s.simple("rename", oldPath, func(c *ftpconn.Conn) error {
		return c.Rename(oldPath, newPath)
	})
}

// CreateDirectory creates a directory.
func (s *Session) CreateDirectory(path string) error {
	return s.simple("create directory", path, func(c *ftpconn.Conn) error {
		return c.MakeDir(path)
	})
}

func (s *Session) simple(op, path string, fn func(*ftpconn.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return err
	}
	if err := fn(s.conn); err != nil {
		return &OperationError{Op: op, Path: path, Err: err}
	}
	s.logger.Debug(op, zap.String("path", path))
	return nil
}

// emit hands p to the reporter. A panicking reporter is logged and
// otherwise ignored.
func (s *Session) emit(p TransferProgress) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("progress reporter panicked",
				zap.String("transfer_id", p.TransferID),
				zap.Any("panic", r),
			)
		}
	}()
	s.reporter.Report(p)
}

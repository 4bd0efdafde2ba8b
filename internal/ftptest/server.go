// Package ftptest runs an in-process FTP server for tests.
//
// The server speaks enough of RFC 959, RFC 2428 and RFC 4217 to drive a
// client through login, explicit AUTH TLS, passive (EPSV/PASV) data
// connections, UNIX-style LIST output, RETR/STOR/SIZE and the directory
// and file mutation verbs. Files live under a t.TempDir() root and every
// path is confined to it.
package ftptest

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// Default credentials accepted by a Server.
const (
	DefaultUser     = "tester"
	DefaultPassword = "secret"
)

// Reply is a canned response forced for a verb with Server.Fail.
type Reply struct {
	Code    int
	Message string
}

// Server is a running test server. Create one with New.
type Server struct {
	ln   net.Listener
	dir  string
	root *os.Root

	user     string
	password string
	anyPass  bool

	tlsConfig   *tls.Config
	certPool    *x509.CertPool
	disableEPSV bool
	logger      *zap.Logger

	mu       sync.Mutex
	failures map[string]Reply
	drops    map[string]bool
	commands []string
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials sets the only accepted USER/PASS pair.
func WithCredentials(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithAnyPassword accepts any password for the configured user, including
// an empty one.
func WithAnyPassword() Option {
	return func(s *Server) {
		s.anyPass = true
	}
}

// WithTLS enables AUTH TLS using cert. The certificate's leaf is added to
// the pool returned by CertPool.
func WithTLS(cert tls.Certificate) Option {
	return func(s *Server) {
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		s.certPool = x509.NewCertPool()
		if len(cert.Certificate) > 0 {
			if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
				s.certPool.AddCert(leaf)
			}
		}
	}
}

// WithoutEPSV makes the server answer EPSV with 502 so clients fall back
// to PASV.
func WithoutEPSV() Option {
	return func(s *Server) {
		s.disableEPSV = true
	}
}

// WithLogger traces sessions through logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New starts a server on a loopback port. It is shut down by t.Cleanup.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	if err != nil {
		t.Fatalf("ftptest: open root: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		root.Close()
		t.Fatalf("ftptest: listen: %v", err)
	}

	s := &Server{
		ln:       ln,
		dir:      dir,
		root:     root,
		user:     DefaultUser,
		password: DefaultPassword,
		logger:   zap.NewNop(),
		failures: make(map[string]Reply),
		drops:    make(map[string]bool),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newSession(s, conn).run()
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close stops the listener, drops every session and waits for them.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.ln.Close()
	s.wg.Wait()
	s.root.Close()
}

// Addr returns the control address as "host:port".
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Dir returns the on-disk directory served as "/".
func (s *Server) Dir() string {
	return s.dir
}

// CertPool returns a pool trusting the server certificate, or nil when TLS
// is not enabled.
func (s *Server) CertPool() *x509.CertPool {
	return s.certPool
}

// Fail forces every later occurrence of verb to be answered with code and
// message without being executed.
func (s *Server) Fail(verb string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[strings.ToUpper(verb)] = Reply{Code: code, Message: message}
}

// Drop makes the server hang up the control connection when verb arrives.
func (s *Server) Drop(verb string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[strings.ToUpper(verb)] = true
}

// Reset clears every Fail and Drop rule.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.failures)
	clear(s.drops)
}

// Commands returns every command received so far, in order, as sent on
// the wire (PASS arguments are masked).
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// CommandsFor returns the received commands whose verb is verb.
func (s *Server) CommandsFor(verb string) []string {
	var out []string
	for _, c := range s.Commands() {
		v, _, _ := strings.Cut(c, " ")
		if strings.EqualFold(v, verb) {
			out = append(out, c)
		}
	}
	return out
}

// record logs a command and returns any rule registered for its verb.
func (s *Server) record(verb, line string) (Reply, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
	r, failed := s.failures[verb]
	return r, failed, s.drops[verb]
}

func (s *Server) checkLogin(user, password string) bool {
	if user != s.user {
		return false
	}
	return s.anyPass || password == s.password
}

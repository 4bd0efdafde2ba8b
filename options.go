package ftpsession

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// Option configures a Session.
type Option func(*Session) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithTimeout bounds the dial and every read or write on the control and
// data connections. Zero disables deadlines. The default is 30 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		if timeout < 0 {
			return errors.New("timeout must not be negative")
		}
		s.timeout = timeout
		return nil
	}
}

// WithReporter sets where progress records go. The default drops them.
func WithReporter(r Reporter) Option {
	return func(s *Session) error {
		if r == nil {
			r = nopReporter{}
		}
		s.reporter = r
		return nil
	}
}

// WithTrustPolicy sets how the server certificate is judged on TLS
// connections. The default is the zero TrustPolicy.
func WithTrustPolicy(p TrustPolicy) Option {
	return func(s *Session) error {
		s.trust = p
		return nil
	}
}

// WithBandwidthLimit caps data connection throughput in bytes per second,
// in both directions. Zero means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		if bytesPerSecond < 0 {
			return errors.New("bandwidth limit must not be negative")
		}
		s.bandwidth = bytesPerSecond
		return nil
	}
}

// WithDisableEPSV makes every passive negotiation use PASV. Some NAT
// devices mishandle EPSV.
func WithDisableEPSV() Option {
	return func(s *Session) error {
		s.disableEPSV = true
		return nil
	}
}

// WithDialer sets the dialer used for the control and data connections.
func WithDialer(d *net.Dialer) Option {
	return func(s *Session) error {
		if d == nil {
			return errors.New("dialer must not be nil")
		}
		s.dialer = d
		return nil
	}
}

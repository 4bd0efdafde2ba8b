package ftpsession

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ConnectionConfig describes the server to connect to. It is an input
// value; nothing in this package persists it.
type ConnectionConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	// Password is optional; nil is sent as an empty password.
	Password *string `json:"password,omitempty"`

	// UseTLS upgrades the control connection with AUTH TLS before login and
	// protects every data connection.
	UseTLS bool `json:"use_tls"`
}

// DefaultPort is the standard FTP control port, also used for explicit FTPS.
const DefaultPort = 21

// Validate reports the first missing or out-of-range field.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// Addr returns "host:port".
func (c ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ConnectionConfig) password() string {
	if c.Password == nil {
		return ""
	}
	return *c.Password
}

// ConfigFromEnv builds a ConnectionConfig from FTPSESSION_HOST,
// FTPSESSION_PORT (default 21), FTPSESSION_USER, FTPSESSION_PASSWORD and
// FTPSESSION_TLS. An unset FTPSESSION_PASSWORD leaves Password nil. The
// result is not validated.
func ConfigFromEnv() ConnectionConfig {
	cfg := ConnectionConfig{
		Host:     envOr("FTPSESSION_HOST", ""),
		Port:     envInt("FTPSESSION_PORT", DefaultPort),
		Username: envOr("FTPSESSION_USER", ""),
		UseTLS:   envBool("FTPSESSION_TLS", false),
	}
	if pw, ok := os.LookupEnv("FTPSESSION_PASSWORD"); ok {
		cfg.Password = &pw
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

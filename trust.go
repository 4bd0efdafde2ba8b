package ftpsession

import (
	"crypto/tls"
	"crypto/x509"
)

// TrustPolicy decides how the server certificate is judged during the
// explicit TLS upgrade.
//
// The zero value is the default policy: the channel is always encrypted and
// the handshake signature is always verified against the presented
// certificate, but the certificate chain and host name are not checked.
// Self-signed and privately issued certificates are therefore accepted,
// while a server that cannot prove possession of its certificate's key is
// rejected. This trades authentication of the server for the ability to
// reach self-hosted FTPS servers; callers that need authentication set
// VerifyHostIdentity.
type TrustPolicy struct {
	// VerifyHostIdentity enables standard chain and host name verification.
	VerifyHostIdentity bool

	// RootCAs replaces the system roots when VerifyHostIdentity is set.
	RootCAs *x509.CertPool
}

// tlsConfig builds the client configuration for host.
func (p TrustPolicy) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
		// Go verifies handshake signatures regardless of this flag; only
		// the chain and name checks are skipped.
		InsecureSkipVerify: !p.VerifyHostIdentity,
		RootCAs:            p.RootCAs,
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}
}

package ftptest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

// Certificate returns a self-signed ECDSA P-256 certificate valid for
// 127.0.0.1 and localhost for one hour. No public CA trusts it.
func Certificate(t testing.TB) tls.Certificate {
	t.Helper()
	key := newKey(t)
	return tls.Certificate{
		Certificate: [][]byte{selfSign(t, key)},
		PrivateKey:  key,
	}
}

// MismatchedCertificate returns a certificate whose private key does not
// belong to the public key it presents. A server using it produces
// handshake signatures no client can verify, whatever its trust settings.
func MismatchedCertificate(t testing.TB) tls.Certificate {
	t.Helper()
	return tls.Certificate{
		Certificate: [][]byte{selfSign(t, newKey(t))},
		PrivateKey:  newKey(t),
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ftptest: generate key: %v", err)
	}
	return key
}

func selfSign(t testing.TB, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"ftptest"}, CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("ftptest: create certificate: %v", err)
	}
	return der
}

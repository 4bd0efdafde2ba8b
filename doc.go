// Package ftpsession drives a single FTP or explicit FTPS session: connect,
// navigate, list, transfer and mutate files over one control connection,
// publishing transfer progress to a Reporter.
//
// # Basic Usage
//
//	s, err := ftpsession.New(ftpsession.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pw := "secret"
//	err = s.Connect(ctx, ftpsession.ConnectionConfig{
//	    Host:     "ftp.example.com",
//	    Port:     21,
//	    Username: "alice",
//	    Password: &pw,
//	    UseTLS:   true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Disconnect()
//
//	entries, err := s.ListDirectory("/pub")
//
// # Session State
//
// A Session is Disconnected, ConnectedPlain or ConnectedSecure. Connect
// refuses to replace an open session (ErrAlreadyConnected) and every other
// operation fails with ErrNotConnected when there is none. Operations are
// serialized by the session lock; a long transfer blocks everything else
// until it ends. Disconnect is the only way to abandon it: called from
// another goroutine, it closes the connections under the running transfer,
// which then fails with a *TransferError.
//
// # TLS Trust
//
// With UseTLS the control connection is upgraded with AUTH TLS before login
// and data connections are protected with PROT P. By default the server's
// certificate chain and host name are not verified (see TrustPolicy), so
// self-signed servers work, but the handshake signature always is: a server
// that does not hold its certificate's private key is rejected with a
// *TLSError.
//
// # Errors
//
// Connect distinguishes *ConnectionError, *TLSError and *AuthError. Simple
// verbs fail with *OperationError, whose ServerMessage returns the server's
// reply text. Transfers fail with *TransferError; afterwards the data
// channel is in an undefined state and reconnecting is the safe recovery.
// Nothing is retried internally.
//
// # Progress
//
// Transfers publish TransferProgress records through the Reporter set with
// WithReporter. Reporting is best effort: a Broadcaster drops records for
// slow subscribers and a panicking Reporter is recovered.
//
// # Listings
//
// Only UNIX "ls -l" style listings are understood. Lines that do not parse
// are dropped silently; see ParseListingLine.
package ftpsession

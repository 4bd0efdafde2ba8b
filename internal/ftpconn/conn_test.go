package ftpconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpsession/internal/ftptest"
)

func dialLogin(t *testing.T, srv *ftptest.Server, opts ...Option) *Conn {
	t.Helper()
	opts = append([]Option{WithTimeout(5 * time.Second)}, opts...)
	c, err := Dial(context.Background(), srv.Addr(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Login(ftptest.DefaultUser, ftptest.DefaultPassword))
	c.SetPassive(true)
	return c
}

func TestDialRejectsBadAddress(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), "no-port")
	assert.Error(t, err)
}

func TestDialRefused(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	addr := srv.Addr()
	srv.Close()

	_, err := Dial(context.Background(), addr, WithTimeout(time.Second))
	assert.Error(t, err)
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer c.Close()

	err = c.Login(ftptest.DefaultUser, "wrong")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 530, perr.Code)
	assert.Equal(t, "PASS", perr.Command)
	assert.Equal(t, "Login incorrect.", perr.Response)
}

func TestPasswordIsNotLogged(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	dialLogin(t, srv)
	assert.Contains(t, srv.Commands(), "PASS ***")
}

func TestTransferRequiresPassive(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login(ftptest.DefaultUser, ftptest.DefaultPassword))

	_, err = c.List("")
	assert.ErrorIs(t, err, ErrModeNotSelected)
}

func exerciseFileVerbs(t *testing.T, c *Conn, srv *ftptest.Server) {
	t.Helper()

	pwd, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/", pwd)

	require.NoError(t, c.MakeDir("docs"))
	require.NoError(t, c.ChangeDir("docs"))
	pwd, err = c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/docs", pwd)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 5000)
	n, err := c.Store("report.bin", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	_, err = c.Store("empty.txt", bytes.NewReader(nil))
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(srv.Dir(), "docs", "report.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	size, err := c.Size("report.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	lines, err := c.List("")
	require.NoError(t, err)
	require.Len(t, lines, 5) // total, ".", "..", two files
	assert.True(t, strings.HasPrefix(lines[0], "total "))
	assert.True(t, strings.HasSuffix(lines[3], " empty.txt"))
	assert.True(t, strings.HasSuffix(lines[4], " report.bin"))

	rc, err := c.Retrieve("report.bin")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)
	assert.NoError(t, rc.Close())

	rc, err = c.Retrieve("empty.txt")
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Empty(t, got)

	require.NoError(t, c.Rename("report.bin", "final.bin"))
	require.NoError(t, c.Delete("final.bin"))
	require.NoError(t, c.Delete("empty.txt"))
	require.NoError(t, c.ChangeDir("/"))
	require.NoError(t, c.RemoveDir("docs"))

	_, err = os.Stat(filepath.Join(srv.Dir(), "docs"))
	assert.True(t, os.IsNotExist(err))
}

func TestPlainSession(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialLogin(t, srv)
	assert.False(t, c.Secure())

	exerciseFileVerbs(t, c, srv)
	require.NoError(t, c.Quit())
	assert.Contains(t, srv.Commands(), "QUIT")
}

func TestSecureSession(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithTLS(ftptest.Certificate(t)))

	c, err := Dial(context.Background(), srv.Addr(), WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.UpgradeTLS(&tls.Config{InsecureSkipVerify: true}))
	assert.True(t, c.Secure())
	require.NoError(t, c.Login(ftptest.DefaultUser, ftptest.DefaultPassword))
	c.SetPassive(true)

	exerciseFileVerbs(t, c, srv)

	cmds := srv.Commands()
	assert.Equal(t, []string{"AUTH TLS", "PBSZ 0", "PROT P"}, cmds[:3])
}

func TestUpgradeRefused(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer c.Close()

	err = c.UpgradeTLS(&tls.Config{InsecureSkipVerify: true})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 502, perr.Code)
	assert.False(t, c.Secure())
}

func TestBadHandshakeSignature(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithTLS(ftptest.MismatchedCertificate(t)))
	c, err := Dial(context.Background(), srv.Addr(), WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer c.Close()

	err = c.UpgradeTLS(&tls.Config{InsecureSkipVerify: true})
	require.Error(t, err)
	var perr *ProtocolError
	assert.False(t, errors.As(err, &perr))
}

func TestEPSVFallsBackToPASV(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithoutEPSV())
	c := dialLogin(t, srv)

	_, err := c.List("")
	require.NoError(t, err)
	_, err = c.List("")
	require.NoError(t, err)

	assert.Len(t, srv.CommandsFor("EPSV"), 1)
	assert.Len(t, srv.CommandsFor("PASV"), 2)
}

func TestPASVOnly(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialLogin(t, srv)
	c.SetPassive(false)

	_, err := c.List("")
	require.NoError(t, err)
	assert.Empty(t, srv.CommandsFor("EPSV"))
	assert.Len(t, srv.CommandsFor("PASV"), 1)
}

func TestRetrieveMissing(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialLogin(t, srv)

	_, err := c.Retrieve("nope.bin")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 550, perr.Code)

	// The session stays usable.
	_, err = c.CurrentDir()
	assert.NoError(t, err)
}

func TestSizeRejected(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialLogin(t, srv)
	srv.Fail("SIZE", 502, "SIZE not implemented.")

	_, err := c.Size("anything")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 502, perr.Code)
}

func TestTypeIsCached(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialLogin(t, srv)

	require.NoError(t, c.Type("I"))
	require.NoError(t, c.Type("I"))
	require.NoError(t, c.Type("A"))
	assert.Equal(t, []string{"TYPE I", "TYPE A"}, srv.CommandsFor("TYPE"))
}

func TestBandwidthLimitedTransfer(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	c := dialLogin(t, srv, WithBandwidthLimit(1<<30))
	require.NotNil(t, c.limiter)

	payload := bytes.Repeat([]byte{0xAB}, 100_000)
	_, err := c.Store("blob", bytes.NewReader(payload))
	require.NoError(t, err)

	rc, err := c.Retrieve("blob")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)
}

func TestCustomCredentialsAndTransientFailure(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithCredentials("anna", "hunter2"))
	c, err := Dial(context.Background(), srv.Addr(), WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login("anna", "hunter2"))

	srv.Fail("PWD", 421, "Service not available.")
	_, err = c.CurrentDir()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Temporary())
	assert.False(t, perr.Permanent())

	srv.Reset()
	dir, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/", dir)
}

func TestAbortUnblocksRetrieve(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	require.NoError(t, os.WriteFile(filepath.Join(srv.Dir(), "big.bin"), make([]byte, 8<<20), 0o644))
	c := dialLogin(t, srv)

	rc, err := c.Retrieve("big.bin")
	require.NoError(t, err)
	buf := make([]byte, 1024)
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err)

	c.Abort()
	c.Abort()

	_, err = io.Copy(io.Discard, rc)
	assert.Error(t, err)
	assert.Error(t, rc.Close())

	_, err = c.CurrentDir()
	assert.Error(t, err)

	err = c.trackData(nil)
	assert.ErrorIs(t, err, errAborted)
}

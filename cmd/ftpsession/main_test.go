package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpsession"
	"github.com/gonzalop/ftpsession/internal/ftpconn"
	"github.com/gonzalop/ftpsession/internal/ftptest"
)

func runAgainst(t *testing.T, srv *ftptest.Server, args ...string) (int, string, string) {
	t.Helper()
	base := []string{
		"--host", srv.Host(),
		"--port", strconv.Itoa(srv.Port()),
		"--user", ftptest.DefaultUser,
		"--password", ftptest.DefaultPassword,
		"--timeout", "5s",
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"chmod", "x"}},
		{"missing argument", []string{"get", "only-one"}},
		{"too many ls arguments", []string{"ls", "a", "b"}},
		{"bad flag", []string{"--no-such-flag", "pwd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, exitUsage, code)
			assert.Empty(t, stdout.String())
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRunReportsBadFlag(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--no-such-flag", "pwd"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "error: unknown flag: --no-such-flag")
}

func TestRunHelp(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitSuccess, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: ftpsession")
}

func TestRunListAndPwd(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	require.NoError(t, os.Mkdir(filepath.Join(srv.Dir(), "zdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srv.Dir(), "a.txt"), make([]byte, 1234), 0o644))

	code, out, _ := runAgainst(t, srv, "ls")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "Connected to 127.0.0.1\n")
	assert.Regexp(t, `(?s)d .*zdir\n- .*1,234 .*a\.txt\n`, out)
	assert.Contains(t, out, "Disconnected\n")

	code, out, _ = runAgainst(t, srv, "pwd")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "/\n")
}

func TestRunTransfers(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithTLS(ftptest.Certificate(t)))
	local := t.TempDir()
	src := filepath.Join(local, "up.bin")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("z"), 20000), 0o644))

	code, out, errOut := runAgainst(t, srv, "--tls", "--progress", "put", src, "up.bin")
	require.Equal(t, exitSuccess, code, errOut)
	assert.Contains(t, out, "Securely connected to 127.0.0.1\n")
	assert.Contains(t, out, "Uploaded up.bin (20,000 bytes)\n")
	assert.Contains(t, errOut, "complete up.bin 20,000/20,000")

	dst := filepath.Join(local, "down.bin")
	code, out, _ = runAgainst(t, srv, "--tls", "get", "up.bin", dst)
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "Downloaded up.bin (20,000 bytes)\n")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Len(t, data, 20000)
}

func TestRunMutations(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	require.NoError(t, os.WriteFile(filepath.Join(srv.Dir(), "old"), []byte("x"), 0o644))

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"mkdir", "d"}, "Created directory: d\n"},
		{[]string{"mv", "old", "new"}, "Renamed old to new\n"},
		{[]string{"rm", "new"}, "Deleted file: new\n"},
		{[]string{"rmdir", "d"}, "Deleted directory: d\n"},
	}
	for _, step := range steps {
		code, out, errOut := runAgainst(t, srv, step.args...)
		require.Equal(t, exitSuccess, code, errOut)
		assert.Contains(t, out, step.want)
	}
	entries, err := os.ReadDir(srv.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunMirror(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	require.NoError(t, os.MkdirAll(filepath.Join(srv.Dir(), "site", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srv.Dir(), "site", "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srv.Dir(), "site", "css", "a.css"), []byte("body{}"), 0o644))

	dst := filepath.Join(t.TempDir(), "site")
	code, out, errOut := runAgainst(t, srv, "mirror", "site", dst)
	require.Equal(t, exitSuccess, code, errOut)
	assert.Contains(t, out, "Downloaded folder 'site' (12 bytes)\n")
	assert.FileExists(t, filepath.Join(dst, "css", "a.css"))
}

func TestRunFailures(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)

	code, out, errOut := runAgainst(t, srv, "rm", "ghost")
	assert.Equal(t, exitOperation, code)
	assert.Contains(t, errOut, "delete file ghost: No such file or directory.")
	assert.Contains(t, out, "Disconnected\n")

	var stdout, stderr bytes.Buffer
	code = run(context.Background(), []string{
		"--host", srv.Host(), "--port", strconv.Itoa(srv.Port()),
		"--user", ftptest.DefaultUser, "--password", "wrong", "pwd",
	}, &stdout, &stderr)
	assert.Equal(t, exitConnect, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "error:")
}

func TestRunMetricsAddress(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t)
	code, _, errOut := runAgainst(t, srv, "--metrics-addr", "127.0.0.1:0", "--log-level", "info", "--log-format", "json", "pwd")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, errOut, `"msg":"serving metrics"`)

	code, _, _ = runAgainst(t, srv, "--metrics-addr", "not an address", "pwd")
	assert.Equal(t, exitUsage, code)
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	refused := &ftpsession.OperationError{
		Op:   "delete file",
		Path: "x",
		Err:  &ftpconn.ProtocolError{Command: "DELE", Response: "Permission denied. ", Code: 550},
	}
	assert.Equal(t, "delete file x: Permission denied.", describe(refused))

	noPath := &ftpsession.OperationError{
		Op:  "print working directory",
		Err: &ftpconn.ProtocolError{Command: "PWD", Response: "nope", Code: 550},
	}
	assert.Equal(t, "print working directory: nope", describe(noPath))

	plain := errors.New("boom")
	assert.Equal(t, "boom", describe(plain))
}

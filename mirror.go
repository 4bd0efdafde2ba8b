package ftpsession

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// errUnsafeName is wrapped when a listing entry's name would leave the
// directory being mirrored.
var errUnsafeName = errors.New("entry name contains a path separator")

// folderFrame is one directory on the download stack.
type folderFrame struct {
	remote  string
	local   string
	entries []RemoteEntry
	next    int
}

// DownloadFolder mirrors the remote directory remoteDir into localDir,
// depth first, and returns the number of file bytes written.
//
// A relative remoteDir is resolved against the working directory, which
// is restored when DownloadFolder returns, whether or not it succeeded.
// Each file is buffered in memory and written to disk in one piece.
//
// The first failure aborts the whole download. Files and directories
// already written are left in place, so localDir may be partially
// populated after an error.
//
// Progress is reported under a single "df-" transfer id: a "downloading"
// record with the running byte total after each file (total unknown), then
// "complete" or "failed".
func (s *Session) DownloadFolder(remoteDir, localDir string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return 0, err
	}

	id := newTransferID(folderPrefix)
	total, err := s.mirror(id, remoteDir, localDir)
	if err != nil {
		s.emit(TransferProgress{TransferID: id, Filename: remoteDir, Progress: total, Status: StatusFailed})
		s.logger.Warn("folder download failed",
			zap.String("transfer_id", id),
			zap.String("path", remoteDir),
			zap.Uint64("bytes", total),
			zap.Error(err),
		)
		return total, err
	}

	s.emit(TransferProgress{TransferID: id, Filename: remoteDir, Progress: total, Status: StatusComplete})
	s.logger.Info("folder download complete",
		zap.String("transfer_id", id),
		zap.String("path", remoteDir),
		zap.Uint64("bytes", total),
	)
	return total, nil
}

func (s *Session) mirror(id, remoteDir, localDir string) (uint64, error) {
	origCwd, err := s.conn.CurrentDir()
	if err != nil {
		s.logger.Debug("pwd failed, assuming /", zap.Error(err))
		origCwd = "/"
	}
	defer func() {
		if cerr := s.conn.ChangeDir(origCwd); cerr != nil {
			s.logger.Debug("could not restore working directory",
				zap.String("path", origCwd),
				zap.Error(cerr),
			)
		}
	}()

	root := remoteDir
	if !strings.HasPrefix(root, "/") {
		root = joinRemote(origCwd, remoteDir)
	}

	visited := mapset.NewThreadUnsafeSet[string]()
	first, err := s.enterFolder(visited, root, localDir)
	if err != nil {
		return 0, err
	}

	var total uint64
	stack := []*folderFrame{first}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.next == len(top.entries) {
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := stack[len(stack)-1].remote
				if err := s.conn.ChangeDir(parent); err != nil {
					return total, &OperationError{Op: "change directory", Path: parent, Err: err}
				}
			}
			continue
		}

		entry := top.entries[top.next]
		top.next++

		remotePath := joinRemote(top.remote, entry.Name)
		if unsafeName(entry.Name) {
			return total, &TransferError{Op: "download folder", Path: remotePath, Err: errUnsafeName}
		}
		localPath := filepath.Join(top.local, entry.Name)

		if entry.IsDirectory {
			child, err := s.enterFolder(visited, remotePath, localPath)
			if err != nil {
				return total, err
			}
			stack = append(stack, child)
			continue
		}

		n, err := s.fetchFile(entry.Name, remotePath, localPath)
		if err != nil {
			return total, err
		}
		total += n
		s.emit(TransferProgress{TransferID: id, Filename: remoteDir, Progress: total, Status: StatusDownloading})
	}
	return total, nil
}

// enterFolder creates the local directory, changes into the remote one and
// lists it.
func (s *Session) enterFolder(visited mapset.Set[string], remote, local string) (*folderFrame, error) {
	if !visited.Add(remote) {
		return nil, &TransferError{Op: "download folder", Path: remote, Err: fmt.Errorf("directory already visited")}
	}
	if err := os.MkdirAll(local, 0o755); err != nil {
		return nil, &TransferError{Op: "download folder", Path: local, Err: err}
	}
	if err := s.conn.ChangeDir(remote); err != nil {
		return nil, &OperationError{Op: "change directory", Path: remote, Err: err}
	}
	lines, err := s.conn.List("")
	if err != nil {
		return nil, &OperationError{Op: "list", Path: remote, Err: err}
	}
	s.logger.Debug("entered directory", zap.String("remote", remote), zap.String("local", local))
	return &folderFrame{remote: remote, local: local, entries: parseListing(lines)}, nil
}

// fetchFile retrieves name from the working directory into memory and
// writes it to localPath.
func (s *Session) fetchFile(name, remotePath, localPath string) (uint64, error) {
	rc, err := s.conn.Retrieve(name)
	if err != nil {
		return 0, &TransferError{Op: "download", Path: remotePath, Err: err}
	}
	var buf bytes.Buffer
	_, rerr := io.Copy(&buf, rc)
	if cerr := rc.Close(); rerr == nil {
		rerr = cerr
	}
	if rerr != nil {
		return 0, &TransferError{Op: "download", Path: remotePath, Err: rerr}
	}

	if err := os.WriteFile(localPath, buf.Bytes(), 0o644); err != nil {
		return 0, &TransferError{Op: "save", Path: localPath, Err: err}
	}
	return uint64(buf.Len()), nil
}

// unsafeName reports whether name holds a separator of either the remote
// or the local filesystem. Backslashes are ordinary characters on UNIX.
func unsafeName(name string) bool {
	if strings.Contains(name, "/") {
		return true
	}
	return filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator)
}

// joinRemote joins a directory and a name with exactly one "/".
func joinRemote(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

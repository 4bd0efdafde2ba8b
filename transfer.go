package ftpsession

import (
	"bytes"
	"io"
	"os"

	"go.uber.org/zap"
)

// chunkSize is the read size for streamed downloads; one progress record is
// emitted per chunk.
const chunkSize = 16 * 1024

// Retrieve streams remoteName into dst and returns the number of bytes
// copied.
//
// The size is probed first with SIZE; when it is known a "downloading"
// record is emitted after every chunk. A "complete" record follows a
// successful transfer and a "failed" record any error, which is returned as
// a *TransferError.
func (s *Session) Retrieve(remoteName string, dst io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return 0, err
	}
	n, err := s.download(remoteName, func() (io.Writer, func() error, error) {
		return dst, func() error { return nil }, nil
	})
	return int64(n), err
}

// DownloadFile retrieves remoteName into the local file localPath, which is
// created or truncated once the server has accepted the transfer.
func (s *Session) DownloadFile(remoteName, localPath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return 0, err
	}
	n, err := s.download(remoteName, func() (io.Writer, func() error, error) {
		f, err := os.Create(localPath)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	})
	return int64(n), err
}

// download runs one retrieval with progress. open is called after the
// server has accepted RETR and yields the destination and its closer. The
// caller holds s.mu.
func (s *Session) download(remoteName string, open func() (io.Writer, func() error, error)) (uint64, error) {
	id := newTransferID(downloadPrefix)
	total := s.probeSize(remoteName)
	var done uint64

	fail := func(err error) (uint64, error) {
		s.emit(TransferProgress{TransferID: id, Filename: remoteName, Progress: done, Total: total, Status: StatusFailed})
		s.logger.Warn("download failed",
			zap.String("transfer_id", id),
			zap.String("path", remoteName),
			zap.Uint64("bytes", done),
			zap.Error(err),
		)
		return done, &TransferError{Op: "download", Path: remoteName, Err: err}
	}

	rc, err := s.conn.Retrieve(remoteName)
	if err != nil {
		return fail(err)
	}
	dst, closeDst, err := open()
	if err != nil {
		rc.Close()
		return fail(err)
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(rc, buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				rc.Close()
				closeDst()
				return fail(werr)
			}
			done += uint64(n)
			if total > 0 {
				s.emit(TransferProgress{TransferID: id, Filename: remoteName, Progress: done, Total: total, Status: StatusDownloading})
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			rc.Close()
			closeDst()
			return fail(rerr)
		}
	}

	if err := rc.Close(); err != nil {
		closeDst()
		return fail(err)
	}
	if err := closeDst(); err != nil {
		return fail(err)
	}

	s.emit(TransferProgress{TransferID: id, Filename: remoteName, Progress: done, Total: total, Status: StatusComplete})
	s.logger.Info("download complete",
		zap.String("transfer_id", id),
		zap.String("path", remoteName),
		zap.Uint64("bytes", done),
	)
	return done, nil
}

// Store uploads data as remoteName in one data connection and emits a
// single "complete" record whose progress and total equal len(data).
func (s *Session) Store(data []byte, remoteName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return 0, err
	}
	return s.upload(data, remoteName)
}

// UploadFile reads localPath completely into memory and then stores it as
// remoteName. Memory use is proportional to the file size.
func (s *Session) UploadFile(localPath, remoteName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connected(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, &TransferError{Op: "upload", Path: remoteName, Err: err}
	}
	return s.upload(data, remoteName)
}

func (s *Session) upload(data []byte, remoteName string) (int64, error) {
	id := newTransferID(uploadPrefix)
	total := uint64(len(data))

	n, err := s.conn.Store(remoteName, bytes.NewReader(data))
	if err != nil {
		s.emit(TransferProgress{TransferID: id, Filename: remoteName, Progress: uint64(n), Total: total, Status: StatusFailed})
		s.logger.Warn("upload failed",
			zap.String("transfer_id", id),
			zap.String("path", remoteName),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
		return n, &TransferError{Op: "upload", Path: remoteName, Err: err}
	}

	s.emit(TransferProgress{TransferID: id, Filename: remoteName, Progress: total, Total: total, Status: StatusComplete})
	s.logger.Info("upload complete",
		zap.String("transfer_id", id),
		zap.String("path", remoteName),
		zap.Uint64("bytes", total),
	)
	return n, nil
}

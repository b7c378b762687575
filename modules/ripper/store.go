package ripper

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// minWriteBufSize and maxWriteBufSize clamp the configured write buffer to avoid
// tiny writes (no benefit) or very large buffers (memory and latency).
const (
	minWriteBufSize = 32 * 1024       // 32 KiB
	maxWriteBufSize = 4 * 1024 * 1024 // 4 MiB
)

// Store persists finished segments.
type Store interface {
	// WriteFile creates or replaces the named file with b.
	WriteFile(name string, b []byte) error
}

// DirStore writes segments into a directory. Files are written to a temp file
// and renamed into place, so a failed write leaves earlier recordings intact.
type DirStore struct {
	dir          string
	writeBufSize int
	keepLongest  bool
	logger       *slog.Logger
}

func NewDirStore(dir string, writeBufSize int, keepLongest bool, logger *slog.Logger) (*DirStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "error creating stream directory")
	}

	if writeBufSize < minWriteBufSize {
		writeBufSize = minWriteBufSize
	}
	if writeBufSize > maxWriteBufSize {
		writeBufSize = maxWriteBufSize
	}

	return &DirStore{
		dir:          dir,
		writeBufSize: writeBufSize,
		keepLongest:  keepLongest,
		logger:       logger,
	}, nil
}

func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) WriteFile(name string, b []byte) error {
	destPath := filepath.Join(s.dir, name)

	f, err := os.CreateTemp(filepath.Dir(destPath), ".*.tmp")
	if err != nil {
		return errors.Wrap(err, "error creating temp file")
	}
	tempPath := f.Name()

	w := bufio.NewWriterSize(f, s.writeBufSize)
	if _, err := w.Write(b); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "error writing to file")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "error writing to file")
	}
	if err := f.Sync(); err != nil {
		s.logger.Error("error syncing file", "err", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "error closing file")
	}

	return s.commitTempFile(tempPath, destPath)
}

// commitTempFile renames tempPath to destPath. With keepLongest set, an
// existing dest is only replaced by a larger temp file, so a previous good
// recording is not overwritten by a shorter one.
func (s *DirStore) commitTempFile(tempPath, destPath string) error {
	if s.keepLongest {
		tempInfo, err := os.Stat(tempPath)
		if err != nil {
			_ = os.Remove(tempPath)
			return errors.Wrap(err, "error stating temp file")
		}

		destInfo, err := os.Stat(destPath)
		switch {
		case err == nil && tempInfo.Size() <= destInfo.Size():
			_ = os.Remove(tempPath)
			s.logger.Debug("discarded shorter recording", "path", destPath, "temp_size", tempInfo.Size(), "existing_size", destInfo.Size())
			return nil
		case err != nil && !os.IsNotExist(err):
			_ = os.Remove(tempPath)
			return errors.Wrap(err, "error stating dest file")
		}
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrapf(err, "error renaming temp to dest %s", destPath)
	}
	s.logger.Debug("saved recording", "path", destPath)
	return nil
}

// Package filesystem exposes a storage tree to the host through the bridge:
// file read, remove and checksum-verified raw write, directory listing and
// recursive removal.
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/kstaniek/go-osc-bridge/internal/bridge"
	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
)

// MaxNameLength bounds every path handled by the service, temp names included.
const MaxNameLength = 254

// Response markers written ahead of streamed content so an empty file or
// directory still produces a non-empty payload.
const (
	FileMarker = "File:"
	DirMarker  = "Dir:"
)

// Error reasons sent to the host.
const (
	ReasonOpenForWrite = "failed to open file for writing"
	ReasonChecksum     = "checksum isn't matching"
	ReasonNotExist     = "file doesn't exist"
	ReasonOpen         = "failed to open file"
	ReasonNotDir       = "not a directory"
	ReasonNameTooLong  = "file name too long"
	ReasonWrite        = "failed to write file"
	ReasonRename       = "failed to rename file"
)

var ErrNameTooLong = errors.New("file name too long")

// Method addresses served by the service.
const (
	AddrFileRead   = "/file/read"
	AddrFileRemove = "/file/remove"
	AddrFileWrite  = "/raw/file/write"
	AddrDirList    = "/dir/list"
	AddrDirRemove  = "/dir/remove"
)

// Service serves the storage methods and consumes raw frames as file content.
type Service struct {
	fs     afero.Fs
	b      *bridge.Bridge
	logger *slog.Logger
	sess   *session
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default logging.L()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService returns a Service over fs.
func NewService(fs afero.Fs, opts ...Option) *Service {
	s := &Service{fs: fs, logger: logging.L()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the storage methods to b and installs s as its raw handler.
func (s *Service) Register(b *bridge.Bridge) error {
	s.b = b
	if _, err := s.fs.Stat("/"); err != nil {
		metrics.IncError(metrics.ErrStorage)
		s.logger.Error("storage_init_failed", "error", err)
		_ = b.Log().Error("storage initialization failed")
	}
	b.SetRawHandler(s)
	return errors.Join(
		b.AddMethod(AddrFileRead, s.readFile),
		b.AddMethod(AddrFileRemove, s.removeFile),
		b.AddMethod(AddrFileWrite, s.startWrite),
		b.AddMethod(AddrDirList, s.listDir),
		b.AddMethod(AddrDirRemove, s.removeDir),
	)
}

func checkName(name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	return nil
}

func (s *Service) storageError(op, name string, err error) {
	metrics.IncError(metrics.ErrStorage)
	s.logger.Warn("storage_error", "op", op, "path", name, "error", err)
}

func (s *Service) readFile(m *osc.Message) {
	id := bridge.ID(m)
	if !s.b.ValidateData(m, "is", 2) {
		_ = s.b.RespondError(id)
		return
	}
	name := m.Str(1)
	if err := checkName(name); err != nil {
		s.storageError("read", name, err)
		_ = s.b.RespondError(id, ReasonNameTooLong)
		return
	}
	fi, err := s.fs.Stat(name)
	if err != nil {
		_ = s.b.RespondError(id, ReasonNotExist)
		return
	}
	if fi.IsDir() {
		_ = s.b.RespondError(id, ReasonOpen)
		return
	}
	f, err := s.fs.Open(name)
	if err != nil {
		s.storageError("read", name, err)
		_ = s.b.RespondError(id, ReasonOpen)
		return
	}
	defer f.Close()
	w, err := s.b.BeginRespond(id)
	if err != nil {
		return
	}
	_, _ = io.WriteString(w, FileMarker)
	n, cerr := io.Copy(w, f)
	if err := s.b.EndRespond(); err != nil {
		return
	}
	if cerr != nil {
		// The frame is already committed; the host sees a short file.
		s.storageError("read", name, cerr)
		return
	}
	s.logger.Debug("file_read", "path", name, "bytes", n)
}

// removeFile answers exactly once.
func (s *Service) removeFile(m *osc.Message) {
	id := bridge.ID(m)
	if !s.b.ValidateData(m, "is", 2) {
		_ = s.b.RespondError(id)
		return
	}
	name := m.Str(1)
	if err := checkName(name); err != nil {
		s.storageError("remove", name, err)
		_ = s.b.RespondError(id, ReasonNameTooLong)
		return
	}
	fi, err := s.fs.Stat(name)
	if err == nil && fi.IsDir() {
		err = &os.PathError{Op: "remove", Path: name, Err: errors.New("is a directory")}
	}
	if err == nil {
		err = s.fs.Remove(name)
	}
	if err != nil {
		s.storageError("remove", name, err)
		_ = s.b.RespondError(id)
		return
	}
	s.logger.Info("file_removed", "path", name)
	_ = s.b.Respond(id)
}

func (s *Service) removeDir(m *osc.Message) {
	id := bridge.ID(m)
	if !s.b.ValidateData(m, "is", 2) {
		_ = s.b.RespondError(id)
		return
	}
	name := m.Str(1)
	if err := checkName(name); err != nil {
		s.storageError("remove_dir", name, err)
		_ = s.b.RespondError(id, ReasonNameTooLong)
		return
	}
	if ok, _ := afero.Exists(s.fs, name); ok {
		if err := s.fs.RemoveAll(name); err != nil {
			s.storageError("remove_dir", name, err)
			_ = s.b.RespondError(id)
			return
		}
		s.logger.Info("dir_removed", "path", name)
	}
	_ = s.b.Respond(id)
}

func (s *Service) listDir(m *osc.Message) {
	id := bridge.ID(m)
	if !s.b.ValidateData(m, "isi", 3) {
		_ = s.b.RespondError(id)
		return
	}
	name := m.Str(1)
	recursive := m.Int(2) != 0
	if err := checkName(name); err != nil {
		s.storageError("list", name, err)
		_ = s.b.RespondError(id, ReasonNameTooLong)
		return
	}
	fi, err := s.fs.Stat(name)
	if err != nil {
		_ = s.b.RespondError(id, ReasonOpen)
		return
	}
	if !fi.IsDir() {
		_ = s.b.RespondError(id, ReasonNotDir)
		return
	}
	w, err := s.b.BeginRespond(id)
	if err != nil {
		return
	}
	_, _ = io.WriteString(w, DirMarker)
	lerr := WriteListing(w, s.fs, name, recursive)
	_ = s.b.EndRespond()
	if lerr != nil {
		s.storageError("list", name, lerr)
	}
}

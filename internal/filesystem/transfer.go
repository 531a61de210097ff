package filesystem

import (
	"bufio"
	"os"

	"github.com/spf13/afero"

	"github.com/kstaniek/go-osc-bridge/internal/bridge"
	"github.com/kstaniek/go-osc-bridge/internal/crc16"
	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
)

// TempPrefix is prepended to the base name of a file while it is received.
const TempPrefix = "__"

// session is one raw file write in progress.
type session struct {
	id       bridge.RequestID
	dest     string
	temp     string
	expected uint16
	sum      crc16.Digest
	f        afero.File
	w        *bufio.Writer
	n        int64
	err      error
}

// Names returns the destination and temp paths for base inside dir.
func Names(dir, base string) (dest, temp string) {
	return dir + "/" + base, dir + "/" + TempPrefix + base
}

// Receiving reports whether a raw write is waiting for its content frame.
func (s *Service) Receiving() bool { return s.sess != nil }

// startWrite handles /raw/file/write (id, dir, base, checksum). The bridge
// has already switched to raw mode, so the next frame is the content.
func (s *Service) startWrite(m *osc.Message) {
	id := bridge.ID(m)
	if !s.b.ValidateData(m, "issi", 4) {
		_ = s.b.RespondError(id)
		return
	}
	dir, base := m.Str(1), m.Str(2)
	expected := uint16(m.Int(3))
	dest, temp := Names(dir, base)
	if err := checkName(temp); err != nil {
		s.storageError("write", dest, err)
		_ = s.b.RespondError(id, ReasonNameTooLong)
		return
	}
	if s.sess != nil {
		s.logger.Warn("transfer_abandoned", "path", s.sess.dest)
		s.discard(s.sess)
	}
	// Leftover from an aborted transfer to the same name.
	if ok, _ := afero.Exists(s.fs, temp); ok {
		if err := s.fs.Remove(temp); err != nil {
			s.storageError("write", temp, err)
		}
	}
	if dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			s.storageError("write", dir, err)
		}
	}
	f, err := s.fs.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.storageError("write", temp, err)
		_ = s.b.RespondError(id, ReasonOpenForWrite)
		return
	}
	s.sess = &session{
		id:       id,
		dest:     dest,
		temp:     temp,
		expected: expected,
		f:        f,
		w:        bufio.NewWriter(f),
	}
	s.logger.Debug("transfer_start", "path", dest, "checksum", expected)
}

// OnRawByte appends c to the file being received. Bytes without a session
// (the write request was rejected) are dropped.
func (s *Service) OnRawByte(c byte) {
	sess := s.sess
	if sess == nil {
		return
	}
	_ = sess.sum.WriteByte(c)
	sess.n++
	if sess.err != nil {
		return
	}
	if err := sess.w.WriteByte(c); err != nil {
		sess.err = err
	}
}

// OnRawEnd closes the received file and commits it when the checksum
// matches, discarding it otherwise. Exactly one response is sent.
func (s *Service) OnRawEnd() {
	sess := s.sess
	if sess == nil {
		s.logger.Debug("raw_frame_without_transfer")
		return
	}
	s.sess = nil
	if err := sess.w.Flush(); err != nil && sess.err == nil {
		sess.err = err
	}
	if err := sess.f.Close(); err != nil && sess.err == nil {
		sess.err = err
	}
	switch {
	case sess.err != nil:
		s.storageError("write", sess.temp, sess.err)
		metrics.IncDiscarded()
		_ = s.b.RespondError(sess.id, ReasonWrite)
	case sess.sum.Sum16() != sess.expected:
		metrics.IncDiscarded()
		s.logger.Warn("transfer_checksum_mismatch", "path", sess.dest, "expected", sess.expected, "got", sess.sum.Sum16(), "bytes", sess.n)
		_ = s.b.RespondError(sess.id, ReasonChecksum)
	default:
		if ok, _ := afero.Exists(s.fs, sess.dest); ok {
			if err := s.fs.Remove(sess.dest); err != nil {
				s.storageError("write", sess.dest, err)
			}
		}
		if err := s.fs.Rename(sess.temp, sess.dest); err != nil {
			s.storageError("rename", sess.dest, err)
			metrics.IncDiscarded()
			_ = s.b.RespondError(sess.id, ReasonRename)
			break
		}
		metrics.IncCommitted()
		s.logger.Info("transfer_committed", "path", sess.dest, "bytes", sess.n)
		_ = s.b.Respond(sess.id)
	}
	// No-op after a successful rename.
	_ = s.fs.Remove(sess.temp)
}

// discard drops an unfinished session without responding.
func (s *Service) discard(sess *session) {
	_ = sess.f.Close()
	_ = s.fs.Remove(sess.temp)
	metrics.IncDiscarded()
	s.sess = nil
}

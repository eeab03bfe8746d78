package handler

import (
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"otad/internal/device"
	ncerr "otad/internal/errors"
	"otad/internal/journal"
	"otad/internal/metrics"
	"otad/internal/partition"
	"otad/internal/session"
	"otad/util"
)

// DefaultChunkSize is the number of image bytes flashed per write.
const DefaultChunkSize = 256

// Upload streams a firmware image into the inactive bank, one chunk
// per flash write.
type Upload struct {
	Flash     device.Flash
	Oracle    device.Oracle
	Layout    partition.Descriptor
	ChunkSize int // DefaultChunkSize when 0

	Recorder Recorder // optional
	Metrics  *metrics.Collector
	Logger   *util.Logger
}

func (h *Upload) chunkSize() int {
	if h.ChunkSize > 0 {
		return h.ChunkSize
	}
	return DefaultChunkSize
}

func (h *Upload) Handle(s *session.Session, body []byte) Result {
	chunk := h.chunkSize()

	if s.BodyOffset == 0 {
		s.Target = h.Oracle.ActiveBank().Other()
		if s.ContentLength > h.Layout.MaxImageSize {
			return Fail(ncerr.SizeError("Firmware image too large"))
		}
		if s.ContentLength < chunk {
			return Fail(ncerr.SizeError("Firmware too small"))
		}
	}

	// Every round writes a whole chunk, or the tail of the image, so
	// write addresses stay chunk-aligned from the partition base.
	n := min(chunk, s.Remaining())
	if len(body) < n {
		return More()
	}
	p := body[:n]
	target := s.Target

	if s.BodyOffset == 0 {
		if err := partition.Check(p, h.Layout.Class, target); err != nil {
			return Fail(ncerr.HeaderError(err))
		}
		s.Digest, _ = blake2b.New256(nil)
		h.Logger.Info("upload: %d bytes to bank %s at %#x", s.ContentLength, target, h.Layout.Base(target))
	}

	addr := h.Layout.Base(target) + uint32(s.BodyOffset)
	if addr%partition.SectorSize == 0 {
		if err := h.Flash.EraseSector(int(addr / partition.SectorSize)); err != nil {
			return Fail(ncerr.FlashError("Flash erase failed", err))
		}
		h.Metrics.SectorErased()
	}
	if err := h.Flash.Write(addr, p); err != nil {
		return Fail(ncerr.FlashError("Flash write failed", err))
	}
	h.Metrics.ChunkWritten(n)
	if s.Digest != nil {
		s.Digest.Write(p)
	}
	h.Logger.Debug("upload: wrote %d bytes at %#x", n, addr)

	if s.BodyOffset+n < s.ContentLength {
		return Consume(n)
	}

	h.Metrics.UploadCompleted()
	h.finish(s, target)
	return Respond(200, "")
}

func (h *Upload) finish(s *session.Session, target partition.Bank) {
	digest := ""
	if s.Digest != nil {
		digest = hex.EncodeToString(s.Digest.Sum(nil))
	}
	elapsed := time.Since(s.Started)
	h.Logger.With(zap.String("blake2b", digest)).Info(
		"upload: %s complete, %d bytes in %s", target.Name(), s.ContentLength, elapsed.Truncate(time.Millisecond))

	if h.Recorder == nil {
		return
	}
	err := h.Recorder.RecordUpload(journal.Upload{
		Bank:   target.String(),
		Image:  target.Name(),
		Size:   s.ContentLength,
		Digest: digest,
		Peer:   peerString(s),
		At:     time.Now(),
	})
	if err != nil {
		h.Logger.Warn("journal: %v", err)
	}
}

func peerString(s *session.Session) string {
	if a := s.Peer(); a != nil {
		return a.String()
	}
	return ""
}

// ValidateChunkSize reports whether size can be used as the chunk
// size.  The first chunk carries the whole image header, and chunks
// tile a sector so no write straddles an erase boundary.
func ValidateChunkSize(size int) error {
	switch {
	case size < partition.HeaderSize:
		return fmt.Errorf("chunk size %d is smaller than the %d-byte image header", size, partition.HeaderSize)
	case size > session.BufferSize:
		return fmt.Errorf("chunk size %d exceeds the %d-byte session buffer", size, session.BufferSize)
	case partition.SectorSize%size != 0:
		return fmt.Errorf("chunk size %d does not divide the %d-byte sector", size, partition.SectorSize)
	}
	return nil
}

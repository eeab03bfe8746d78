package handler

import (
	"time"

	"otad/internal/device"
	ncerr "otad/internal/errors"
	"otad/internal/journal"
	"otad/internal/metrics"
	"otad/internal/partition"
	"otad/internal/session"
	"otad/util"
)

// DefaultRebootDelay leaves the response time to reach the client
// before the device goes down.
const DefaultRebootDelay = 200 * time.Millisecond

// Reboot commits the inactive bank: it re-reads the image header from
// flash, and only when it validates flags the upgrade and arms a
// delayed reboot.  Both happen after the 200 response is on the wire.
type Reboot struct {
	Flash    device.Flash
	Oracle   device.Oracle
	Rebooter device.Rebooter
	Layout   partition.Descriptor
	Delay    time.Duration

	Recorder Recorder
	Metrics  *metrics.Collector
	Logger   *util.Logger
}

func (h *Reboot) Handle(s *session.Session, _ []byte) Result {
	target := h.Oracle.ActiveBank().Other()
	hdr, err := h.Flash.Read(h.Layout.Base(target), partition.HeaderSize)
	if err != nil {
		return Fail(ncerr.FlashError("Flash read failed", err))
	}
	if err := partition.Check(hdr, h.Layout.Class, target); err != nil {
		return Fail(ncerr.HeaderError(err))
	}

	peer := peerString(s)
	r := Respond(200, "")
	r.After = func() { h.commit(target, peer) }
	return r
}

func (h *Reboot) commit(target partition.Bank, peer string) {
	delay := h.Delay
	if delay <= 0 {
		delay = DefaultRebootDelay
	}
	h.Rebooter.SetUpgradePending()
	h.Rebooter.ArmReboot(delay)
	h.Metrics.RebootArmed()
	h.Logger.Info("reboot: committing bank %s (%s) in %s", target, target.Name(), delay)

	if h.Recorder == nil {
		return
	}
	if err := h.Recorder.RecordCommit(journal.Commit{Bank: target.String(), Peer: peer, At: time.Now()}); err != nil {
		h.Logger.Warn("journal: %v", err)
	}
}

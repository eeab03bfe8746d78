package handler

import (
	"otad/internal/device"
	"otad/internal/session"
)

// Next answers with the image name for the inactive bank, i.e. the
// file a client should upload next.
type Next struct {
	Oracle device.Oracle
}

func (h *Next) Handle(_ *session.Session, _ []byte) Result {
	return Respond(200, h.Oracle.ActiveBank().Other().Name())
}

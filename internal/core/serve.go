package core

import (
	"context"
	"io"
	"net"
	"time"

	"otad/internal/device"
	"otad/internal/handler"
	"otad/internal/journal"
	"otad/internal/metrics"
	"otad/internal/partition"
	"otad/internal/request"
	"otad/internal/transport"
	"otad/util"
)

// ServeMode runs the OTA endpoint on a host, with the flash, partition
// oracle and boot controller of a simulated device.
type ServeMode struct {
	Address     string // ":port"
	Layout      partition.Descriptor
	Flash       device.Flash
	Device      *device.Sim
	ChunkSize   int
	IdleTimeout time.Duration
	MaxConns    int
	RebootDelay time.Duration
	Journal     *journal.Journal // optional
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// Ready, when set, receives the bound address once listening.
	Ready chan<- net.Addr

	// closers are released when Run returns (flash file, journal).
	closers []io.Closer
}

// NewServer wires the route handlers to the mode's device.
func (m *ServeMode) NewServer() *Server {
	var rec handler.Recorder
	if m.Journal != nil {
		rec = m.Journal
	}
	return &Server{
		Routes: handler.Routes{
			request.RouteNext: &handler.Next{Oracle: m.Device},
			request.RouteUpload: &handler.Upload{
				Flash:     m.Flash,
				Oracle:    m.Device,
				Layout:    m.Layout,
				ChunkSize: m.ChunkSize,
				Recorder:  rec,
				Metrics:   m.Metrics,
				Logger:    m.Logger,
			},
			request.RouteReboot: &handler.Reboot{
				Flash:    m.Flash,
				Oracle:   m.Device,
				Rebooter: m.Device,
				Layout:   m.Layout,
				Delay:    m.RebootDelay,
				Recorder: rec,
				Metrics:  m.Metrics,
				Logger:   m.Logger,
			},
		},
		Logger:  m.Logger,
		Metrics: m.Metrics,
	}
}

// Run serves until ctx is cancelled.
func (m *ServeMode) Run(ctx context.Context) error {
	defer m.close()
	defer m.Device.Stop()

	srv := m.NewServer()
	l := &transport.Listener{
		Address:     m.Address,
		IdleTimeout: m.IdleTimeout,
		MaxConns:    m.MaxConns,
		Handler:     srv,
		Logger:      m.Logger,
		Metrics:     m.Metrics,
		Ready:       m.Ready,
	}
	m.Device.SetOnReboot(func(partition.Bank) { l.Do(srv.DeviceRebooted) })

	active := m.Device.ActiveBank()
	m.Logger.Info("device: flash class %d (%s), running %s from bank %s, next image %s",
		m.Layout.Class, m.Layout.Layout, active.Name(), active, active.Other().Name())

	err := l.Run(ctx)
	m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	return err
}

func (m *ServeMode) close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			m.Logger.Warn("close: %v", err)
		}
	}
	m.closers = nil
}

// Package metrics provides lightweight, lock-free counters for the OTA
// service: sessions, bytes on the wire, flash activity and errors.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for an otad process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	preempted      atomic.Int64
	aborted        atomic.Int64
	bytesIn        atomic.Int64
	bytesOut       atomic.Int64
	bytesFlashed   atomic.Int64
	chunksWritten  atomic.Int64
	sectorsErased  atomic.Int64
	uploadsDone    atomic.Int64
	rebootsArmed   atomic.Int64
	errorsTotal    atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// SessionPreempted records a session dropped for a newer connection.
func (c *Collector) SessionPreempted() {
	if c == nil {
		return
	}
	c.preempted.Add(1)
}

// SessionAborted records a session dropped without a response.
func (c *Collector) SessionAborted() {
	if c == nil {
		return
	}
	c.aborted.Add(1)
}

// ActiveSessions returns the current number of live sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// Preempted returns how many sessions were pre-empted.
func (c *Collector) Preempted() int64 {
	if c == nil {
		return 0
	}
	return c.preempted.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Flash metrics ────────────────────────────────────────────────────

// ChunkWritten records one flash write of n bytes.
func (c *Collector) ChunkWritten(n int) {
	if c == nil {
		return
	}
	c.chunksWritten.Add(1)
	c.bytesFlashed.Add(int64(n))
}

// SectorErased records one sector erase.
func (c *Collector) SectorErased() {
	if c == nil {
		return
	}
	c.sectorsErased.Add(1)
}

// UploadCompleted records a fully flashed image.
func (c *Collector) UploadCompleted() {
	if c == nil {
		return
	}
	c.uploadsDone.Add(1)
}

// RebootArmed records an accepted commit-and-reboot.
func (c *Collector) RebootArmed() {
	if c == nil {
		return
	}
	c.rebootsArmed.Add(1)
}

// BytesFlashed returns the number of bytes written to flash.
func (c *Collector) BytesFlashed() int64 {
	if c == nil {
		return 0
	}
	return c.bytesFlashed.Load()
}

// SectorsErased returns the number of erased sectors.
func (c *Collector) SectorsErased() int64 {
	if c == nil {
		return 0
	}
	return c.sectorsErased.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	SessionsPreempt  int64  `json:"sessions_preempted"`
	SessionsAborted  int64  `json:"sessions_aborted"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	BytesFlashed     int64  `json:"bytes_flashed"`
	ChunksWritten    int64  `json:"chunks_written"`
	SectorsErased    int64  `json:"sectors_erased"`
	UploadsCompleted int64  `json:"uploads_completed"`
	RebootsArmed     int64  `json:"reboots_armed"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:   c.sessionsActive.Load(),
		SessionsTotal:    c.sessionsTotal.Load(),
		SessionsPreempt:  c.preempted.Load(),
		SessionsAborted:  c.aborted.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		BytesFlashed:     c.bytesFlashed.Load(),
		ChunksWritten:    c.chunksWritten.Load(),
		SectorsErased:    c.sectorsErased.Load(),
		UploadsCompleted: c.uploadsDone.Load(),
		RebootsArmed:     c.rebootsArmed.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

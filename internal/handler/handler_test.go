package handler

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"otad/internal/device"
	"otad/internal/journal"
	"otad/internal/metrics"
	"otad/internal/partition"
	"otad/internal/request"
	"otad/internal/session"
)

const testClass = 2 // 512+512 layout

type fixedOracle partition.Bank

func (o fixedOracle) ActiveBank() partition.Bank { return partition.Bank(o) }

// flippingOracle reports from until its flip-th call, then the other
// bank, as a device does after rebooting under a live session.
type flippingOracle struct {
	from  partition.Bank
	flip  int
	calls int
}

func (o *flippingOracle) ActiveBank() partition.Bank {
	o.calls++
	if o.calls >= o.flip {
		return o.from.Other()
	}
	return o.from
}

type fakeRebooter struct {
	pending bool
	delay   time.Duration
	armed   int
}

func (r *fakeRebooter) SetUpgradePending()            { r.pending = true }
func (r *fakeRebooter) ArmReboot(delay time.Duration) { r.delay = delay; r.armed++ }

type memRecorder struct {
	uploads []journal.Upload
	commits []journal.Commit
	err     error
}

func (m *memRecorder) RecordUpload(u journal.Upload) error {
	m.uploads = append(m.uploads, u)
	return m.err
}

func (m *memRecorder) RecordCommit(c journal.Commit) error {
	m.commits = append(m.commits, c)
	return m.err
}

// failFlash wraps a MemFlash and fails the n-th write.
type failFlash struct {
	*device.MemFlash
	failWrite int
	failErase bool
	writes    int
}

func (f *failFlash) Write(addr uint32, p []byte) error {
	f.writes++
	if f.writes == f.failWrite {
		return errors.New("driver timeout")
	}
	return f.MemFlash.Write(addr, p)
}

func (f *failFlash) EraseSector(i int) error {
	if f.failErase {
		return errors.New("erase busy")
	}
	return f.MemFlash.EraseSector(i)
}

func layout(t *testing.T) partition.Descriptor {
	t.Helper()
	d, err := partition.Lookup(testClass)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// image returns an n-byte image with a valid header for the class and
// marker, followed by a recognisable byte pattern.
func image(n int, class int, marker byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	copy(p, partition.NewHeader(class, marker).Bytes())
	return p
}

func newUpload(t *testing.T, flash device.Flash, active partition.Bank) (*Upload, *metrics.Collector, *memRecorder) {
	t.Helper()
	m := metrics.New()
	rec := &memRecorder{}
	return &Upload{
		Flash:    flash,
		Oracle:   fixedOracle(active),
		Layout:   layout(t),
		Recorder: rec,
		Metrics:  m,
	}, m, rec
}

// feed appends body fragments to a session the way the connection
// manager does and returns the first terminal result, or the last
// result if none was terminal.
func feed(t *testing.T, h Handler, s *session.Session, body []byte, frag int) Result {
	t.Helper()
	var last Result
	for off := 0; off < len(body); off += frag {
		end := min(off+frag, len(body))
		if _, err := s.Buffer.Append(body[off:end]); err != nil {
			t.Fatalf("buffer overflow at %d: %v", off, err)
		}
		for {
			last = h.Handle(s, s.Buffer.Bytes())
			switch last.Outcome {
			case Terminal:
				return last
			case Consumed:
				s.Advance(last.N)
				continue
			}
			break
		}
	}
	return last
}

func uploadSession(contentLength int) *session.Session {
	s := session.New(nil)
	s.Begin(request.RouteUpload, contentLength)
	return s
}

func TestNext(t *testing.T) {
	tests := []struct {
		active partition.Bank
		want   string
	}{
		{partition.BankA, "user2.bin"},
		{partition.BankB, "user1.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.active.String(), func(t *testing.T) {
			r := (&Next{Oracle: fixedOracle(tt.active)}).Handle(session.New(nil), nil)
			if r.Outcome != Terminal || r.Status != 200 || r.Body != tt.want {
				t.Errorf("got %+v, want 200 %q", r, tt.want)
			}
		})
	}
}

func TestUpload_TooSmall(t *testing.T) {
	flash := device.NewMemFlash(layout(t).FlashSize)
	h, _, _ := newUpload(t, flash, partition.BankA)
	s := uploadSession(100)

	r := feed(t, h, s, image(100, testClass, partition.MarkerAny), 100)
	if r.Outcome != Terminal || r.Status != 400 || !strings.Contains(r.Body, "too small") {
		t.Fatalf("got %+v", r)
	}
	if n := len(flash.Writes()); n != 0 {
		t.Errorf("%d writes, want 0", n)
	}
}

func TestUpload_TargetFixedAtStart(t *testing.T) {
	d := layout(t)
	flash := device.NewMemFlash(d.FlashSize)
	running := image(4096, testClass, partition.MarkerBankA)
	flash.Load(d.Base(partition.BankA), running)

	h, _, _ := newUpload(t, flash, partition.BankA)
	h.Oracle = &flippingOracle{from: partition.BankA, flip: 3}
	img := image(1024, testClass, partition.MarkerBankB)
	s := uploadSession(len(img))

	r := feed(t, h, s, img, 256)
	if r.Outcome != Terminal || r.Status != 200 {
		t.Fatalf("got %+v", r)
	}
	base := d.Base(partition.BankB)
	for i, w := range flash.Writes() {
		if want := base + uint32(i*DefaultChunkSize); w.Addr != want {
			t.Errorf("write %d at %#x, want %#x", i, w.Addr, want)
		}
	}
	if got, _ := flash.Read(d.Base(partition.BankA), len(running)); !bytes.Equal(got, running) {
		t.Error("running bank was modified")
	}
	if got, _ := flash.Read(base, len(img)); !bytes.Equal(got, img) {
		t.Error("bank B does not hold the image")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	flash := device.NewMemFlash(layout(t).FlashSize)
	h, _, _ := newUpload(t, flash, partition.BankA)
	s := uploadSession(layout(t).MaxImageSize + 1)

	r := h.Handle(s, nil)
	if r.Outcome != Terminal || r.Status != 400 || !strings.Contains(r.Body, "too large") {
		t.Fatalf("got %+v", r)
	}
}

func TestUpload_FragmentedImage(t *testing.T) {
	tests := []struct {
		name string
		size int
		frag int
	}{
		{"37-byte fragments", 2048, 37},
		{"single bytes", 600, 1},
		{"one big delivery", 512, 512},
		{"partial tail", 1000, 64},
		{"exactly one chunk", 256, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := layout(t)
			flash := device.NewMemFlash(d.FlashSize)
			h, m, rec := newUpload(t, flash, partition.BankA)
			img := image(tt.size, testClass, partition.MarkerBankB)
			s := uploadSession(tt.size)

			r := feed(t, h, s, img, tt.frag)
			if r.Outcome != Terminal || r.Status != 200 || r.Body != "" {
				t.Fatalf("final result %+v", r)
			}

			writes := flash.Writes()
			want := (tt.size + DefaultChunkSize - 1) / DefaultChunkSize
			if len(writes) != want {
				t.Fatalf("%d writes, want %d", len(writes), want)
			}
			for i, w := range writes {
				if w.Addr != d.Base(partition.BankB)+uint32(i*DefaultChunkSize) {
					t.Errorf("write %d at %#x", i, w.Addr)
				}
			}
			got, _ := flash.Read(d.Base(partition.BankB), tt.size)
			if !bytes.Equal(got, img) {
				t.Error("flash contents differ from image")
			}
			if m.BytesFlashed() != int64(tt.size) {
				t.Errorf("BytesFlashed = %d", m.BytesFlashed())
			}
			if len(rec.uploads) != 1 || rec.uploads[0].Bank != "B" || rec.uploads[0].Size != tt.size {
				t.Errorf("recorder got %+v", rec.uploads)
			}
			if len(rec.uploads[0].Digest) != 64 {
				t.Errorf("digest %q", rec.uploads[0].Digest)
			}
		})
	}
}

func TestUpload_ErasesEachSectorOnce(t *testing.T) {
	d := layout(t)
	flash := device.NewMemFlash(d.FlashSize)
	h, m, _ := newUpload(t, flash, partition.BankB)
	size := 3*partition.SectorSize + 100
	s := uploadSession(size)

	r := feed(t, h, s, image(size, testClass, partition.MarkerBankA), 200)
	if r.Status != 200 {
		t.Fatalf("got %+v", r)
	}
	first := int(d.Base(partition.BankA) / partition.SectorSize)
	want := []int{first, first + 1, first + 2, first + 3}
	got := flash.Erases()
	if len(got) != len(want) {
		t.Fatalf("erases %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("erase %d = %d, want %d", i, got[i], want[i])
		}
	}
	if m.SectorsErased() != 4 {
		t.Errorf("SectorsErased = %d", m.SectorsErased())
	}
}

func TestUpload_HeaderRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p []byte)
		want   string
	}{
		{"bad magic", func(p []byte) { p[0] = 0xE9 }, "IROM magic missing"},
		{"wrong bank", func(p []byte) { copy(p, partition.NewHeader(testClass, partition.MarkerBankA).Bytes()) }, "wrong partition"},
		{"size class", func(p []byte) { copy(p, partition.NewHeader(4, partition.MarkerAny).Bytes()) }, "flash size mismatch"},
		{"start offset", func(p []byte) { p[8] = 1 }, "invalid start offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flash := device.NewMemFlash(layout(t).FlashSize)
			h, _, rec := newUpload(t, flash, partition.BankA)
			img := image(1024, testClass, partition.MarkerAny)
			tt.mutate(img)
			s := uploadSession(len(img))

			r := feed(t, h, s, img, 37)
			if r.Outcome != Terminal || r.Status != 400 || !strings.Contains(r.Body, tt.want) {
				t.Fatalf("got %+v, want 400 %q", r, tt.want)
			}
			if n := len(flash.Writes()); n != 0 {
				t.Errorf("%d writes, want 0", n)
			}
			if len(flash.Erases()) != 0 || len(rec.uploads) != 0 {
				t.Error("rejected image touched flash or journal")
			}
		})
	}
}

func TestUpload_FlashFailure(t *testing.T) {
	d := layout(t)

	t.Run("write", func(t *testing.T) {
		flash := &failFlash{MemFlash: device.NewMemFlash(d.FlashSize), failWrite: 3}
		h, _, _ := newUpload(t, flash, partition.BankA)
		r := feed(t, h, uploadSession(1024), image(1024, testClass, partition.MarkerAny), 64)
		if r.Status != 500 || r.Body != "Flash write failed" {
			t.Errorf("got %+v", r)
		}
		if r.Err == nil {
			t.Error("cause dropped")
		}
	})

	t.Run("erase", func(t *testing.T) {
		flash := &failFlash{MemFlash: device.NewMemFlash(d.FlashSize), failErase: true}
		h, _, _ := newUpload(t, flash, partition.BankA)
		r := feed(t, h, uploadSession(1024), image(1024, testClass, partition.MarkerAny), 256)
		if r.Status != 500 || r.Body != "Flash erase failed" {
			t.Errorf("got %+v", r)
		}
		if flash.writes != 0 {
			t.Errorf("%d writes after failed erase", flash.writes)
		}
	})
}

func TestUpload_CustomChunkSize(t *testing.T) {
	flash := device.NewMemFlash(layout(t).FlashSize)
	h, _, _ := newUpload(t, flash, partition.BankA)
	h.ChunkSize = 128
	r := feed(t, h, uploadSession(1000), image(1000, testClass, partition.MarkerAny), 50)
	if r.Status != 200 {
		t.Fatalf("got %+v", r)
	}
	if n := len(flash.Writes()); n != 8 {
		t.Errorf("%d writes, want 8", n)
	}
}

func TestValidateChunkSize(t *testing.T) {
	for _, ok := range []int{16, 128, 256, 512} {
		if err := ValidateChunkSize(ok); err != nil {
			t.Errorf("%d: %v", ok, err)
		}
	}
	for _, bad := range []int{0, -1, 1, 2, 4, 8, 100, 1024} {
		if err := ValidateChunkSize(bad); err == nil {
			t.Errorf("%d accepted", bad)
		}
	}
}

func newReboot(t *testing.T, flash device.Flash, active partition.Bank) (*Reboot, *fakeRebooter, *memRecorder) {
	t.Helper()
	rb := &fakeRebooter{}
	rec := &memRecorder{}
	return &Reboot{
		Flash:    flash,
		Oracle:   fixedOracle(active),
		Rebooter: rb,
		Layout:   layout(t),
		Delay:    50 * time.Millisecond,
		Recorder: rec,
		Metrics:  metrics.New(),
	}, rb, rec
}

func TestReboot_Valid(t *testing.T) {
	d := layout(t)
	flash := device.NewMemFlash(d.FlashSize)
	flash.Load(d.Base(partition.BankB), partition.NewHeader(testClass, partition.MarkerBankB).Bytes())
	h, rb, rec := newReboot(t, flash, partition.BankA)

	r := h.Handle(session.New(nil), nil)
	if r.Outcome != Terminal || r.Status != 200 || r.Body != "" {
		t.Fatalf("got %+v", r)
	}
	if rb.pending || rb.armed != 0 {
		t.Fatal("committed before the response was sent")
	}
	if r.After == nil {
		t.Fatal("no commit hook")
	}
	r.After()
	if !rb.pending || rb.armed != 1 || rb.delay != 50*time.Millisecond {
		t.Errorf("rebooter state %+v", rb)
	}
	if len(rec.commits) != 1 || rec.commits[0].Bank != "B" {
		t.Errorf("commits %+v", rec.commits)
	}
}

func TestReboot_InvalidHeader(t *testing.T) {
	d := layout(t)
	tests := []struct {
		name   string
		header []byte
	}{
		{"erased bank", nil},
		{"image for other bank", partition.NewHeader(testClass, partition.MarkerBankA).Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flash := device.NewMemFlash(d.FlashSize)
			if tt.header != nil {
				flash.Load(d.Base(partition.BankB), tt.header)
			}
			h, rb, rec := newReboot(t, flash, partition.BankA)
			r := h.Handle(session.New(nil), nil)
			if r.Status != 400 || r.After != nil {
				t.Fatalf("got %+v", r)
			}
			if rb.pending || rb.armed != 0 || len(rec.commits) != 0 {
				t.Error("invalid bank was committed")
			}
		})
	}
}

func TestReboot_DefaultDelay(t *testing.T) {
	d := layout(t)
	flash := device.NewMemFlash(d.FlashSize)
	flash.Load(d.Base(partition.BankA), partition.NewHeader(testClass, partition.MarkerAny).Bytes())
	h, rb, _ := newReboot(t, flash, partition.BankB)
	h.Delay = 0
	h.Recorder = nil

	r := h.Handle(session.New(nil), nil)
	r.After()
	if rb.delay != DefaultRebootDelay {
		t.Errorf("delay = %v", rb.delay)
	}
}

func TestRoundTrip_UploadThenReboot(t *testing.T) {
	d := layout(t)
	flash := device.NewMemFlash(d.FlashSize)
	sim := device.NewSim(partition.BankA, nil)
	defer sim.Stop()

	up := &Upload{Flash: flash, Oracle: sim, Layout: d}
	img := image(3000, testClass, partition.MarkerBankB)
	if r := feed(t, up, uploadSession(len(img)), img, 301); r.Status != 200 {
		t.Fatalf("upload: %+v", r)
	}

	rb := &Reboot{Flash: flash, Oracle: sim, Rebooter: sim, Layout: d, Delay: time.Millisecond}
	r := rb.Handle(session.New(nil), nil)
	if r.Status != 200 {
		t.Fatalf("reboot: %+v", r)
	}
	r.After()

	deadline := time.Now().Add(2 * time.Second)
	for sim.Boots() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sim.ActiveBank() != partition.BankB {
		t.Errorf("active bank = %s after commit", sim.ActiveBank())
	}
	if got := (&Next{Oracle: sim}).Handle(session.New(nil), nil).Body; got != "user1.bin" {
		t.Errorf("next after reboot = %q", got)
	}
}

func TestOutcomeString(t *testing.T) {
	if NeedMoreData.String() != "need-more-data" || Consumed.String() != "consumed" || Terminal.String() != "terminal" {
		t.Error("outcome names")
	}
}

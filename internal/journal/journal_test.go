package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_EmptyHasNoCommit(t *testing.T) {
	j := openTemp(t)
	if _, ok, err := j.LastCommit(); err != nil || ok {
		t.Fatalf("LastCommit = ok=%v err=%v, want none", ok, err)
	}
}

func TestJournal_LastCommitWins(t *testing.T) {
	j := openTemp(t)
	now := time.Now()
	for _, bank := range []string{"B", "A", "B"} {
		if err := j.RecordCommit(Commit{Bank: bank, Peer: "10.0.0.2:5000", At: now}); err != nil {
			t.Fatal(err)
		}
	}
	c, ok, err := j.LastCommit()
	if err != nil || !ok {
		t.Fatalf("LastCommit: ok=%v err=%v", ok, err)
	}
	if c.Bank != "B" || c.Peer != "10.0.0.2:5000" {
		t.Errorf("got %+v", c)
	}
	if c.At.UnixMilli() != now.UnixMilli() {
		t.Errorf("time not preserved: %v vs %v", c.At, now)
	}
}

func TestJournal_Uploads(t *testing.T) {
	j := openTemp(t)
	for i, size := range []int{4096, 8192, 300} {
		err := j.RecordUpload(Upload{
			Bank: "B", Image: "user2.bin", Size: size,
			Digest: "ab", At: time.Unix(int64(i), 0),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	ups, err := j.Uploads(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) != 2 {
		t.Fatalf("len = %d, want 2", len(ups))
	}
	if ups[0].Size != 300 || ups[1].Size != 8192 {
		t.Errorf("not newest first: %+v", ups)
	}
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordCommit(Commit{Bank: "A", At: time.Now()}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	c, ok, err := j2.LastCommit()
	if err != nil || !ok || c.Bank != "A" {
		t.Errorf("after reopen: %+v ok=%v err=%v", c, ok, err)
	}
}
